package auth

import "testing"

func TestParseScopeFullForm(t *testing.T) {
	s := ParseScope("obj:myorg/somerepo/abc123:metadata:read,verify")
	if s.EntityType != "obj" {
		t.Errorf("expected entity type obj, got %q", s.EntityType)
	}
	org, repo, oid := s.EntityParts()
	if org != "myorg" || repo != "somerepo" || oid != "abc123" {
		t.Errorf("unexpected entity parts: %q %q %q", org, repo, oid)
	}
	if s.Subscope != "metadata" {
		t.Errorf("expected subscope metadata, got %q", s.Subscope)
	}
	if len(s.Actions) != 2 {
		t.Errorf("expected 2 actions, got %v", s.Actions)
	}
}

func TestParseScopeWildcardEntity(t *testing.T) {
	s := ParseScope("obj:*:read")
	org, repo, oid := s.EntityParts()
	if org != "" || repo != "" || oid != "" {
		t.Errorf("expected an all-wildcard entity, got %q %q %q", org, repo, oid)
	}
	if len(s.Actions) != 1 || s.Actions[0] != "read" {
		t.Errorf("expected [read], got %v", s.Actions)
	}
}

func TestParseScopeEntityOnly(t *testing.T) {
	s := ParseScope("obj:myorg/somerepo/abc123")
	if s.EntityRef != "myorg/somerepo/abc123" {
		t.Errorf("expected entity ref to be preserved, got %q", s.EntityRef)
	}
	if len(s.Actions) != 0 {
		t.Errorf("expected no actions, got %v", s.Actions)
	}
}

func TestScopeStringRoundTripsCanonically(t *testing.T) {
	s := NewObjectScope("myorg", "somerepo", "abc123", []string{"write", "read"})
	str := s.String()
	if str != "obj:myorg/somerepo/abc123:read,write" {
		t.Errorf("expected canonical sorted actions, got %q", str)
	}

	reparsed := ParseScope(str)
	if reparsed.EntityRef != s.EntityRef {
		t.Errorf("expected entity ref to round-trip, got %q vs %q", reparsed.EntityRef, s.EntityRef)
	}
}

func TestNewObjectScopeWildcardOID(t *testing.T) {
	s := NewObjectScope("myorg", "somerepo", "", []string{"read"})
	_, _, oid := s.EntityParts()
	if oid != "" {
		t.Errorf("expected empty oid from a wildcarded scope, got %q", oid)
	}
}

func TestEntityPartsTwoSegment(t *testing.T) {
	s := Scope{EntityRef: "myorg/somerepo"}
	org, repo, oid := s.EntityParts()
	if org != "myorg" || repo != "somerepo" || oid != "" {
		t.Errorf("unexpected two-segment entity parts: %q %q %q", org, repo, oid)
	}
}

func TestEntityPartsOneSegment(t *testing.T) {
	s := Scope{EntityRef: "abc123"}
	org, repo, oid := s.EntityParts()
	if org != "" || repo != "" || oid != "abc123" {
		t.Errorf("unexpected one-segment entity parts: %q %q %q", org, repo, oid)
	}
}
