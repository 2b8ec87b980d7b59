package identity

import "testing"

func TestIsAuthorizedMostSpecificMatch(t *testing.T) {
	id := NewIdentity("u1", "User One", "u1@example.com")
	id.Allow("myorg", "", "", Read)
	id.Allow("myorg", "somerepo", "deadbeef", Write)

	if !id.IsAuthorized("myorg", "otherrepo", Read, "anything") {
		t.Fatal("expected org-wide READ grant to apply to any repo/oid")
	}
	if id.IsAuthorized("myorg", "otherrepo", Write, "anything") {
		t.Fatal("did not expect org-wide grant to imply WRITE")
	}
	if !id.IsAuthorized("myorg", "somerepo", Write, "deadbeef") {
		t.Fatal("expected exact-oid WRITE grant to apply")
	}
	if id.IsAuthorized("myorg", "somerepo", Write, "otheroid") {
		t.Fatal("did not expect oid-specific grant to leak to a different oid")
	}
	if id.IsAuthorized("otherorg", "somerepo", Read, "deadbeef") {
		t.Fatal("did not expect grants to leak across orgs")
	}
}

func TestReadImpliesReadMeta(t *testing.T) {
	id := NewIdentity("u1", "", "")
	id.Allow("org", "repo", "", Read)

	if !id.IsAuthorized("org", "repo", ReadMeta, "oid") {
		t.Fatal("READ should imply READ_META")
	}
}

func TestAllowIsMonotonic(t *testing.T) {
	id := NewIdentity("u1", "", "")
	id.Allow("org", "repo", "oid", Read)
	id.Allow("org", "repo", "oid", Write)

	if !id.IsAuthorized("org", "repo", Read, "oid") {
		t.Fatal("earlier grant must survive a later, additive allow call")
	}
	if !id.IsAuthorized("org", "repo", Write, "oid") {
		t.Fatal("later grant must also apply")
	}
}

func TestAnonymousIdentity(t *testing.T) {
	ro := NewAnonymousIdentity(false)
	if !ro.IsAuthorized("any", "any", Read, "any") {
		t.Fatal("read-only anonymous identity should grant READ")
	}
	if ro.IsAuthorized("any", "any", Write, "any") {
		t.Fatal("read-only anonymous identity should not grant WRITE")
	}

	rw := NewAnonymousIdentity(true)
	if !rw.IsAuthorized("any", "any", Write, "any") {
		t.Fatal("read-write anonymous identity should grant WRITE")
	}
}
