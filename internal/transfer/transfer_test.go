package transfer

import (
	"context"
	"testing"
)

type stubAdapter struct{ name string }

func (s stubAdapter) Upload(ctx context.Context, pre PreAuth, origin, org, repo, oid string, size int64, extra map[string]string) (ObjectResponse, error) {
	return ObjectResponse{OID: oid}, nil
}

func (s stubAdapter) Download(ctx context.Context, pre PreAuth, origin, org, repo, oid string, size int64, extra map[string]string) (ObjectResponse, error) {
	return ObjectResponse{OID: oid}, nil
}

func TestRegistryMatchPrefersClientOrder(t *testing.T) {
	r := NewRegistry()
	r.Register("basic", stubAdapter{name: "basic"})
	r.Register("multipart-basic", stubAdapter{name: "multipart"})

	name, adapter, err := r.Match([]string{"multipart-basic", "basic"})
	if err != nil {
		t.Fatalf("Match returned error: %v", err)
	}
	if name != "multipart-basic" || adapter == nil {
		t.Errorf("expected multipart-basic to win by client preference order, got %q", name)
	}
}

func TestRegistryMatchFallsBackToBasic(t *testing.T) {
	r := NewRegistry()
	r.Register("basic", stubAdapter{name: "basic"})

	name, _, err := r.Match([]string{"multipart-basic", "basic"})
	if err != nil {
		t.Fatalf("Match returned error: %v", err)
	}
	if name != "basic" {
		t.Errorf("expected to fall back to basic, got %q", name)
	}
}

func TestRegistryMatchNoneAvailable(t *testing.T) {
	r := NewRegistry()
	r.Register("basic", stubAdapter{name: "basic"})

	if _, _, err := r.Match([]string{"multipart-basic"}); err == nil {
		t.Error("expected an error when no adapter matches")
	}
}

func TestPreAuthProvidesFalseWithoutHandler(t *testing.T) {
	var pre PreAuth
	if pre.Provides() {
		t.Error("expected Provides() to be false with a zero-value PreAuth")
	}
	if pre.Headers("org", "repo", []string{"read"}, "oid", 0) != nil {
		t.Error("expected nil headers without a handler")
	}
}
