package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lfsgate/lfsgate/internal/identity"
)

func newHMACAuthenticator() *JWTAuthenticator {
	j := NewJWTAuthenticator()
	j.PrivateKey = []byte("test-secret-key")
	return j
}

func TestJWTRoundTripGrantsReadAndVerify(t *testing.T) {
	j := newHMACAuthenticator()
	id := identity.NewIdentity("u1", "User One", "u1@example.com")

	headers, err := j.GetAuthzHeader(id, "myorg", "somerepo", []string{"read"}, "abc123", 60)
	if err != nil {
		t.Fatalf("GetAuthzHeader failed: %v", err)
	}

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", headers["Authorization"])

	got, err := j.Authenticate(r)
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected a non-nil identity from a valid token")
	}
	if !got.IsAuthorized("myorg", "somerepo", identity.Read, "abc123") {
		t.Error("expected read permission on the granted object")
	}
	if !got.IsAuthorized("myorg", "somerepo", identity.ReadMeta, "abc123") {
		t.Error("expected read-meta (verify) permission on the granted object")
	}
	if got.IsAuthorized("myorg", "somerepo", identity.Write, "abc123") {
		t.Error("expected no write permission from a read-only scope")
	}
}

func TestJWTAuthenticateAbstainsWithoutToken(t *testing.T) {
	j := newHMACAuthenticator()
	r := httptest.NewRequest(http.MethodGet, "/", nil)

	id, err := j.Authenticate(r)
	if id != nil || err != nil {
		t.Errorf("expected abstain (nil, nil), got %v, %v", id, err)
	}
}

func TestJWTAuthenticateRejectsTamperedToken(t *testing.T) {
	j := newHMACAuthenticator()
	id := identity.NewIdentity("u1", "User One", "")
	headers, err := j.GetAuthzHeader(id, "myorg", "somerepo", []string{"read"}, "abc123", 60)
	if err != nil {
		t.Fatalf("GetAuthzHeader failed: %v", err)
	}

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", headers["Authorization"]+"tampered")

	if _, err := j.Authenticate(r); err == nil {
		t.Error("expected an error for a tampered token")
	}
}

func TestJWTQueryParamCarrier(t *testing.T) {
	j := newHMACAuthenticator()
	id := identity.NewIdentity("u1", "User One", "")
	params, err := j.GetAuthzQueryParams(id, "myorg", "somerepo", []string{"read"}, "abc123", 60)
	if err != nil {
		t.Fatalf("GetAuthzQueryParams failed: %v", err)
	}

	r := httptest.NewRequest(http.MethodGet, "/?jwt="+params["jwt"], nil)
	got, err := j.Authenticate(r)
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected a non-nil identity from the jwt query param")
	}
}

func TestJWTWriteScopeDoesNotGrantRead(t *testing.T) {
	j := newHMACAuthenticator()
	id := identity.NewIdentity("u1", "User One", "")
	headers, err := j.GetAuthzHeader(id, "myorg", "somerepo", []string{"write"}, "abc123", 60)
	if err != nil {
		t.Fatalf("GetAuthzHeader failed: %v", err)
	}

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", headers["Authorization"])
	got, err := j.Authenticate(r)
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if got.IsAuthorized("myorg", "somerepo", identity.Read, "abc123") {
		t.Error("expected no read permission from a write-only scope")
	}
	if !got.IsAuthorized("myorg", "somerepo", identity.Write, "abc123") {
		t.Error("expected write permission from a write scope")
	}
}
