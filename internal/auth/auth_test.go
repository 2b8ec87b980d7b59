package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lfsgate/lfsgate/internal/apierr"
	"github.com/lfsgate/lfsgate/internal/identity"
)

type stubAuthenticator struct {
	id  identity.Identity
	err error
}

func (s stubAuthenticator) Authenticate(r *http.Request) (identity.Identity, error) {
	return s.id, s.err
}

func TestChainReturnsFirstNonNilIdentity(t *testing.T) {
	want := identity.NewAnonymousIdentity(true)
	chain := NewChain(nil, []Authenticator{
		stubAuthenticator{},
		stubAuthenticator{id: want},
		stubAuthenticator{id: identity.NewAnonymousIdentity(false)},
	}, nil)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	got, err := chain.Authenticate(r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Errorf("expected the first non-nil identity to win")
	}
}

func TestChainShortCircuitsOnError(t *testing.T) {
	chain := NewChain(nil, []Authenticator{
		stubAuthenticator{err: apierr.NewUnauthorized("bad credentials")},
		stubAuthenticator{id: identity.NewAnonymousIdentity(true)},
	}, nil)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	_, err := chain.Authenticate(r)
	if err == nil {
		t.Error("expected the chain to short-circuit on the first error")
	}
}

func TestChainFallsBackToDefaultIdentity(t *testing.T) {
	def := identity.NewAnonymousIdentity(false)
	chain := NewChain(nil, []Authenticator{stubAuthenticator{}}, def)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	got, err := chain.Authenticate(r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != def {
		t.Error("expected the default identity when every authenticator abstains")
	}
}

func TestChainPreAuthPlacedFirst(t *testing.T) {
	jwtAuth := NewJWTAuthenticator()
	chain := NewChain(jwtAuth, []Authenticator{stubAuthenticator{}}, nil)

	if chain.PreAuthHandler() != jwtAuth {
		t.Error("expected the chain's pre-authorizer to be the JWT authenticator")
	}
}

func TestChainPreAuthHandlerNilWhenNoneConfigured(t *testing.T) {
	chain := NewChain(nil, []Authenticator{stubAuthenticator{}}, nil)
	if chain.PreAuthHandler() != nil {
		t.Error("expected a nil PreAuthHandler when no authenticator implements it")
	}
}

func TestStaticBasicAuthenticatorAbstainsWithoutCredentials(t *testing.T) {
	a := NewStaticBasicAuthenticator("u", "p", true)
	r := httptest.NewRequest(http.MethodGet, "/", nil)

	id, err := a.Authenticate(r)
	if id != nil || err != nil {
		t.Errorf("expected abstain (nil, nil), got %v, %v", id, err)
	}
}

func TestStaticBasicAuthenticatorRejectsWrongCredentials(t *testing.T) {
	a := NewStaticBasicAuthenticator("u", "p", true)
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.SetBasicAuth("u", "wrong")

	if _, err := a.Authenticate(r); err == nil {
		t.Error("expected an error for wrong credentials")
	}
}

func TestStaticBasicAuthenticatorAcceptsMatchingCredentials(t *testing.T) {
	a := NewStaticBasicAuthenticator("u", "p", true)
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.SetBasicAuth("u", "p")

	id, err := a.Authenticate(r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id == nil {
		t.Fatal("expected a non-nil identity for matching credentials")
	}
}
