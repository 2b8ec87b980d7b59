package auth

import (
	"net/http"

	"github.com/lfsgate/lfsgate/internal/apierr"
	"github.com/lfsgate/lfsgate/internal/identity"
)

// StaticBasicAuthenticator authenticates HTTP Basic credentials against a
// fixed username/password, granting a configured permission set on match.
// One chain-position Authenticator among several, rather than the sole
// auth mechanism; it returns the Identity directly instead of stashing it
// in request context.
type StaticBasicAuthenticator struct {
	username string
	password string
	writable bool
}

func NewStaticBasicAuthenticator(username, password string, writable bool) *StaticBasicAuthenticator {
	return &StaticBasicAuthenticator{username: username, password: password, writable: writable}
}

// Authenticate returns nil, nil (abstain) when no Basic credentials are
// present at all, so the chain can fall through to the next authenticator;
// it only fails hard when credentials are present but wrong.
func (a *StaticBasicAuthenticator) Authenticate(r *http.Request) (identity.Identity, error) {
	username, password, ok := r.BasicAuth()
	if !ok {
		return nil, nil
	}
	if username != a.username || password != a.password {
		return nil, apierr.NewUnauthorized("invalid credentials")
	}
	return identity.NewAnonymousIdentity(a.writable), nil
}
