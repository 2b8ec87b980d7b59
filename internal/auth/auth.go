// Package auth implements the authenticator chain, the JWT pre-authorizing
// authenticator, and the GitHub proxy authenticator.
package auth

import (
	"net/http"

	"github.com/lfsgate/lfsgate/internal/identity"
)

// Authenticator resolves a request into an Identity. Returning (nil, nil)
// means "no opinion, try the next authenticator in the chain". Returning a
// non-nil error short-circuits the chain with that failure.
type Authenticator interface {
	Authenticate(r *http.Request) (identity.Identity, error)
}

// PreAuthorizer is the optional capability an Authenticator may implement:
// minting short-lived credentials that transfer adapters embed in action
// URLs/headers so clients can re-enter the server without re-authenticating
// against the original authority.
type PreAuthorizer interface {
	GetAuthzQueryParams(id identity.Identity, org, repo string, actions []string, oid string, lifetimeSeconds int) (map[string]string, error)
	GetAuthzHeader(id identity.Identity, org, repo string, actions []string, oid string, lifetimeSeconds int) (map[string]string, error)
}

// Chain is the ordered authenticator list plus the optional default
// identity used when every authenticator abstains. A PreAuthorizer, if
// configured, is consulted first — pushed to the front of the list.
type Chain struct {
	authenticators []Authenticator
	defaultID      identity.Identity
}

// NewChain builds a chain. If preAuth implements Authenticator it is
// placed first; the remaining authenticators follow in the given order.
func NewChain(preAuth Authenticator, others []Authenticator, defaultID identity.Identity) *Chain {
	var all []Authenticator
	if preAuth != nil {
		all = append(all, preAuth)
	}
	all = append(all, others...)
	return &Chain{authenticators: all, defaultID: defaultID}
}

// Authenticate walks the chain in order; the first non-nil identity wins.
// An explicit error short-circuits with "no identity" (the caller is
// expected to propagate the error as Unauthorized). If every authenticator
// abstains, the chain's configured default identity is returned (which may
// itself be nil, meaning "anonymous, no permissions").
func (c *Chain) Authenticate(r *http.Request) (identity.Identity, error) {
	for _, a := range c.authenticators {
		id, err := a.Authenticate(r)
		if err != nil {
			return nil, err
		}
		if id != nil {
			return id, nil
		}
	}
	return c.defaultID, nil
}

// PreAuthHandler returns the chain's pre-authorizing authenticator, or nil
// if none of its authenticators implement PreAuthorizer. Transfer adapters
// use this to embed credentials without knowing which concrete
// authenticator (if any) provides it.
func (c *Chain) PreAuthHandler() PreAuthorizer {
	for _, a := range c.authenticators {
		if p, ok := a.(PreAuthorizer); ok {
			return p
		}
	}
	return nil
}
