// Package transfer implements the negotiable transfer adapters (basic
// streaming, basic external, multipart) that the batch endpoint selects
// between based on a request's requested transfer list.
package transfer

import (
	"context"
	"fmt"
	"time"

	"github.com/lfsgate/lfsgate/internal/auth"
	"github.com/lfsgate/lfsgate/internal/identity"
	"github.com/lfsgate/lfsgate/internal/storage"
)

// verifyLifetime is long relative to action_lifetime: the client may need
// to upload a large object before it can call back to verify it.
const verifyLifetime = 12 * time.Hour

// ObjectError is the per-object error shape embedded in a batch response
// when an individual object can't be actioned, distinct from a whole-batch
// failure.
type ObjectError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ObjectResponse is one object entry of a batch response: an actionable set
// of hrefs, an error, or neither (an upload of an object already stored).
type ObjectResponse struct {
	OID           string                    `json:"oid"`
	Size          int64                     `json:"size"`
	Authenticated bool                      `json:"authenticated,omitempty"`
	Actions       map[string]storage.Action `json:"actions,omitempty"`
	// Parts carries the multipart adapter's per-part upload plan; it's
	// empty for every other adapter.
	Parts []storage.Part `json:"parts,omitempty"`
	Error *ObjectError   `json:"error,omitempty"`
}

// Adapter tells the batch endpoint how to respond to upload/download
// requests for one transfer method ("basic", "multipart", ...). origin is
// "scheme://host/<repo-route-prefix>" for the current request (honoring
// X-Forwarded-Proto, and whichever of the canonical ".git/info/lfs" or
// legacy route prefix the client used), computed once per request by the
// batch handler's requestBase so every adapter's object/verify hrefs
// reflect the prefix the client actually reached the server on.
type Adapter interface {
	Upload(ctx context.Context, pre PreAuth, origin, org, repo, oid string, size int64, extra map[string]string) (ObjectResponse, error)
	Download(ctx context.Context, pre PreAuth, origin, org, repo, oid string, size int64, extra map[string]string) (ObjectResponse, error)
}

// PreAuth carries the chain's pre-authorizing authenticator (if any)
// together with the identity of the current caller, so an adapter can mint
// scoped credentials for the action URLs it returns without needing to
// know which concrete authenticator, if any, provides that capability.
type PreAuth struct {
	Handler  auth.PreAuthorizer
	Identity identity.Identity
}

// Provides reports whether this request's pre-authorization actually
// produces credentials, surfaced to clients as the "authenticated" flag.
func (p PreAuth) Provides() bool {
	return p.Handler != nil && p.Identity != nil
}

func (p PreAuth) Headers(org, repo string, actions []string, oid string, lifetime time.Duration) map[string]string {
	if !p.Provides() {
		return nil
	}
	headers, err := p.Handler.GetAuthzHeader(p.Identity, org, repo, actions, oid, int(lifetime.Seconds()))
	if err != nil {
		return nil
	}
	return headers
}

func (p PreAuth) QueryParams(org, repo string, actions []string, oid string, lifetime time.Duration) map[string]string {
	if !p.Provides() {
		return nil
	}
	params, err := p.Handler.GetAuthzQueryParams(p.Identity, org, repo, actions, oid, int(lifetime.Seconds()))
	if err != nil {
		return nil
	}
	return params
}

// Registry holds the set of transfer adapters a server instance was
// configured with, keyed by the name clients request in "transfers".
type Registry struct {
	adapters map[string]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

func (r *Registry) Register(name string, adapter Adapter) {
	r.adapters[name] = adapter
}

// Match picks the first adapter the client's requested transfer list has
// in common with the registry, in the client's preference order.
func (r *Registry) Match(transfers []string) (string, Adapter, error) {
	for _, t := range transfers {
		if a, ok := r.adapters[t]; ok {
			return t, a, nil
		}
	}
	return "", nil, fmt.Errorf("unable to match any transfer adapter: %v", transfers)
}
