package transfer

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/lfsgate/lfsgate/internal/storage"
)

// BasicStreaming offers "basic" transfers by streaming uploads/downloads
// through this server itself, backed by a storage.Streaming implementation
// (only the local backend, in practice), generalized to go through the
// storage interface instead of a single hardcoded content store.
type BasicStreaming struct {
	Storage        storage.Streaming
	ActionLifetime int // seconds
}

func NewBasicStreaming(s storage.Streaming, actionLifetime int) *BasicStreaming {
	return &BasicStreaming{Storage: s, ActionLifetime: actionLifetime}
}

// StreamingBackend exposes the underlying storage.Streaming backend so the
// server can mount the object-storage endpoints (PUT/GET/verify) that this
// adapter's action URLs point at.
func (b *BasicStreaming) StreamingBackend() storage.Streaming {
	return b.Storage
}

// objectsURL and verifyURL build hrefs under the repo route prefix the
// current request arrived on — origin is already
// "scheme://host/<repo-route-prefix>" (see batch.requestBase), so these
// adapters never hardcode ".git/info/lfs" vs. the legacy prefix
// themselves; whichever prefix the client used is the one reflected back.
func objectsURL(origin, oid string) string {
	return fmt.Sprintf("%s/objects/storage/%s", origin, oid)
}

func verifyURL(origin string) string {
	return fmt.Sprintf("%s/objects/storage/verify", origin)
}

func (b *BasicStreaming) Upload(ctx context.Context, pre PreAuth, origin, org, repo, oid string, size int64, extra map[string]string) (ObjectResponse, error) {
	resp := ObjectResponse{OID: oid, Size: size}

	prefix := org + "/" + repo
	exists, err := b.Storage.Exists(ctx, prefix, oid)
	if err != nil {
		return ObjectResponse{}, err
	}
	var sameSize bool
	if exists {
		actualSize, err := b.Storage.GetSize(ctx, prefix, oid)
		if err != nil {
			return ObjectResponse{}, err
		}
		sameSize = actualSize == size
	}
	if exists && sameSize {
		return resp, nil
	}

	resp.Actions = map[string]storage.Action{
		"upload": {
			Href:      objectsURL(origin, oid),
			Header:    pre.Headers(org, repo, []string{"write"}, oid, 0),
			ExpiresIn: b.ActionLifetime,
		},
		"verify": {
			Href:      verifyURL(origin),
			Header:    pre.Headers(org, repo, []string{"verify"}, oid, verifyLifetime),
			ExpiresIn: int(verifyLifetime.Seconds()),
		},
	}
	resp.Authenticated = pre.Provides()
	return resp, nil
}

func (b *BasicStreaming) Download(ctx context.Context, pre PreAuth, origin, org, repo, oid string, size int64, extra map[string]string) (ObjectResponse, error) {
	resp := ObjectResponse{OID: oid, Size: size}

	prefix := org + "/" + repo
	exists, err := b.Storage.Exists(ctx, prefix, oid)
	if err != nil {
		return ObjectResponse{}, err
	}
	if !exists {
		resp.Error = &ObjectError{Code: 404, Message: "Object does not exist"}
		return resp, nil
	}

	actualSize, err := b.Storage.GetSize(ctx, prefix, oid)
	if err != nil {
		return ObjectResponse{}, err
	}
	if actualSize != size {
		resp.Error = &ObjectError{Code: 422, Message: "Object size does not match"}
		return resp, nil
	}

	href := objectsURL(origin, oid)
	query := url.Values{}
	for k, v := range pre.QueryParams(org, repo, []string{"read"}, oid, time.Duration(b.ActionLifetime)*time.Second) {
		query.Set(k, v)
	}
	if filename, ok := extra["filename"]; ok && filename != "" {
		query.Set("filename", filename)
	}
	if len(query) > 0 {
		href += "?" + query.Encode()
	}

	resp.Actions = map[string]storage.Action{
		"download": {
			Href:      href,
			Header:    map[string]string{},
			ExpiresIn: b.ActionLifetime,
		},
	}
	resp.Authenticated = pre.Provides()
	return resp, nil
}

var _ Adapter = (*BasicStreaming)(nil)
