package transfer

import (
	"context"

	"github.com/lfsgate/lfsgate/internal/storage"
)

const (
	defaultPartSize          = 10_240_000 // ~10MB
	defaultMultipartLifetime = 6 * 60 * 60 // seconds
)

// Multipart offers multipart uploads for very large objects, backed by a
// storage.Multipart implementation (only Azure, in practice — its
// block-blob staging protocol is the one that needs resumable parts).
type Multipart struct {
	Storage        storage.Multipart
	ActionLifetime int
	MaxPartSize    int64
}

func NewMultipart(s storage.Multipart, actionLifetime int, maxPartSize int64) *Multipart {
	if actionLifetime <= 0 {
		actionLifetime = defaultMultipartLifetime
	}
	if maxPartSize <= 0 {
		maxPartSize = defaultPartSize
	}
	return &Multipart{Storage: s, ActionLifetime: actionLifetime, MaxPartSize: maxPartSize}
}

func (m *Multipart) Upload(ctx context.Context, pre PreAuth, origin, org, repo, oid string, size int64, extra map[string]string) (ObjectResponse, error) {
	prefix := org + "/" + repo
	resp := ObjectResponse{OID: oid, Size: size}

	verified, err := m.Storage.VerifyObject(ctx, prefix, oid, size)
	if err != nil {
		return ObjectResponse{}, err
	}
	if verified {
		return resp, nil
	}

	parts, commit, abort, err := m.Storage.GetMultipartActions(ctx, prefix, oid, size, m.MaxPartSize, m.ActionLifetime, extra)
	if err != nil {
		return ObjectResponse{}, err
	}

	resp.Actions = map[string]storage.Action{
		"commit": commit,
		"abort":  abort,
	}
	resp.Authenticated = true
	resp.Actions["verify"] = storage.Action{
		Href:      verifyURL(origin),
		Header:    pre.Headers(org, repo, []string{"verify"}, oid, verifyLifetime),
		ExpiresIn: int(verifyLifetime.Seconds()),
	}
	// Parts aren't part of the fixed actions map; they ride alongside it
	// as the object response's own "parts" field.
	resp.Parts = parts
	return resp, nil
}

func (m *Multipart) Download(ctx context.Context, pre PreAuth, origin, org, repo, oid string, size int64, extra map[string]string) (ObjectResponse, error) {
	prefix := org + "/" + repo
	resp := ObjectResponse{OID: oid, Size: size}

	if err := checkObjectSize(ctx, m.Storage, prefix, oid, size); err != nil {
		resp.Error = objectErrorFrom(err)
		return resp, nil
	}

	action, err := m.Storage.GetDownloadAction(ctx, prefix, oid, size, m.ActionLifetime, extra)
	if err != nil {
		return ObjectResponse{}, err
	}

	resp.Actions = map[string]storage.Action{"download": action}
	resp.Authenticated = true
	return resp, nil
}

var _ Adapter = (*Multipart)(nil)
