package transfer

import (
	"context"

	"github.com/lfsgate/lfsgate/internal/apierr"
	"github.com/lfsgate/lfsgate/internal/storage"
)

// BasicExternal offers "basic" transfers by directing clients straight to
// an external storage service (S3, Azure, GCS) via a signed URL, backed by
// a storage.External implementation.
type BasicExternal struct {
	Storage        storage.External
	ActionLifetime int // seconds
}

func NewBasicExternal(s storage.External, actionLifetime int) *BasicExternal {
	return &BasicExternal{Storage: s, ActionLifetime: actionLifetime}
}

func (b *BasicExternal) Upload(ctx context.Context, pre PreAuth, origin, org, repo, oid string, size int64, extra map[string]string) (ObjectResponse, error) {
	prefix := org + "/" + repo
	resp := ObjectResponse{OID: oid, Size: size}

	verified, err := b.Storage.VerifyObject(ctx, prefix, oid, size)
	if err != nil {
		return ObjectResponse{}, err
	}
	if verified {
		// Already have this object; no upload needed.
		return resp, nil
	}

	action, err := b.Storage.GetUploadAction(ctx, prefix, oid, size, b.ActionLifetime, extra)
	if err != nil {
		return ObjectResponse{}, err
	}

	resp.Actions = map[string]storage.Action{"upload": action}
	resp.Authenticated = pre.Provides()
	resp.Actions["verify"] = storage.Action{
		Href:      verifyURL(origin),
		Header:    pre.Headers(org, repo, []string{"verify"}, oid, verifyLifetime),
		ExpiresIn: int(verifyLifetime.Seconds()),
	}
	return resp, nil
}

func (b *BasicExternal) Download(ctx context.Context, pre PreAuth, origin, org, repo, oid string, size int64, extra map[string]string) (ObjectResponse, error) {
	prefix := org + "/" + repo
	resp := ObjectResponse{OID: oid, Size: size}

	if err := checkObjectSize(ctx, b.Storage, prefix, oid, size); err != nil {
		resp.Error = objectErrorFrom(err)
		return resp, nil
	}

	action, err := b.Storage.GetDownloadAction(ctx, prefix, oid, size, b.ActionLifetime, extra)
	if err != nil {
		return ObjectResponse{}, err
	}

	resp.Actions = map[string]storage.Action{"download": action}
	resp.Authenticated = pre.Provides()
	return resp, nil
}

// sizer is the minimal capability checkObjectSize needs; both
// storage.External and storage.Multipart satisfy it.
type sizer interface {
	GetSize(ctx context.Context, prefix, oid string) (int64, error)
}

// checkObjectSize raises an apierr the same way the original's
// _check_object does: NotFound propagates straight from GetSize,
// InvalidPayload is raised locally on a size mismatch, so verify_object's
// own not-found/size-mismatch conflation isn't used here.
func checkObjectSize(ctx context.Context, s sizer, prefix, oid string, size int64) error {
	actualSize, err := s.GetSize(ctx, prefix, oid)
	if err != nil {
		return err
	}
	if actualSize != size {
		return apierr.NewInvalidPayload("Object size does not match")
	}
	return nil
}

// objectErrorFrom maps an apierr.Error to the per-object error shape; any
// other error is treated as a storage error (500-class).
func objectErrorFrom(err error) *ObjectError {
	if apiErr, ok := apierr.As(err); ok {
		return &ObjectError{Code: apiErr.HTTPStatus(), Message: apiErr.Message}
	}
	return &ObjectError{Code: 500, Message: err.Error()}
}

var _ Adapter = (*BasicExternal)(nil)
