package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"

	"github.com/lfsgate/lfsgate/internal/apierr"
)

// Local is a filesystem-backed Streaming store: files live at
// <root>/<prefix>/<oid>. It has no signed-URL capability and therefore
// only pairs with the basic streaming transfer adapter.
type Local struct {
	root string
}

// NewLocal returns a Local store rooted at root. The directory is created
// lazily on first Put.
func NewLocal(root string) *Local {
	return &Local{root: root}
}

func (l *Local) path(prefix, oid string) string {
	return filepath.Join(l.root, filepath.FromSlash(blobPath("", prefix, oid)))
}

// Get opens the object for reading.
func (l *Local) Get(ctx context.Context, prefix, oid string) (io.ReadCloser, error) {
	f, err := os.Open(l.path(prefix, oid))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apierr.NewNotFound("object not found")
		}
		return nil, apierr.Wrap(apierr.StorageError, "failed to open object", err)
	}
	return f, nil
}

// Put atomically writes r to the object's path: stream to a temp file in
// the same directory while hashing, verify size and SHA-256 against oid,
// then rename into place.
func (l *Local) Put(ctx context.Context, prefix, oid string, r io.Reader, size int64) (int64, error) {
	target := l.path(prefix, oid)
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return 0, apierr.Wrap(apierr.StorageError, "failed to create storage directory", err)
	}

	tmp, err := os.CreateTemp(dir, "lfsgate_tmp_")
	if err != nil {
		return 0, apierr.Wrap(apierr.StorageError, "failed to create temp file", err)
	}
	defer os.Remove(tmp.Name())

	hash := sha256.New()
	written, err := io.Copy(io.MultiWriter(hash, tmp), r)
	closeErr := tmp.Close()
	if err != nil {
		return 0, apierr.Wrap(apierr.StorageError, "failed to write object", err)
	}
	if closeErr != nil {
		return 0, apierr.Wrap(apierr.StorageError, "failed to finalize object", closeErr)
	}
	if size >= 0 && written != size {
		return 0, apierr.NewInvalidPayload("content size does not match")
	}
	if got := hex.EncodeToString(hash.Sum(nil)); got != oid {
		return 0, apierr.NewInvalidPayload("content hash does not match oid")
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return 0, apierr.Wrap(apierr.StorageError, "failed to commit object", err)
	}
	return written, nil
}

// Exists reports whether the object is present, never raising on absence.
func (l *Local) Exists(ctx context.Context, prefix, oid string) (bool, error) {
	_, err := os.Stat(l.path(prefix, oid))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, apierr.Wrap(apierr.StorageError, "failed to stat object", err)
	}
	return true, nil
}

func (l *Local) GetSize(ctx context.Context, prefix, oid string) (int64, error) {
	info, err := os.Stat(l.path(prefix, oid))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, apierr.NewNotFound("object not found")
		}
		return 0, apierr.Wrap(apierr.StorageError, "failed to stat object", err)
	}
	return info.Size(), nil
}

// GetMimeType is always the LFS default; local storage does not record
// content types.
func (l *Local) GetMimeType(ctx context.Context, prefix, oid string) (string, error) {
	return "application/octet-stream", nil
}

func (l *Local) VerifyObject(ctx context.Context, prefix, oid string, size int64) (bool, error) {
	actual, err := l.GetSize(ctx, prefix, oid)
	if err != nil {
		if apiErr, ok := apierr.As(err); ok && apiErr.Kind == apierr.NotFound {
			return false, nil
		}
		return false, err
	}
	return defaultVerify(size, actual, false)
}

var _ Streaming = (*Local)(nil)
