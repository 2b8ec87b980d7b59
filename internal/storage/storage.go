// Package storage defines the capability interfaces every storage backend
// implements a subset of, plus the local/S3/Azure/GCS implementations.
package storage

import (
	"context"
	"io"
	"path"
	"strings"
)

// Action mirrors the wire shape of a single batch action: href plus
// optional headers/body/method/lifetime. Transfer adapters fill this in
// from what a backend returns.
type Action struct {
	Href      string            `json:"href"`
	Header    map[string]string `json:"header,omitempty"`
	Body      string            `json:"body,omitempty"`
	Method    string            `json:"method,omitempty"`
	ExpiresIn int               `json:"expires_in"`
}

// Part is one chunk of a multipart upload plan.
type Part struct {
	Href       string `json:"href"`
	Pos        int64  `json:"pos"`
	Size       int64  `json:"size"`
	ExpiresIn  int    `json:"expires_in"`
	WantDigest string `json:"want_digest,omitempty"`
}

// Verifiable is satisfied by every backend; verify_object's default
// implementation compares against get_size and treats not-found as false.
type Verifiable interface {
	VerifyObject(ctx context.Context, prefix, oid string, size int64) (bool, error)
}

// Streaming backs the basic streaming transfer adapter: the server itself
// proxies bytes between client and storage.
type Streaming interface {
	Verifiable
	Get(ctx context.Context, prefix, oid string) (io.ReadCloser, error)
	Put(ctx context.Context, prefix, oid string, r io.Reader, size int64) (int64, error)
	Exists(ctx context.Context, prefix, oid string) (bool, error)
	GetSize(ctx context.Context, prefix, oid string) (int64, error)
	GetMimeType(ctx context.Context, prefix, oid string) (string, error)
}

// External backs the basic external transfer adapter: clients talk to
// storage directly via a signed URL the backend mints.
type External interface {
	Verifiable
	Exists(ctx context.Context, prefix, oid string) (bool, error)
	GetSize(ctx context.Context, prefix, oid string) (int64, error)
	GetUploadAction(ctx context.Context, prefix, oid string, size int64, expiresIn int, extra map[string]string) (Action, error)
	GetDownloadAction(ctx context.Context, prefix, oid string, size int64, expiresIn int, extra map[string]string) (Action, error)
}

// Multipart backs the multipart transfer adapter for very large objects.
type Multipart interface {
	Verifiable
	Exists(ctx context.Context, prefix, oid string) (bool, error)
	GetSize(ctx context.Context, prefix, oid string) (int64, error)
	GetMultipartActions(ctx context.Context, prefix, oid string, size, partSize int64, expiresIn int, extra map[string]string) (parts []Part, commit, abort Action, err error)
	GetDownloadAction(ctx context.Context, prefix, oid string, size int64, expiresIn int, extra map[string]string) (Action, error)
}

// blobPath joins a configured root prefix with the object's (prefix, oid)
// key using POSIX separators, stripping a leading "/" from root — the one
// helper every backend shares.
func blobPath(root, prefix, oid string) string {
	root = strings.TrimPrefix(root, "/")
	return path.Join(root, prefix, oid)
}

// defaultVerify implements the shared VerifyObject default: compare the
// backend's reported size against the expected size, treating "not found"
// as a verification failure rather than an error.
func defaultVerify(size int64, actualSize int64, notFound bool) (bool, error) {
	if notFound {
		return false, nil
	}
	return actualSize == size, nil
}
