package transfer

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"testing"

	"github.com/lfsgate/lfsgate/internal/auth"
	"github.com/lfsgate/lfsgate/internal/identity"
	"github.com/lfsgate/lfsgate/internal/storage"
)

func newLocalBackend(t *testing.T) *storage.Local {
	t.Helper()
	dir, err := os.MkdirTemp("", "transfer-test-data")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return storage.NewLocal(dir)
}

func TestBasicStreamingUploadForNewObject(t *testing.T) {
	local := newLocalBackend(t)
	adapter := NewBasicStreaming(local, 3600)

	resp, err := adapter.Upload(context.Background(), PreAuth{}, "http://localhost", "myorg", "somerepo", "deadbeef", 11, nil)
	if err != nil {
		t.Fatalf("Upload returned error: %v", err)
	}
	if _, ok := resp.Actions["upload"]; !ok {
		t.Error("expected an upload action for a new object")
	}
	if _, ok := resp.Actions["verify"]; !ok {
		t.Error("expected a verify action alongside upload")
	}
	if resp.Authenticated {
		t.Error("expected authenticated=false without a pre-authorizer")
	}
}

func TestBasicStreamingUploadSkipsExistingObject(t *testing.T) {
	local := newLocalBackend(t)
	adapter := NewBasicStreaming(local, 3600)

	content := []byte("hello world")
	oid := "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
	ctx := context.Background()
	if _, err := local.Put(ctx, "myorg/somerepo", oid, bytes.NewReader(content), int64(len(content))); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	resp, err := adapter.Upload(ctx, PreAuth{}, "http://localhost", "myorg", "somerepo", oid, int64(len(content)), nil)
	if err != nil {
		t.Fatalf("Upload returned error: %v", err)
	}
	if resp.Actions != nil {
		t.Errorf("expected no actions for an already-uploaded object, got %v", resp.Actions)
	}
}

func TestBasicStreamingDownloadNotFound(t *testing.T) {
	local := newLocalBackend(t)
	adapter := NewBasicStreaming(local, 3600)

	resp, err := adapter.Download(context.Background(), PreAuth{}, "http://localhost", "myorg", "somerepo", "missing", 10, nil)
	if err != nil {
		t.Fatalf("Download returned error: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != 404 {
		t.Errorf("expected a 404 object error, got %+v", resp.Error)
	}
}

func TestBasicStreamingDownloadSizeMismatch(t *testing.T) {
	local := newLocalBackend(t)
	adapter := NewBasicStreaming(local, 3600)

	content := []byte("hello world")
	oid := "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
	ctx := context.Background()
	if _, err := local.Put(ctx, "myorg/somerepo", oid, bytes.NewReader(content), int64(len(content))); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	resp, err := adapter.Download(ctx, PreAuth{}, "http://localhost", "myorg", "somerepo", oid, int64(len(content))+1, nil)
	if err != nil {
		t.Fatalf("Download returned error: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != 422 {
		t.Errorf("expected a 422 object error, got %+v", resp.Error)
	}
}

func TestBasicStreamingDownloadSuccess(t *testing.T) {
	local := newLocalBackend(t)
	adapter := NewBasicStreaming(local, 3600)

	content := []byte("hello world")
	oid := "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
	ctx := context.Background()
	if _, err := local.Put(ctx, "myorg/somerepo", oid, bytes.NewReader(content), int64(len(content))); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	resp, err := adapter.Download(ctx, PreAuth{}, "http://localhost", "myorg", "somerepo", oid, int64(len(content)), nil)
	if err != nil {
		t.Fatalf("Download returned error: %v", err)
	}
	action, ok := resp.Actions["download"]
	if !ok {
		t.Fatal("expected a download action")
	}
	if action.Href == "" {
		t.Error("expected a non-empty download href")
	}
}

func TestBasicStreamingDownloadEmbedsPreAuthJWT(t *testing.T) {
	local := newLocalBackend(t)
	adapter := NewBasicStreaming(local, 3600)

	content := []byte("hello world")
	oid := "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
	ctx := context.Background()
	if _, err := local.Put(ctx, "myorg/somerepo", oid, bytes.NewReader(content), int64(len(content))); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	jwtAuth := auth.NewJWTAuthenticator()
	jwtAuth.PrivateKey = []byte("test-secret-key")
	id := identity.NewIdentity("u1", "User One", "")
	pre := PreAuth{Handler: jwtAuth, Identity: id}

	resp, err := adapter.Download(ctx, pre, "http://localhost", "myorg", "somerepo", oid, int64(len(content)), nil)
	if err != nil {
		t.Fatalf("Download returned error: %v", err)
	}
	action, ok := resp.Actions["download"]
	if !ok {
		t.Fatal("expected a download action")
	}
	parsed, err := url.Parse(action.Href)
	if err != nil {
		t.Fatalf("failed to parse href: %v", err)
	}
	token := parsed.Query().Get("jwt")
	if token == "" {
		t.Fatal("expected the download href to carry a jwt query param")
	}

	r := httptest.NewRequest(http.MethodGet, action.Href, nil)
	got, err := jwtAuth.Authenticate(r)
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if got == nil || !got.IsAuthorized("myorg", "somerepo", identity.Read, oid) {
		t.Error("expected the embedded token to grant read on the object")
	}
	if !resp.Authenticated {
		t.Error("expected authenticated=true when a pre-authorizer is configured")
	}
}
