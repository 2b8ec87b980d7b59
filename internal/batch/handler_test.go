package batch

import (
	"testing"

	"github.com/lfsgate/lfsgate/internal/identity"
	"github.com/lfsgate/lfsgate/internal/transfer"
)

func objectResponsesWithErrorCodes(codes ...int) []transfer.ObjectResponse {
	objects := make([]transfer.ObjectResponse, len(codes))
	for i, code := range codes {
		objects[i] = transfer.ObjectResponse{Error: &transfer.ObjectError{Code: code}}
	}
	return objects
}

func TestAuthorizedNamespaceWide(t *testing.T) {
	id := identity.NewIdentity("u1", "User One", "u1@example.com")
	id.Allow("myorg", "somerepo", "", identity.Read)

	if !authorized(id, "myorg", "somerepo", identity.Read, []Object{{OID: "abc"}}) {
		t.Error("expected namespace-wide grant to authorize the batch")
	}
}

func TestAuthorizedPerObjectFallback(t *testing.T) {
	id := identity.NewIdentity("u1", "User One", "u1@example.com")
	id.Allow("myorg", "somerepo", "abc", identity.Read)

	objects := []Object{{OID: "abc"}}
	if !authorized(id, "myorg", "somerepo", identity.Read, objects) {
		t.Error("expected per-object grant to authorize a batch naming only that object")
	}

	objects = append(objects, Object{OID: "other"})
	if authorized(id, "myorg", "somerepo", identity.Read, objects) {
		t.Error("expected fallback to fail when one object in the batch isn't individually granted")
	}
}

func TestAuthorizedNilIdentity(t *testing.T) {
	if authorized(nil, "myorg", "somerepo", identity.Read, []Object{{OID: "abc"}}) {
		t.Error("expected a nil identity to never authorize")
	}
}

func TestAllObjectErrorsAre(t *testing.T) {
	objects := objectResponsesWithErrorCodes(404, 404)
	if !allObjectErrorsAre(objects, 404) {
		t.Error("expected all-404 detection to hold")
	}
	mixed := objectResponsesWithErrorCodes(404, 422)
	if allObjectErrorsAre(mixed, 404) {
		t.Error("expected mixed error codes to not count as all-404")
	}
	if !allObjectsHaveErrors(mixed) {
		t.Error("expected mixed errors to still count as all-have-errors")
	}
}
