// Package objectapi implements the Basic Streaming adapter's own object
// endpoints: PUT to upload, GET to download, and POST .../verify to
// confirm a previously uploaded object's size, all proxied straight
// through a storage.Streaming backend.
package objectapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"

	"github.com/gorilla/mux"

	"github.com/lfsgate/lfsgate/internal/apierr"
	"github.com/lfsgate/lfsgate/internal/auth"
	"github.com/lfsgate/lfsgate/internal/identity"
	"github.com/lfsgate/lfsgate/internal/storage"
)

var safeFilenameRe = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// safeFilename replaces everything but alphanumerics, underscore, dot, and
// hyphen in a Content-Disposition filename with "_", matching
// storage.safeFilename's rule.
func safeFilename(filename string) string {
	return safeFilenameRe.ReplaceAllString(filename, "_")
}

// Handler serves objects/storage/{oid}[,/verify] for the Basic Streaming
// adapter, generalized to go through storage.Streaming instead of a
// single hardcoded content store, with verify-by-size semantics.
type Handler struct {
	Chain   *auth.Chain
	Storage storage.Streaming
}

func NewHandler(chain *auth.Chain, s storage.Streaming) *Handler {
	return &Handler{Chain: chain, Storage: s}
}

func (h *Handler) Put(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	org, repo, oid := vars["organization"], vars["repo"], vars["oid"]

	if err := h.checkAuthorization(r, org, repo, identity.Write, oid); err != nil {
		apierr.WriteJSON(w, err)
		return
	}

	prefix := org + "/" + repo
	if _, err := h.Storage.Put(r.Context(), prefix, oid, r.Body, r.ContentLength); err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	org, repo, oid := vars["organization"], vars["repo"], vars["oid"]

	if err := h.checkAuthorization(r, org, repo, identity.Read, oid); err != nil {
		apierr.WriteJSON(w, err)
		return
	}

	prefix := org + "/" + repo
	exists, err := h.Storage.Exists(r.Context(), prefix, oid)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	if !exists {
		apierr.WriteJSON(w, apierr.NewNotFound("The object was not found"))
		return
	}

	file, err := h.Storage.Get(r.Context(), prefix, oid)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	defer file.Close()

	if disposition := responseDisposition(r); disposition != "" {
		w.Header().Set("Content-Disposition", disposition)
	}

	mimeType, err := h.Storage.GetMimeType(r.Context(), prefix, oid)
	if err == nil && mimeType != "" {
		w.Header().Set("Content-Type", mimeType)
	}

	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, file)
}

type verifyPayload struct {
	OID  string `json:"oid"`
	Size int64  `json:"size"`
}

func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	org, repo := vars["organization"], vars["repo"]

	var payload verifyPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		apierr.WriteJSON(w, apierr.Wrap(apierr.InvalidPayload, "invalid verify payload", err))
		return
	}

	if err := h.checkAuthorization(r, org, repo, identity.ReadMeta, payload.OID); err != nil {
		apierr.WriteJSON(w, err)
		return
	}

	prefix := org + "/" + repo
	ok, err := h.Storage.VerifyObject(r.Context(), prefix, payload.OID, payload.Size)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	if !ok {
		apierr.WriteJSON(w, apierr.NewInvalidPayload("Object does not exist or size does not match"))
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) checkAuthorization(r *http.Request, org, repo string, perm identity.Permission, oid string) error {
	id, err := h.Chain.Authenticate(r)
	if err != nil {
		return err
	}
	if id == nil || !id.IsAuthorized(org, repo, perm, oid) {
		return apierr.NewForbidden("You are not authorized to perform this action")
	}
	return nil
}

// responseDisposition mirrors ObjectsView.get's filename/disposition query
// handling: a filename (with or without a disposition) yields an
// "attachment" with that sanitized filename, a disposition alone is passed
// through as given, and with neither no header is set.
func responseDisposition(r *http.Request) string {
	filename := safeFilename(r.URL.Query().Get("filename"))
	disposition := r.URL.Query().Get("disposition")

	switch {
	case filename != "":
		return fmt.Sprintf(`attachment; filename="%s"`, filename)
	case disposition != "":
		return disposition
	default:
		return ""
	}
}
