package batch

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/lfsgate/lfsgate/internal/apierr"
	"github.com/lfsgate/lfsgate/internal/auth"
	"github.com/lfsgate/lfsgate/internal/identity"
	"github.com/lfsgate/lfsgate/internal/transfer"
)

const lfsMediaType = "application/vnd.git-lfs+json"

// Handler serves the batch negotiation endpoint: request parsing, adapter
// matching, permission fallback, and error aggregation across objects.
type Handler struct {
	Chain    *auth.Chain
	Registry *transfer.Registry
}

func NewHandler(chain *auth.Chain, registry *transfer.Registry) *Handler {
	return &Handler{Chain: chain, Registry: registry}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	org, repo := vars["organization"], vars["repo"]

	id, err := h.Chain.Authenticate(r)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		apierr.WriteJSON(w, apierr.Wrap(apierr.InvalidPayload, "failed to read request body", err))
		return
	}

	req, err := ParseRequest(body)
	if err != nil {
		apierr.WriteJSON(w, apierr.Wrap(apierr.InvalidPayload, "invalid batch request", err))
		return
	}

	transferType, adapter, err := h.Registry.Match(req.Transfers)
	if err != nil {
		apierr.WriteJSON(w, apierr.Wrap(apierr.InvalidPayload, err.Error(), err))
		return
	}

	perm := identity.Read
	if req.Operation == OperationUpload {
		perm = identity.Write
	}

	if !authorized(id, org, repo, perm, req.Objects) {
		apierr.WriteJSON(w, apierr.NewForbidden("You are not authorized to perform this action"))
		return
	}

	origin := requestBase(r)
	pre := transfer.PreAuth{Handler: h.Chain.PreAuthHandler(), Identity: id}

	objects := make([]transfer.ObjectResponse, 0, len(req.Objects))
	for _, obj := range req.Objects {
		extra := obj.Extra
		var (
			resp transfer.ObjectResponse
			err  error
		)
		if req.Operation == OperationUpload {
			resp, err = adapter.Upload(r.Context(), pre, origin, org, repo, obj.OID, obj.Size, extra)
		} else {
			resp, err = adapter.Download(r.Context(), pre, origin, org, repo, obj.OID, obj.Size, extra)
		}
		if err != nil {
			apierr.WriteJSON(w, err)
			return
		}
		objects = append(objects, resp)
	}

	if allObjectErrorsAre(objects, 404) {
		apierr.WriteJSON(w, apierr.NewNotFound("Cannot find any of the requested objects"))
		return
	}
	if allObjectsHaveErrors(objects) {
		apierr.WriteJSON(w, apierr.NewInvalidPayload("Cannot validate any of the requested objects"))
		return
	}

	w.Header().Set("Content-Type", lfsMediaType)
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(response{Transfer: transferType, Objects: objects})
}

type response struct {
	Transfer string                    `json:"transfer"`
	Objects  []transfer.ObjectResponse `json:"objects"`
}

// authorized implements the partial-authorization fallback of
// view.py:BatchView.post: a namespace-wide check first, and only if that
// fails, a per-object check that every requested oid individually
// authorizes — covering identities whose grants are scoped to specific
// objects rather than the whole repo.
func authorized(id identity.Identity, org, repo string, perm identity.Permission, objects []Object) bool {
	if id == nil {
		return false
	}
	if id.IsAuthorized(org, repo, perm, "") {
		return true
	}
	for _, o := range objects {
		if !id.IsAuthorized(org, repo, perm, o.OID) {
			return false
		}
	}
	return len(objects) > 0
}

func allObjectErrorsAre(objects []transfer.ObjectResponse, code int) bool {
	for _, o := range objects {
		if o.Error == nil || o.Error.Code != code {
			return false
		}
	}
	return true
}

func allObjectsHaveErrors(objects []transfer.ObjectResponse) bool {
	for _, o := range objects {
		if o.Error == nil {
			return false
		}
	}
	return true
}

// requestBase rebuilds "scheme://host/<repo-route-prefix>" for the current
// request, honoring a reverse proxy's X-Forwarded-Proto, and strips the
// trailing "/objects/batch" from the matched route so the returned base
// reflects whichever of the canonical ".git/info/lfs" or legacy prefix
// this request actually used — adapters build object/verify hrefs
// directly under it instead of guessing a prefix themselves.
func requestBase(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if fwd := r.Header.Get("X-Forwarded-Proto"); fwd != "" {
		scheme = fwd
	}
	prefix := strings.TrimSuffix(r.URL.Path, "/objects/batch")
	return scheme + "://" + r.Host + prefix
}
