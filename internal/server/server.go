// Package server wires the batch and object-storage handlers into an
// http.Handler: functional-options Handler/NewHandler, a root *mux.Router,
// a register() method that owns route setup, and a gorilla/handlers
// middleware stack (compression, then access logging).
package server

import (
	"net/http"
	"os"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/lfsgate/lfsgate/internal/auth"
	"github.com/lfsgate/lfsgate/internal/batch"
	"github.com/lfsgate/lfsgate/internal/objectapi"
	"github.com/lfsgate/lfsgate/internal/storage"
	"github.com/lfsgate/lfsgate/internal/transfer"
)

// Handler is the top-level LFS server: a batch negotiation endpoint per
// repo, plus the Basic Streaming adapter's own object endpoints when a
// streaming backend is configured.
type Handler struct {
	root *mux.Router

	chain     *auth.Chain
	transfers *transfer.Registry
	streaming storage.Streaming

	legacyEndpoints bool
}

// Option configures a Handler at construction time.
type Option func(*Handler)

func WithChain(chain *auth.Chain) Option {
	return func(h *Handler) { h.chain = chain }
}

func WithTransfers(registry *transfer.Registry) Option {
	return func(h *Handler) { h.transfers = registry }
}

// WithStreamingStorage registers the object-storage endpoints, reachable
// only when the Basic Streaming adapter has a storage.Streaming backend to
// proxy through; external-storage-only deployments omit this.
func WithStreamingStorage(s storage.Streaming) Option {
	return func(h *Handler) { h.streaming = s }
}

// WithLegacyEndpoints additionally mounts every route under the legacy
// <org>/<repo>/... prefix (no ".git/info/lfs" segment).
func WithLegacyEndpoints(enabled bool) Option {
	return func(h *Handler) { h.legacyEndpoints = enabled }
}

func NewHandler(opts ...Option) *Handler {
	h := &Handler{root: mux.NewRouter()}
	for _, opt := range opts {
		opt(h)
	}
	h.register()
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.root.ServeHTTP(w, r)
}

func (h *Handler) register() {
	batchHandler := batch.NewHandler(h.chain, h.transfers)

	prefixes := []string{"/{organization}/{repo}.git/info/lfs"}
	if h.legacyEndpoints {
		prefixes = append(prefixes, "/{organization}/{repo}")
	}

	for _, prefix := range prefixes {
		h.root.Handle(prefix+"/objects/batch", batchHandler).Methods(http.MethodPost)

		if h.streaming != nil {
			objectHandler := objectapi.NewHandler(h.chain, h.streaming)
			h.root.HandleFunc(prefix+"/objects/storage/{oid}", objectHandler.Put).Methods(http.MethodPut)
			h.root.HandleFunc(prefix+"/objects/storage/{oid}", objectHandler.Get).Methods(http.MethodGet)
			h.root.HandleFunc(prefix+"/objects/storage/verify", objectHandler.Verify).Methods(http.MethodPost)
		}
	}
}

// Wrap applies the standard middleware stack around h: response
// compression innermost, access logging outermost, i.e.
// handlers.LoggingHandler(os.Stderr, handlers.CompressHandler(h)).
func Wrap(h http.Handler) http.Handler {
	wrapped := handlers.CompressHandler(h)
	wrapped = handlers.LoggingHandler(os.Stderr, wrapped)
	return wrapped
}

// NewLogger builds the logrus logger the entrypoint uses, at the given
// level (falling back to info when the level does not parse).
func NewLogger(level string) *logrus.Logger {
	logger := logrus.New()
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)
	return logger
}
