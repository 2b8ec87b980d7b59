// Command lfsgated runs the Git LFS Batch API server: batch negotiation,
// pluggable storage, and pluggable authentication, configured from a
// single YAML file instead of the flat CLI flags cmd/gitd/main.go uses,
// since this server's transfer-adapter/auth-provider lists don't fit a
// flag set the way gitd's handful of scalar options do.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/lfsgate/lfsgate/internal/config"
	"github.com/lfsgate/lfsgate/internal/server"
	"github.com/lfsgate/lfsgate/internal/storage"
)

func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	logger := server.NewLogger(cfg.Server.LogLevel)

	ctx := context.Background()
	rt, err := config.Build(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building server from configuration: %v\n", err)
		os.Exit(1)
	}

	opts := []server.Option{
		server.WithChain(rt.Chain),
		server.WithTransfers(rt.Transfers),
		server.WithLegacyEndpoints(cfg.LegacyEndpoints),
	}
	if streaming := findStreamingBackend(rt); streaming != nil {
		opts = append(opts, server.WithStreamingStorage(streaming))
	}

	handler := server.Wrap(server.NewHandler(opts...))

	logger.WithField("addr", cfg.Server.ListenAddr).Info("starting lfsgated")
	if err := http.ListenAndServe(cfg.Server.ListenAddr, handler); err != nil {
		logger.WithError(err).Fatal("server exited")
	}
}

// findStreamingBackend recovers the storage.Streaming backend behind the
// "basic" transfer adapter, if any, so the object-storage endpoints
// (PUT/GET/verify) can be mounted alongside the batch endpoint. Transfer
// adapters don't expose their backend through the transfer.Adapter
// interface, since only the Basic Streaming adapter needs to — this asks
// the registry directly rather than growing that interface for every
// caller's sake.
func findStreamingBackend(rt *config.Runtime) storage.Streaming {
	_, adapter, err := rt.Transfers.Match([]string{"basic"})
	if err != nil {
		return nil
	}
	streaming, ok := adapter.(interface{ StreamingBackend() storage.Streaming })
	if !ok {
		return nil
	}
	return streaming.StreamingBackend()
}
