package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"credverify/internal/audit"
)

// serve runs srv on ln until ctx is cancelled or the server fails. Shutdown
// order is server, then publisher, then worker: requests still in flight can
// emit audit events, and the worker keeps draining until the publisher closes
// its inbox.
func serve(ctx context.Context, srv *http.Server, ln net.Listener, worker *audit.Worker, publisher *audit.Publisher, shutdownTimeout time.Duration, log *slog.Logger) error {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	workerDone := make(chan error, 1)
	go func() {
		workerDone <- worker.Run(context.Background())
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		publisher.Close()
		if werr := <-workerDone; werr != nil {
			log.Error("audit worker stopped", "error", werr)
		}
		if err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		log.Info("server stopped")
		return nil
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
