package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hls-packager/internal/orchestrator"
	"hls-packager/internal/platform/logger"
	"hls-packager/internal/platform/metrics"
	"hls-packager/internal/stream"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
)

const (
	shutdownTimeout = 10 * time.Second
	// cleanupTimeout bounds how long cancelled jobs get to remove their files.
	cleanupTimeout = 15 * time.Second
	streamPrefix   = "/stream"
)

func newServeCommand(s *settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the upload and streaming HTTP service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(s)
		},
	}
	cmd.Flags().StringVar(&s.port, "port", s.port, "HTTP listen port")
	cmd.Flags().StringVar(&s.uploadDir, "upload-dir", s.uploadDir, "directory for staged uploads")
	cmd.Flags().Int64Var(&s.maxUploadBytes, "max-upload-bytes", s.maxUploadBytes, "maximum accepted upload size in bytes")
	cmd.Flags().BoolVar(&s.retainSource, "retain-source", s.retainSource, "keep uploaded sources after a successful job")
	cmd.Flags().Int64Var(&s.chunkSize, "range-chunk-size", s.chunkSize, "maximum bytes returned per range request")
	return cmd
}

func newRouter(svc *orchestrator.Service, upload *orchestrator.Handler, streams *stream.Handler, log *slog.Logger, met *metrics.Metrics) http.Handler {
	r := chi.NewRouter()
	r.Use(logger.RequestID)
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() { met.SetActiveJobs(svc.ActiveJobCount(r.Context())) }).ServeHTTP(w, r)
	})
	r.Post("/upload", upload.Upload)
	r.Get("/jobs/{assetId}", upload.GetJob)
	r.Mount(streamPrefix, streams.Routes())
	return r
}

func runServer(s *settings) error {
	log := logger.New(s.logLevel, s.logFormat)
	met := metrics.New()

	svc, closeStore, err := buildService(s, log, met)
	if err != nil {
		return err
	}
	defer closeStore()

	resolver, err := stream.NewResolver(svc.Root())
	if err != nil {
		return err
	}
	streams := stream.NewHandler(resolver, stream.NewDelivery(s.chunkSize, stream.DefaultContentTypes), logger.Component(log, "stream"), met)
	upload := orchestrator.NewHandler(svc, orchestrator.HandlerConfig{
		UploadDir:      s.uploadDir,
		MaxUploadBytes: s.maxUploadBytes,
		StreamPrefix:   streamPrefix,
	}, logger.Component(log, "upload"), met)

	srv, cancelJobs := newHTTPServer(":"+s.port, newRouter(svc, upload, streams, log, met))
	defer cancelJobs()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	log.Info("server starting",
		"port", s.port,
		"package_root", svc.Root(),
		"renditions", svc.Ladder().Names(),
		"parallelism", s.parallelism,
		"max_upload", humanize.Bytes(uint64(s.maxUploadBytes)),
		"log_level", s.logLevel,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigCh:
	case err := <-errCh:
		log.Error("server error", "error", err)
		return err
	}

	log.Info("shutdown signal received, draining connections")
	if err := shutdown(srv, cancelJobs, svc, log, shutdownTimeout, cleanupTimeout); err != nil {
		log.Error("shutdown error", "error", err)
		return err
	}

	log.Info("server stopped")
	return nil
}

// newHTTPServer returns a server whose request contexts derive from a base
// context that the returned cancel func aborts. Upload jobs run on the
// request context, so cancelling it stops their encodes.
func newHTTPServer(addr string, h http.Handler) (*http.Server, context.CancelFunc) {
	base, cancel := context.WithCancel(context.Background())
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return base },
	}, cancel
}

// shutdown drains connections for up to drain. Jobs still running after that
// are cancelled and given up to cleanup to remove what they wrote before the
// remaining connections are closed.
func shutdown(srv *http.Server, cancelJobs context.CancelFunc, svc *orchestrator.Service, log *slog.Logger, drain, cleanup time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), drain)
	defer cancel()

	err := srv.Shutdown(ctx)
	if err == nil {
		cancelJobs()
		return nil
	}

	log.Warn("drain timed out, cancelling in-flight jobs", "error", err)
	cancelJobs()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), cleanup)
	defer waitCancel()
	if werr := svc.Wait(waitCtx); werr != nil {
		log.Error("in-flight jobs did not finish cleanup", "error", werr)
	}
	if cerr := srv.Close(); cerr != nil {
		log.Warn("close server failed", "error", cerr)
	}
	return err
}
