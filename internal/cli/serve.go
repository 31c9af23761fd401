package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/matzehuels/kmsgrab/pkg/bufimport"
	"github.com/matzehuels/kmsgrab/pkg/cache"
	"github.com/matzehuels/kmsgrab/pkg/errors"
	"github.com/matzehuels/kmsgrab/pkg/observability"
	"github.com/matzehuels/kmsgrab/pkg/pipeline"
	"github.com/matzehuels/kmsgrab/pkg/sink"
)

const (
	// shutdownTimeout bounds graceful shutdown after the context ends.
	shutdownTimeout = 5 * time.Second

	// captureIDHeader carries the capture id on image responses.
	captureIDHeader = "X-Capture-Id"
)

// serveCommand creates the serve command.
func (c *CLI) serveCommand() *cobra.Command {
	var device, addr, cacheSpec string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve captures over HTTP",
		Long: `Serve captures of the active display over HTTP.

Routes:
  GET /healthz                        liveness probe
  GET /scanout                        scanout descriptor as JSON
  GET /capture?format=png&strategy=   encoded capture
  GET /captures/{id}?format=png       earlier capture from the cache

Captures are serialized; concurrent requests wait for the device.
With --cache, every served image is kept for serve.cache_ttl and can be
fetched again by its X-Capture-Id.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("device") {
				device = c.Config.Device
			}
			if !cmd.Flags().Changed("addr") {
				addr = c.Config.Serve.Addr
			}
			if !cmd.Flags().Changed("cache") {
				cacheSpec = c.Config.Serve.Cache
			}
			ctx := cmd.Context()
			logger := loggerFromContext(ctx)

			store, err := openCache(ctx, cacheSpec)
			if err != nil {
				return err
			}
			defer store.Close()
			logger.Debug("capture cache", "backend", cache.Kind(cacheSpec), "ttl", c.Config.Serve.TTL())

			dev, err := openDevice(device, logger)
			if err != nil {
				return err
			}
			defer dev.Close()

			prog := newProgress(logger)
			srv := newCaptureServer(dev.runner(logger), store, logger, c.Config)
			err = srv.listen(ctx, addr)
			prog.done("Stopped serving")
			return err
		},
	}

	cmd.Flags().StringVar(&device, "device", "", "DRM device node (default: first that opens)")
	cmd.Flags().StringVar(&addr, "addr", defaultServeAddr, "listen address")
	cmd.Flags().StringVar(&cacheSpec, "cache", "", "capture cache: none, file, redis://..., mongodb://...")

	return cmd
}

// =============================================================================
// Capture Server
// =============================================================================

// openCache opens the capture cache named by spec.
func openCache(ctx context.Context, spec string) (cache.Cache, error) {
	dir := ""
	if spec == "file" {
		d, err := cacheDir()
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeInvalidInput, err, "capture cache directory")
		}
		dir = d
	}
	store, err := cache.Open(ctx, spec, dir)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidInput, err, "open capture cache")
	}
	return store, nil
}

// captureServer serves captures from one device. The pipeline holds kernel
// resources for the duration of a capture, so captures are serialized.
type captureServer struct {
	mu     sync.Mutex
	runner *pipeline.Runner
	cache  cache.Cache
	logger *log.Logger
	cfg    Config
}

func newCaptureServer(runner *pipeline.Runner, store cache.Cache, logger *log.Logger, cfg Config) *captureServer {
	if store == nil {
		store = cache.NewNullCache()
	}
	return &captureServer{runner: runner, cache: store, logger: logger, cfg: cfg}
}

// routes builds the HTTP handler.
func (s *captureServer) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("ok\n"))
	})
	r.Get("/scanout", s.handleScanout)
	r.Get("/capture", s.handleCapture)
	r.Get("/captures/{id}", s.handleCached)

	return r
}

// listen serves until ctx is done, then shuts down gracefully.
func (s *captureServer) listen(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()
	s.logger.Info("serving captures", "addr", addr)

	select {
	case err := <-errc:
		return errors.Wrap(errors.ErrCodeInternal, err, "listen on %s", addr)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("shutdown", "err", err)
	}
	return ctx.Err()
}

func (s *captureServer) handleScanout(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	desc, err := s.runner.Describe(r.Context())
	s.mu.Unlock()
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(desc)
}

func (s *captureServer) handleCapture(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	format := q.Get("format")
	if format == "" {
		format = s.cfg.Format
	}
	if err := sink.ValidateFormat(format); err != nil {
		s.writeError(w, r, err)
		return
	}

	name := q.Get("strategy")
	if name == "" {
		name = s.cfg.Strategy
	}
	strategy, err := bufimport.ParseStrategy(name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.mu.Lock()
	result, err := s.runner.Capture(r.Context(), pipeline.Options{
		Strategy: strategy,
		Retries:  s.cfg.Retries,
		Logger:   s.logger.With("request", middleware.GetReqID(r.Context())),
	})
	s.mu.Unlock()
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	// Encode fully before writing so an encode failure can still be reported
	// with a status code.
	var buf bytes.Buffer
	if err := sink.Encode(&buf, result.Image, format); err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.cache.Set(r.Context(), cache.CaptureKey(result.ID, format), buf.Bytes(), s.cfg.Serve.TTL()); err != nil {
		s.logger.Warn("cache capture", "id", result.ID, "err", err)
	}

	w.Header().Set("X-Capture-Strategy", result.Strategy.String())
	writeImage(w, result.ID, format, buf.Bytes())
}

func (s *captureServer) handleCached(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	format := r.URL.Query().Get("format")
	if format == "" {
		format = s.cfg.Format
	}
	if err := sink.ValidateFormat(format); err != nil {
		s.writeError(w, r, err)
		return
	}

	data, ok, err := s.cache.Get(r.Context(), cache.CaptureKey(id, format))
	if err != nil {
		s.writeError(w, r, errors.Wrap(errors.ErrCodeInternal, err, "read capture cache"))
		return
	}
	if !ok {
		s.writeError(w, r, errors.New(errors.ErrCodeNotFound, "no cached %s capture %q", format, id))
		return
	}
	writeImage(w, id, format, data)
}

func writeImage(w http.ResponseWriter, id, format string, data []byte) {
	w.Header().Set("Content-Type", sink.ContentTypes[format])
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set(captureIDHeader, id)
	w.Write(data)
}

// errorStatus maps a capture error to an HTTP status.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, errors.ErrCodeUnsupportedFormat):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, errors.ErrCodeInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, errors.ErrCodeNotFound):
		return http.StatusNotFound
	case errors.IsEnvironment(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func (s *captureServer) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("capture failed", "path", r.URL.Path, "err", err)
	} else {
		s.logger.Debug("request rejected", "path", r.URL.Path, "err", err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{
		Error: errors.UserMessage(err),
		Code:  string(errors.GetCode(err)),
	})
}

// logRequests logs each response and reports it to the HTTP hooks.
func (s *captureServer) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		observability.HTTP().OnResponse(r.Context(), r.Method, r.URL.Path, status, elapsed)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"bytes", ww.BytesWritten(),
			"duration", elapsed.Round(time.Millisecond))
	})
}
