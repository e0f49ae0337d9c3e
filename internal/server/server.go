// Package server exposes the serve-mode HTTP endpoints: health, metrics,
// sync requests and queue depth.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cercasp-go/internal/cercasp"
	"cercasp-go/internal/syncer"
)

const (
	pingTimeout     = 5 * time.Second
	shutdownTimeout = 10 * time.Second
)

// QueueReporter lists pending items per collection.
type QueueReporter interface {
	Pending(ctx context.Context) ([]syncer.CollectionDepth, error)
}

// SyncRequester schedules a sync pass without waiting for it.
type SyncRequester interface {
	Fire()
}

// TokenVerifier resolves a bearer token to an identity.
type TokenVerifier interface {
	VerifyToken(token string) (cercasp.Identity, error)
}

// Deps are the collaborators behind the endpoints.
type Deps struct {
	Queue    QueueReporter
	Sync     SyncRequester
	Remote   syncer.Pinger
	Gatherer prometheus.Gatherer

	// Tokens enables bearer authentication on /sync and /queue. Nil leaves
	// them open, for loopback-only deployments.
	Tokens TokenVerifier

	Logger cercasp.Logger
}

type handler struct {
	deps Deps
}

type identityKey struct{}

// NewRouter wires all endpoints.
func NewRouter(deps Deps) http.Handler {
	h := &handler{deps: deps}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.logRequests)

	r.Get("/healthz", h.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(h.authenticate)
		r.Post("/sync", h.handleSync)
		r.Get("/queue", h.handleQueue)
	})
	return r
}

func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
	defer cancel()

	remote := "online"
	if err := h.deps.Remote.Ping(ctx); err != nil {
		remote = "offline"
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "remote": remote})
}

func (h *handler) handleSync(w http.ResponseWriter, r *http.Request) {
	h.deps.Sync.Fire()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (h *handler) handleQueue(w http.ResponseWriter, r *http.Request) {
	depths, err := h.deps.Queue.Pending(r.Context())
	if err != nil {
		h.deps.Logger.Error("reading queue depth", "error", err)
		writeError(w, http.StatusInternalServerError, cercasp.MessageError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"collections": depths})
}

func (h *handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.deps.Tokens == nil {
			next.ServeHTTP(w, r)
			return
		}

		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		id, err := h.deps.Tokens.VerifyToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey{}, id)))
	})
}

func (h *handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		args := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		}
		if id, ok := r.Context().Value(identityKey{}).(cercasp.Identity); ok {
			args = append(args, "user", id.Email)
		}
		h.deps.Logger.Debug("http request", args...)
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// Serve listens on addr until ctx ends, then shuts down gracefully.
func Serve(ctx context.Context, addr string, handler http.Handler, logger cercasp.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
