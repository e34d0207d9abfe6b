// Package server exposes the orchestrator over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aiautomazioni-maker/smm-digitale-sub000/internal/logutil"
	"github.com/aiautomazioni-maker/smm-digitale-sub000/internal/publish"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

const maxRequestBytes = 1 << 20

// Publisher runs one publish attempt.
type Publisher interface {
	Publish(ctx context.Context, workspace string, payload publish.Payload) publish.Result
}

// Config configures the HTTP surface.
type Config struct {
	Addr        string
	CORSOrigins []string
	// PublishTimeout bounds a single publish request. Zero means no bound
	// beyond the client's connection.
	PublishTimeout time.Duration
}

// PublishRequest is the body of POST /v1/publish.
type PublishRequest struct {
	WorkspaceID string          `json:"workspace_id"`
	Payload     publish.Payload `json:"payload"`
}

// NewRouter builds the chi router.
func NewRouter(cfg Config, pub Publisher) chi.Router {
	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Post("/v1/publish", publishHandler(pub, cfg.PublishTimeout))
	return r
}

// ListenAndServe serves until ctx is canceled, then shuts down gracefully.
func ListenAndServe(ctx context.Context, cfg Config, pub Publisher) error {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           NewRouter(cfg, pub),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logutil.Infof("listening: addr=%s", cfg.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		logutil.Infof("shutting down")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	}
}

func publishHandler(pub Publisher, timeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req PublishRequest
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
		if err := dec.Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, badRequest(fmt.Sprintf("invalid request body: %v", err)))
			return
		}

		ctx := r.Context()
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		result := pub.Publish(ctx, req.WorkspaceID, req.Payload)
		writeJSON(w, HTTPStatus(result.Status), result)
	}
}

// HTTPStatus maps a result status to a response code.
func HTTPStatus(s publish.Status) int {
	switch s {
	case publish.StatusOK, publish.StatusSimulated:
		return http.StatusOK
	case publish.StatusBadRequest:
		return http.StatusBadRequest
	case publish.StatusNotConnected:
		return http.StatusConflict
	case publish.StatusUpstream:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func badRequest(msg string) publish.Result {
	return publish.Result{
		Status: publish.StatusBadRequest,
		Error: &publish.ErrorDetail{
			Code:    publish.CodeValidation,
			Message: msg,
			Stage:   publish.StageValidate,
			Kind:    publish.KindValidation,
		},
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logutil.Errorf("write response: err=%v", err)
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logutil.Infof("request: method=%s path=%s status=%d bytes=%d elapsed=%s request_id=%s",
			r.Method, r.URL.Path, ww.Status(), ww.BytesWritten(), time.Since(start).Round(time.Millisecond), middleware.GetReqID(r.Context()))
	})
}
