package server

import (
	"context"
	"net/http"
	"time"

	"github.com/ZacxDev/video-editor/internal/config"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/urfave/negroni"
	"go.uber.org/zap"
)

// SetupRoutes registers the editor API on a new router.
func SetupRoutes(h *Handler) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/videos", h.UploadVideo).Methods("POST")

	r.HandleFunc("/sessions/{id}", h.GetSession).Methods("GET")
	r.HandleFunc("/sessions/{id}", h.DeleteSession).Methods("DELETE")
	r.HandleFunc("/sessions/{id}/transformation", h.ApplyTransformation).Methods("PUT")
	r.HandleFunc("/sessions/{id}/playback", h.UpdatePlayback).Methods("PUT")
	r.HandleFunc("/sessions/{id}/errors", h.ReportError).Methods("POST")
	r.HandleFunc("/sessions/{id}/download", h.Download).Methods("GET")

	// Stateless helpers
	r.HandleFunc("/transformations/url", h.BuildURL).Methods("POST")
	r.HandleFunc("/probe", h.Probe).Methods("GET")
	r.HandleFunc("/formats", h.Formats).Methods("GET")

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, "route not found", http.StatusNotFound)
	})
	return r
}

// SetupNegroni wraps the router with recovery and request logging.
func SetupNegroni(r *mux.Router, logger *zap.Logger) *negroni.Negroni {
	n := negroni.New()

	recovery := negroni.NewRecovery()
	recovery.PrintStack = false
	n.Use(recovery)
	n.Use(requestLogger(logger))

	n.UseHandler(r)
	return n
}

// requestLogger logs one line per request with its status and latency.
func requestLogger(logger *zap.Logger) negroni.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
		start := time.Now()
		next(rw, r)

		res, _ := rw.(negroni.ResponseWriter)
		status := http.StatusOK
		if res != nil && res.Status() != 0 {
			status = res.Status()
		}
		logger.Info("Handled request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)))
	}
}

// NewHTTPServer builds the listener from the server settings.
func NewHTTPServer(cfg config.ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      handler,
		IdleTimeout:  cfg.IdleTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
}

// Serve runs srv until ctx is cancelled, then drains open requests.
func Serve(ctx context.Context, srv *http.Server, logger *zap.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("Listening", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "server stopped")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logger.Info("Shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutdown")
	}
	return nil
}
