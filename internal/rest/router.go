// Package rest serves the presence API and the WebSocket push endpoint for
// incoming messages.
package rest

import (
	"encoding/json"
	"net/http"
	"time"

	"zabon/realtime-service/internal/service"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

type Handler struct {
	presence service.PresenceService
	chats    service.ChatService
	logger   *logrus.Logger
}

func NewHandler(presence service.PresenceService, chats service.ChatService, logger *logrus.Logger) *Handler {
	return &Handler{
		presence: presence,
		chats:    chats,
		logger:   logger,
	}
}

// NewRouter wires the routes. When jwtSecret is non-empty every route except
// /health requires a bearer token whose user_id claim matches the path user.
func NewRouter(h *Handler, jwtSecret string) *mux.Router {
	r := mux.NewRouter()
	r.Use(loggingMiddleware(h.logger))

	r.HandleFunc("/health", healthCheck).Methods(http.MethodGet)

	api := r.NewRoute().Subrouter()
	if jwtSecret != "" {
		api.Use(jwtAuth(jwtSecret))
	}

	api.HandleFunc("/presence", h.getStatuses).Methods(http.MethodGet)
	api.HandleFunc("/presence/{userID}", h.setStatus).Methods(http.MethodPut)
	api.HandleFunc("/presence/{userID}", h.getStatus).Methods(http.MethodGet)
	api.HandleFunc("/ws/messages/{userID}", h.subscribeMessages).Methods(http.MethodGet)

	return r
}

func healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorResponse{Error: msg})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func loggingMiddleware(logger *logrus.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// The WebSocket upgrade needs the raw writer's Hijacker.
			if r.Header.Get("Upgrade") != "" {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			wrapped := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			logger.WithFields(logrus.Fields{
				"remote_addr": r.RemoteAddr,
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      wrapped.status,
				"duration":    time.Since(start).String(),
			}).Debug("HTTP request")
		})
	}
}
