// Package api provides the HTTP surface (component N): health, metrics,
// swagger docs, and the websocket upgrade endpoint. Every gameplay
// command flows over the websocket — this package never hosts a
// gameplay route of its own.
//
// @title Mafia Room Core API
// @version 1.0
// @description Real-time multiplayer social-deduction room server.
//
// @license.name MIT
//
// @host localhost:8080
// @BasePath /
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"
	"go.uber.org/zap"

	"github.com/sairajesh711/mafia-room-core/internal/engine"
	"github.com/sairajesh711/mafia-room-core/internal/realtime"
)

type Server struct {
	Router *chi.Mux
	logger *zap.Logger
}

func NewServer(wsServer *realtime.WSServer, logger *zap.Logger) *Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(corsMiddleware)

	s := &Server{Router: r, logger: logger}

	r.Get("/health", s.health)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))
	r.Handle("/ws", wsServer)

	return s
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type healthResponse struct {
	Status          string `json:"status"`
	Timestamp       int64  `json:"timestamp"`
	ProtocolVersion int    `json:"protocolVersion"`
}

// health godoc
// @Summary Health check endpoint
// @Description Returns server liveness and the wire protocol version
// @Tags System
// @Produce json
// @Success 200 {object} healthResponse
// @Router /health [get]
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(healthResponse{
		Status:          "ok",
		Timestamp:       time.Now().UnixMilli(),
		ProtocolVersion: engine.ProtocolVersion,
	})
}
