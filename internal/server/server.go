/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package server exposes the read-only ops listener: health, metrics, live
// encoder stats, now playing and the encoder log tail.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	ws "nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/friendsincode/grimnir_tv/internal/config"
	"github.com/friendsincode/grimnir_tv/internal/encoder"
	"github.com/friendsincode/grimnir_tv/internal/logbuffer"
	"github.com/friendsincode/grimnir_tv/internal/models"
	"github.com/friendsincode/grimnir_tv/internal/playout"
	"github.com/friendsincode/grimnir_tv/internal/telemetry"
)

// StatsPushInterval is how often the websocket stream sends stats.
const StatsPushInterval = 500 * time.Millisecond

// Playout is the scheduler surface read by the listener.
type Playout interface {
	Status() playout.Status
	Stats() encoder.Stats
}

// NowPlayingSource returns the latest history row and its video.
type NowPlayingSource interface {
	NowPlaying(ctx context.Context) (*models.Video, *models.PlayoutLog, error)
}

// Server is the ops HTTP listener.
type Server struct {
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server

	playout    Playout
	nowPlaying NowPlayingSource
	logs       *logbuffer.Buffer
}

// New constructs the listener. logs may be nil.
func New(cfg *config.Config, p Playout, np NowPlayingSource, logs *logbuffer.Buffer, logger zerolog.Logger) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.TracingMiddleware("grimnir-tv-ops"))
	router.Use(telemetry.MetricsMiddleware)

	s := &Server{
		logger:     logger.With().Str("component", "ops").Logger(),
		router:     router,
		playout:    p,
		nowPlaying: np,
		logs:       logs,
	}
	s.configureRoutes()

	s.httpServer = &http.Server{
		Addr:              cfg.OpsBind,
		Handler:           s.router,
		ReadHeaderTimeout: 15 * time.Second,
		// websocket streams manage their own deadlines
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until Shutdown. http.ErrServerClosed is not an error.
func (s *Server) ListenAndServe() error {
	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("ops listener started")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for active requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	s.router.Handle("/metrics", telemetry.Handler())

	s.router.Route("/api/playout", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/stats", s.handleStats)
		r.Get("/stats/ws", s.handleStatsWS)
		r.Get("/now-playing", s.handleNowPlaying)
		r.Get("/logs", s.handleLogs)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.playout.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"started":       status.Started,
		"paused":        status.Paused,
		"relay_running": status.Running,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.playout.Status())
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.playout.Stats())
}

func (s *Server) handleNowPlaying(w http.ResponseWriter, r *http.Request) {
	video, entry, err := s.nowPlaying.NowPlaying(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("now playing lookup failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	if video == nil {
		writeJSON(w, http.StatusOK, map[string]any{})
		return
	}

	resp := map[string]any{
		"id":        video.ID,
		"title":     video.Title,
		"artist":    video.Artist,
		"year":      video.Year,
		"genre":     video.Genre,
		"path":      video.Path,
		"is_ident":  video.IsIdent,
		"played_at": entry.PlayedAt,
		"on_air":    entry.Open(),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if s.logs == nil {
		writeJSON(w, http.StatusOK, []logbuffer.LogEntry{})
		return
	}
	q := r.URL.Query()
	params := logbuffer.QueryParams{
		Source: q.Get("source"),
		Search: q.Get("search"),
		Limit:  200,
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit")
			return
		}
		params.Limit = n
	}
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_since")
			return
		}
		params.Since = since
	}

	entries := s.logs.Query(params)
	if entries == nil {
		entries = []logbuffer.LogEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleStatsWS(w http.ResponseWriter, r *http.Request) {
	conn, err := ws.Accept(w, r, &ws.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		s.logger.Error().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(ws.StatusInternalError, "server error")

	telemetry.APIWebSocketConnections.Inc()
	defer telemetry.APIWebSocketConnections.Dec()

	// clients only listen; CloseRead handles their close frames
	ctx := conn.CloseRead(r.Context())

	ticker := time.NewTicker(StatsPushInterval)
	defer ticker.Stop()

	for {
		if err := wsjson.Write(ctx, conn, s.playout.Stats()); err != nil {
			s.logger.Debug().Err(err).Msg("stats websocket closed")
			return
		}
		select {
		case <-ctx.Done():
			conn.Close(ws.StatusNormalClosure, "")
			return
		case <-ticker.C:
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
