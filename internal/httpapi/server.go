package httpapi

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/antoniostano/parley/internal/config"
	"github.com/antoniostano/parley/internal/observability"
	"github.com/antoniostano/parley/internal/playback"
	"github.com/antoniostano/parley/internal/session"
	"github.com/antoniostano/parley/internal/store"
	"github.com/antoniostano/parley/internal/transport"
	"github.com/antoniostano/parley/internal/vad"
	"github.com/antoniostano/parley/internal/voice"
)

type Server struct {
	cfg      config.Config
	sessions *session.Manager
	driver   *voice.Driver
	library  *playback.FileLibrary
	store    store.Store
	metrics  *observability.Metrics
	upgrader websocket.Upgrader
}

func New(cfg config.Config, sessions *session.Manager, driver *voice.Driver, library *playback.FileLibrary, st store.Store, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:      cfg,
		sessions: sessions,
		driver:   driver,
		library:  library,
		store:    st,
		metrics:  metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Default: only allow browser websocket connections from
				// the same origin, so other websites cannot drive a
				// user's mic session if the service is exposed beyond
				// localhost.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Get("/v1/sources", s.handleListSources)
	r.Get("/v1/sessions", s.handleListSessions)
	r.Get("/v1/sessions/{sessionID}/events", s.handleSessionEvents)
	r.Get("/v1/voice/ws", s.handleVoiceWS)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	// Ready means we can actually respond: at least one source must exist.
	names, err := s.library.List()
	if err != nil || len(names) == 0 {
		respondJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "no_audio_sources",
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":  "ready",
		"sources": len(names),
	})
}

func (s *Server) handleListSources(w http.ResponseWriter, _ *http.Request) {
	names, err := s.library.List()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "audio_dir_unreadable", err.Error())
		return
	}
	if names == nil {
		names = []string{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"sources": names,
		"count":   len(names),
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	active := s.sessions.ListActive()
	if active == nil {
		active = []*session.Session{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"sessions": active,
		"count":    len(active),
	})
}

// handleSessionEvents returns the persisted turn events of one session in
// chronological order.
func (s *Server) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if _, err := s.sessions.Get(sessionID); err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", "unknown session")
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = n
	}

	events, err := s.store.RecentEvents(r.Context(), sessionID, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "events_unavailable", err.Error())
		return
	}
	if events == nil {
		events = []store.TurnEvent{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"events":     events,
		"count":      len(events),
	})
}

// handleVoiceWS upgrades the connection and runs the turn-taking engine on
// it until the peer disconnects. Each session gets its own detector,
// classifier, and streamer; nothing is shared across sessions.
func (s *Server) handleVoiceWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	detector, err := vad.NewEnergyDetector(s.cfg.FrameSamples)
	if err != nil {
		log.Printf("ws %s: detector init failed: %v", r.RemoteAddr, err)
		_ = ws.Close()
		return
	}
	classifier := vad.NewClassifier(detector, s.cfg.FrameBytes(), s.cfg.SpeechThreshold)

	conn := transport.NewConn(ws)
	streamer := playback.NewStreamer(s.library, conn, s.cfg.OutputSampleRate, s.cfg.ChunkDuration)
	sess := s.sessions.Create(r.RemoteAddr)
	s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()

	log.Printf("session %s: client connected from %s", sess.ID, r.RemoteAddr)
	if err := s.driver.RunSession(r.Context(), sess, conn, classifier, streamerTask{streamer}); err != nil {
		log.Printf("session %s: ended with error: %v", sess.ID, err)
	}
	log.Printf("session %s: client %s disconnected", sess.ID, r.RemoteAddr)
}

// streamerTask lifts the concrete playback streamer to the driver's
// interface without letting a typed nil task escape on error.
type streamerTask struct {
	s *playback.Streamer
}

func (a streamerTask) Start(ctx context.Context) (voice.Task, error) {
	task, err := a.s.Start(ctx)
	if err != nil {
		return nil, err
	}
	return task, nil
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
