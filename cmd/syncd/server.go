package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/rzpsarthak13/storefwd/internal/core"
	"github.com/rzpsarthak13/storefwd/internal/queue"
	"github.com/rzpsarthak13/storefwd/internal/registry"
	"github.com/rzpsarthak13/storefwd/pkg/storefwd"
)

type server struct {
	svc    *storefwd.Service
	logger zerolog.Logger
}

func newServer(svc *storefwd.Service, logger zerolog.Logger) *server {
	return &server{svc: svc, logger: logger.With().Str("component", "http").Logger()}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.health)
	mux.HandleFunc("GET /status", s.status)
	mux.HandleFunc("GET /stats", s.stats)
	mux.HandleFunc("GET /pending", s.pending)
	mux.HandleFunc("POST /enqueue", s.enqueue)
	mux.HandleFunc("POST /sync", s.sync)
	mux.HandleFunc("POST /online", s.online)
	return mux
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func (s *server) health(w http.ResponseWriter, _ *http.Request) {
	st := s.svc.Status()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":          "ok",
		"timestamp":       time.Now().Format(time.RFC3339),
		"online":          st.IsOnline,
		"pending_changes": st.PendingChanges,
	})
}

func (s *server) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Status())
}

func (s *server) stats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Stats())
}

type pendingView struct {
	Key        string    `json:"key"`
	Kind       core.Kind `json:"kind"`
	Priority   int       `json:"priority"`
	RetryCount int       `json:"retry_count"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

func (s *server) pending(w http.ResponseWriter, _ *http.Request) {
	ops := s.svc.Pending()
	out := make([]pendingView, 0, len(ops))
	for _, op := range ops {
		out = append(out, pendingView{
			Key:        op.Key,
			Kind:       op.Kind,
			Priority:   int(op.Priority),
			RetryCount: op.RetryCount,
			EnqueuedAt: op.EnqueuedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type enqueueRequest struct {
	Table   string      `json:"table"`
	Kind    core.Kind   `json:"kind"`
	Payload core.Record `json:"payload"`
}

func (s *server) enqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON: %w", err))
		return
	}
	if req.Table == "" {
		writeError(w, http.StatusBadRequest, errors.New("table is required"))
		return
	}

	payload, err := core.PayloadFromRecord(req.Table, req.Payload)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.svc.Enqueue(r.Context(), req.Table, req.Kind, payload); err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, queue.ErrInvalidOperation) || errors.Is(err, registry.ErrUnregisteredTable) {
			code = http.StatusBadRequest
		}
		writeError(w, code, err)
		return
	}

	s.logger.Debug().Str("table", req.Table).Str("kind", string(req.Kind)).Msg("accepted mutation")
	writeJSON(w, http.StatusAccepted, s.svc.Status())
}

func (s *server) sync(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.ForceSync(r.Context()))
}

func (s *server) online(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Online *bool `json:"online"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Online == nil {
		writeError(w, http.StatusBadRequest, errors.New(`body must be {"online": true|false}`))
		return
	}
	s.svc.SetOnline(*req.Online)
	writeJSON(w, http.StatusOK, s.svc.Status())
}
