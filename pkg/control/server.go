// Package control exposes the operator HTTP API: placing outbound bridged
// calls, ending live ones, and inspecting call state.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/voxlate/voxlate/pkg/bridge"
)

// CallController is the slice of the bridge coordinator the API drives.
type CallController interface {
	StartCall(ctx context.Context, to, source, target string) (string, error)
	EndCall(ctx context.Context, callSID string) error
	CallStatusFor(callSID string) (bridge.CallStatus, bool)
	ActiveCalls() []bridge.CallStatus
}

type Config struct {
	Addr string
}

type Server struct {
	cfg    Config
	coord  CallController
	logger *slog.Logger
	server *http.Server
}

func NewServer(cfg Config, coord CallController, logger *slog.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8081"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{cfg: cfg, coord: coord, logger: logger}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /start-call", s.handleStartCall)
	mux.HandleFunc("POST /end-call/{sid}", s.handleEndCall)
	mux.HandleFunc("GET /call-status/{sid}", s.handleCallStatus)
	mux.HandleFunc("GET /active-calls", s.handleActiveCalls)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return mux
}

func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.cfg.Addr,
		ReadHeaderTimeout: 5 * time.Second,
		Handler:           s.Handler(),
	}
	go func() {
		<-ctx.Done()
		_ = s.server.Close()
	}()
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("control_server_error", "error", err.Error())
		}
	}()
	s.logger.Info("control_server_listening", "addr", s.cfg.Addr)
	return nil
}

func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

type startCallRequest struct {
	To         string `json:"to"`
	SourceLang string `json:"source_lang"`
	TargetLang string `json:"target_lang"`
}

func (s *Server) handleStartCall(w http.ResponseWriter, r *http.Request) {
	var req startCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.To) == "" {
		writeError(w, http.StatusBadRequest, "to is required")
		return
	}
	callSID, err := s.coord.StartCall(r.Context(), req.To, req.SourceLang, req.TargetLang)
	if err != nil {
		s.logger.Warn("control_start_call_failed", "to", req.To, "error", err.Error())
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"call_sid": callSID})
}

func (s *Server) handleEndCall(w http.ResponseWriter, r *http.Request) {
	sid := r.PathValue("sid")
	if err := s.coord.EndCall(r.Context(), sid); err != nil {
		s.logger.Warn("control_end_call_failed", "call_sid", sid, "error", err.Error())
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"call_sid": sid, "status": "ended"})
}

func (s *Server) handleCallStatus(w http.ResponseWriter, r *http.Request) {
	sid := r.PathValue("sid")
	status, ok := s.coord.CallStatusFor(sid)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown call")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleActiveCalls(w http.ResponseWriter, r *http.Request) {
	calls := s.coord.ActiveCalls()
	writeJSON(w, http.StatusOK, map[string]any{
		"count": len(calls),
		"calls": calls,
	})
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
