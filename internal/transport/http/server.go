package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/PrakarshSingh5/Rate-limiter-service/internal/gate"
	"github.com/PrakarshSingh5/Rate-limiter-service/internal/rule"
)

const maxBodyBytes = 1 << 20

// Server exposes the service boundary as JSON over HTTP.
type Server struct {
	svc      *gate.Service
	failOpen bool
	log      zerolog.Logger
}

// NewServer builds the transport. failOpen controls how a store outage is
// answered on /check: 503 when false, allowed-with-flag when true. The core
// itself never hides the failure.
func NewServer(svc *gate.Service, failOpen bool, log zerolog.Logger) *Server {
	return &Server{svc: svc, failOpen: failOpen, log: log}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /check", s.handleCheck)
	mux.HandleFunc("POST /rules", s.handleCreateRule)
	mux.HandleFunc("GET /rules", s.handleListRules)
	mux.HandleFunc("GET /rules/{id}", s.handleGetRule)
	mux.HandleFunc("PUT /rules/{id}", s.handleUpdateRule)
	mux.HandleFunc("DELETE /rules/{id}", s.handleDeleteRule)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return mux
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if !s.decode(w, r, &req) {
		return
	}

	result, err := s.svc.Check(r.Context(), toGateRequest(req))
	if err != nil {
		if s.failOpen && gate.CodeOf(err) == gate.CodeStoreUnavailable {
			s.log.Warn().Err(err).Str("key", req.Key).Msg("store unavailable, failing open")
			writeJSON(w, http.StatusOK, checkResponse{Allowed: true, FailedOpen: true})
			return
		}
		s.writeError(w, err)
		return
	}
	// A denied check is still a successful answer.
	writeJSON(w, http.StatusOK, toCheckResponse(result))
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var req rule.CreateRequest
	if !s.decode(w, r, &req) {
		return
	}
	created, err := s.svc.CreateRule(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	rules := s.svc.ListRules(r.Context())
	writeJSON(w, http.StatusOK, rules)
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	found, err := s.svc.GetRule(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, found)
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	var patch rule.UpdateRequest
	if !s.decode(w, r, &patch) {
		return
	}
	updated, err := s.svc.UpdateRule(r.Context(), r.PathValue("id"), patch)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	existed, err := s.svc.DeleteRule(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !existed {
		writeJSON(w, http.StatusNotFound, errorResponse{
			Error: "rule not found",
			Code:  string(gate.CodeRuleNotFound),
		})
		return
	}
	writeJSON(w, http.StatusOK, deleteResponse{Deleted: true})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	if err := s.svc.Health(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{
			Error: err.Error(),
			Code:  string(gate.CodeStoreUnavailable),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error: "invalid request body: " + err.Error(),
			Code:  string(gate.CodeValidation),
		})
		return false
	}
	return true
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	var gerr *gate.Error
	if errors.As(err, &gerr) {
		writeJSON(w, statusFor(gerr.Code), errorResponse{Error: gerr.Message, Code: string(gerr.Code)})
		return
	}
	s.log.Error().Err(err).Msg("unhandled service error")
	writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
