package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"aiquery/internal/core"
	"aiquery/internal/log"
)

type detailResponse struct {
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, detailResponse{Detail: detail})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, "Server is up and running")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ready.Ping(ctx); err != nil {
			log.FromContext(r.Context()).WarnContext(r.Context(), "Readiness check failed", log.FieldError, err)
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("session store unavailable"))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request) {
	logger := log.FromContext(r.Context())
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)

	reply, err := s.conversations.Converse(r.Context(), body)
	if err != nil {
		var validation *core.ValidationError
		if errors.As(err, &validation) {
			logger.WarnContext(r.Context(), "Rejected conversation request", log.FieldError, err)
			writeDetail(w, http.StatusBadRequest, "Invalid input: "+err.Error())
			return
		}
		logger.ErrorContext(r.Context(), "Conversation failed", log.FieldError, err)
		writeDetail(w, http.StatusInternalServerError, "Internal server error: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, reply)
}
