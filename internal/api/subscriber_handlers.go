package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/pnrr-announcements/internal/subscriber"
)

const maxBodyBytes = 1 << 16

type subscribeRequest struct {
	Email     string   `json:"email"`
	SchoolIDs []string `json:"school_ids"`
}

type unsubscribeRequest struct {
	Email string `json:"email"`
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

// subscribe handles POST /api/subscribe. Validation failures answer 400.
func (s *Server) subscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	sub, err := s.svc.Subscribe(r.Context(), req.Email, req.SchoolIDs)
	if err != nil {
		var verr *subscriber.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, verr.Error())
			return
		}
		s.logger.Error("subscribe failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to subscribe")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "subscriber": sub})
}

// unsubscribe handles POST /api/unsubscribe.
func (s *Server) unsubscribe(w http.ResponseWriter, r *http.Request) {
	var req unsubscribeRequest
	if err := decodeBody(r, &req); err != nil || strings.TrimSpace(req.Email) == "" {
		writeError(w, http.StatusBadRequest, "email is required")
		return
	}
	found, err := s.svc.Unsubscribe(r.Context(), req.Email)
	if err != nil {
		var verr *subscriber.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, verr.Error())
			return
		}
		s.logger.Error("unsubscribe failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to unsubscribe")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true, "found": found})
}

// unsubscribePage handles GET /unsubscribe?email=, the link in notification
// emails.
func (s *Server) unsubscribePage(w http.ResponseWriter, r *http.Request) {
	email := strings.TrimSpace(r.URL.Query().Get("email"))
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if email == "" {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, "Missing email parameter.\n")
		return
	}
	found, err := s.svc.Unsubscribe(r.Context(), email)
	var verr *subscriber.ValidationError
	if errors.As(err, &verr) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, "Invalid email address.\n")
		return
	}
	if err != nil {
		s.logger.Error("unsubscribe link failed", zap.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, "Unsubscribe failed, please retry later.\n")
		return
	}
	w.WriteHeader(http.StatusOK)
	if !found {
		_, _ = io.WriteString(w, "No subscription found for this address.\n")
		return
	}
	_, _ = io.WriteString(w, "You have been unsubscribed.\n")
}
