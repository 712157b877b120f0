package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/pnrr-announcements/internal/announcement"
)

type announcementsResponse struct {
	Announcements []announcement.Announcement `json:"announcements"`
	Count         int                         `json:"count"`
	LastUpdated   any                         `json:"last_updated"`
}

// listAnnouncements handles GET /api/announcements[?school_id=].
func (s *Server) listAnnouncements(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var (
		items []announcement.Announcement
		err   error
	)
	if schoolID := strings.TrimSpace(r.URL.Query().Get("school_id")); schoolID != "" {
		items, err = s.svc.GetBySchool(ctx, schoolID)
	} else {
		items, err = s.svc.GetAll(ctx)
	}
	if err != nil {
		s.logger.Error("list announcements failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load announcements")
		return
	}
	lastUpdated, err := s.svc.GetLastUpdated(ctx)
	if err != nil {
		s.logger.Error("load last updated failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load announcements")
		return
	}
	resp := announcementsResponse{Announcements: items, Count: len(items)}
	if lastUpdated != nil {
		resp.LastUpdated = lastUpdated
	}
	writeJSON(w, http.StatusOK, resp)
}

// getAnnouncement handles GET /api/announcements/{id}.
func (s *Server) getAnnouncement(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	item, ok, err := s.svc.GetByID(r.Context(), id)
	if err != nil {
		s.logger.Error("get announcement failed", zap.Int64("id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load announcement")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "announcement not found")
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) listSources(w http.ResponseWriter, _ *http.Request) {
	list := s.svc.Sources()
	if list == nil {
		list = []announcement.Source{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": list, "count": len(list)})
}
