package api

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/JakeFAU/pnrr-announcements/internal/service"
)

// triggerFetch handles POST /api/fetch. It answers 200 with the run result,
// 409 while another run is active, or 500 when the run failed.
func (s *Server) triggerFetch(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.TriggerFetch(r.Context())
	switch {
	case errors.Is(err, service.ErrFetchInProgress):
		writeJSON(w, http.StatusConflict, res)
	case err != nil:
		s.logger.Warn("fetch trigger failed", zap.String("run_id", res.RunID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, res)
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

func (s *Server) fetchStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.GetFetchProgress())
}

// fetchStats handles GET /api/fetch/stats; 404 before any run.
func (s *Server) fetchStats(w http.ResponseWriter, r *http.Request) {
	stats, ok, err := s.svc.GetLastFetchStats(r.Context())
	if err != nil {
		s.logger.Error("load fetch stats failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load fetch stats")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "no fetch recorded yet")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
