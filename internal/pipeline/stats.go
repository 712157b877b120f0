package pipeline

import (
	"time"

	"github.com/JakeFAU/pnrr-announcements/internal/reconcile"
)

// SourceStats summarises one source within a run.
type SourceStats struct {
	SourceID string `json:"source_id"`
	Name     string `json:"name"`
	Links    int    `json:"links"`
	Scraped  int    `json:"scraped"`
	Failed   int    `json:"failed"`
	Error    string `json:"error,omitempty"`
}

// RunStats summarises a run.
type RunStats struct {
	RunID      string          `json:"run_id"`
	Success    bool            `json:"success"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Duration   time.Duration   `json:"duration_ns"`
	Sources    []SourceStats   `json:"sources"`
	Links      int             `json:"links"`
	Scraped    int             `json:"scraped"`
	Failed     int             `json:"failed"`
	New        int             `json:"new"`
	Reconcile  reconcile.Stats `json:"reconcile"`
	Published  int             `json:"published"`
	EmailsSent int             `json:"emails_sent"`
	Error      string          `json:"error,omitempty"`
}

func (s *RunStats) add(src SourceStats) {
	s.Sources = append(s.Sources, src)
	s.Links += src.Links
	s.Scraped += src.Scraped
	s.Failed += src.Failed
}
