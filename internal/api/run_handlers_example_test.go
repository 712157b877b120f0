package api

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/pnrr-announcements/internal/store"
)

func ExampleRunHandler_ListRuns() {
	repo := &mockRunRepo{
		runs: []store.Run{{
			ID:        uuid.MustParse("018f3c1e-7b7a-7c00-8000-000000000001"),
			StartedAt: time.Date(2024, time.June, 1, 6, 0, 0, 0, time.UTC),
			Status:    store.RunRunning,
		}},
	}
	handler := NewRunHandler(repo, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/api/runs?limit=1", nil)
	rec := httptest.NewRecorder()
	handler.ListRuns(rec, req)

	fmt.Println(rec.Code)
	fmt.Print(rec.Body.String())
	// Output:
	// 200
	// {"runs":[{"run_id":"018f3c1e-7b7a-7c00-8000-000000000001","started_at":"2024-06-01T06:00:00Z","status":"running","new_items":0}]}
}
