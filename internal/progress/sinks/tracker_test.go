package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/pnrr-announcements/internal/progress"
)

func TestTrackerFollowsLatestRun(t *testing.T) {
	t.Parallel()

	tracker := NewTracker()
	require.False(t, tracker.Snapshot().Running)

	first := progress.UUIDToBytes(uuid.New())
	second := progress.UUIDToBytes(uuid.New())
	now := time.Now()
	ctx := context.Background()

	require.NoError(t, tracker.Consume(ctx, []progress.Event{
		{RunID: first, TS: now, Stage: progress.StageRunStart, Items: 2},
		{RunID: first, TS: now, Stage: progress.StageSourceStart, Source: "b"},
		{RunID: first, TS: now, Stage: progress.StageSourceStart, Source: "a"},
		{RunID: first, TS: now, Stage: progress.StageFetchDone, Source: "a", Site: "a.it", StatusClass: progress.Status2xx},
		{RunID: first, TS: now, Stage: progress.StageFetchDone, Source: "a", Site: "a.it", StatusClass: progress.Status2xx, Headless: true},
		{RunID: first, TS: now, Stage: progress.StageSourceDone, Source: "b", Items: 3, Failed: 1},
	}))

	snap := tracker.Snapshot()
	require.True(t, snap.Running)
	require.Equal(t, uuid.UUID(first).String(), snap.RunID)
	require.Equal(t, int64(2), snap.SourcesTotal)
	require.Equal(t, int64(1), snap.SourcesDone)
	require.Equal(t, []string{"a"}, snap.Active)
	require.Equal(t, int64(2), snap.Fetches)
	require.Equal(t, int64(1), snap.Headless)
	require.Equal(t, int64(3), snap.Scraped)
	require.Equal(t, int64(1), snap.Failed)

	require.NoError(t, tracker.Consume(ctx, []progress.Event{
		{RunID: first, TS: now.Add(time.Minute), Stage: progress.StageRunDone, Items: 3},
	}))
	snap = tracker.Snapshot()
	require.False(t, snap.Running)
	require.NotNil(t, snap.FinishedAt)
	require.Equal(t, int64(3), snap.NewItems)
	require.Empty(t, snap.Active)

	require.NoError(t, tracker.Consume(ctx, []progress.Event{
		{RunID: second, TS: now.Add(2 * time.Minute), Stage: progress.StageRunStart, Items: 1},
		{RunID: first, TS: now.Add(2 * time.Minute), Stage: progress.StageSourceDone, Source: "a", Items: 9},
	}))
	snap = tracker.Snapshot()
	require.True(t, snap.Running)
	require.Equal(t, uuid.UUID(second).String(), snap.RunID)
	require.Zero(t, snap.Scraped)
}

func TestTrackerRunError(t *testing.T) {
	t.Parallel()

	tracker := NewTracker()
	runID := progress.UUIDToBytes(uuid.New())
	require.NoError(t, tracker.Consume(context.Background(), []progress.Event{
		{RunID: runID, TS: time.Now(), Stage: progress.StageRunStart},
		{RunID: runID, TS: time.Now(), Stage: progress.StageRunError, Note: "no active sources"},
	}))
	snap := tracker.Snapshot()
	require.False(t, snap.Running)
	require.Equal(t, "no active sources", snap.Error)
}
