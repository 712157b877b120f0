// Package reconcile merges freshly scraped drafts into the stored snapshot.
//
// Identity is the (school_id, link) pair. Stored items keep their id and
// first_seen forever; everything else is taken from the latest scrape. Items
// not seen in a run are carried over and only disappear once their last_seen
// is older than the retention window.
package reconcile

import (
	"time"

	"github.com/JakeFAU/pnrr-announcements/internal/announcement"
)

// DefaultRetention is how long an unseen announcement is kept.
const DefaultRetention = 180 * 24 * time.Hour

// Stats summarizes one reconciliation.
type Stats struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Carried int `json:"carried"`
	Pruned  int `json:"pruned"`
	Skipped int `json:"skipped"`
	Total   int `json:"total"`
}

// Result is the merged snapshot plus the items that did not exist before.
type Result struct {
	Snapshot announcement.Snapshot
	New      []announcement.Announcement
	Stats    Stats
}

// Engine is stateless apart from its retention setting.
type Engine struct {
	retention time.Duration
}

// New builds an Engine; a non-positive retention uses DefaultRetention.
func New(retention time.Duration) *Engine {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Engine{retention: retention}
}

// Retention returns the pruning window.
func (e *Engine) Retention() time.Duration {
	return e.retention
}

// Reconcile merges scraped into prev as of now. prev is not modified.
func (e *Engine) Reconcile(prev announcement.Snapshot, scraped []announcement.Announcement, now time.Time) Result {
	var stats Stats

	items := make([]announcement.Announcement, 0, len(prev.Announcements)+len(scraped))
	index := make(map[announcement.Key]int, len(prev.Announcements))
	highest := prev.LastID
	for _, stored := range prev.Announcements {
		highest = max(highest, stored.ID)
		item := stored.Clone()
		if item.FirstSeen.IsZero() {
			item.FirstSeen = now
		}
		if item.LastSeen.IsZero() {
			item.LastSeen = now
		}
		if key := item.Key(); key.Valid() {
			if _, dup := index[key]; dup {
				// Keep the first occurrence of a duplicated key.
				continue
			}
			index[key] = len(items)
		}
		items = append(items, item)
	}

	touched := make(map[announcement.Key]struct{}, len(scraped))
	created := make(map[announcement.Key]struct{})
	for _, draft := range scraped {
		key := draft.Key()
		if !key.Valid() {
			stats.Skipped++
			continue
		}
		merged := draft.Clone()
		merged.LastSeen = now
		if pos, ok := index[key]; ok {
			stored := items[pos]
			merged.ID = stored.ID
			merged.FirstSeen = stored.FirstSeen
			items[pos] = merged
			if _, seen := touched[key]; !seen {
				if _, isNew := created[key]; !isNew {
					stats.Updated++
				}
			}
		} else {
			merged.ID = 0
			merged.FirstSeen = now
			index[key] = len(items)
			items = append(items, merged)
			created[key] = struct{}{}
		}
		touched[key] = struct{}{}
	}

	cutoff := now.Add(-e.retention)
	kept := items[:0]
	for _, item := range items {
		if item.LastSeen.Before(cutoff) {
			stats.Pruned++
			continue
		}
		if _, ok := touched[item.Key()]; !ok {
			stats.Carried++
		}
		kept = append(kept, item)
	}
	items = kept

	announcement.SortForDisplay(items)
	for i := range items {
		if items[i].ID == 0 {
			highest++
			items[i].ID = highest
		}
	}

	fresh := make([]announcement.Announcement, 0, len(created))
	for _, item := range items {
		if _, ok := created[item.Key()]; ok {
			fresh = append(fresh, item.Clone())
		}
	}

	stats.Created = len(created)
	stats.Total = len(items)
	updated := now
	return Result{
		Snapshot: announcement.Snapshot{
			LastUpdated:   &updated,
			LastID:        highest,
			Announcements: items,
		},
		New:   fresh,
		Stats: stats,
	}
}
