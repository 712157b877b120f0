// Package announcement defines the records produced by the ingestion pipeline
// and persisted in the document store.
package announcement

import (
	"slices"
	"sort"
	"strings"
	"time"
)

// Status is the coarse lifecycle label derived from the title.
type Status string

// Supported statuses.
const (
	StatusOpen      Status = "Open"
	StatusPublished Status = "Published"
)

// AttachmentType classifies attachment links by extension.
type AttachmentType string

// Known attachment types.
const (
	AttachmentPDF     AttachmentType = "pdf"
	AttachmentDOC     AttachmentType = "doc"
	AttachmentDOCX    AttachmentType = "docx"
	AttachmentXLS     AttachmentType = "xls"
	AttachmentXLSX    AttachmentType = "xlsx"
	AttachmentZIP     AttachmentType = "zip"
	AttachmentRAR     AttachmentType = "rar"
	AttachmentUnknown AttachmentType = "unknown"
)

// AttachmentTypeFromExt maps a file extension (with or without the dot) to an
// AttachmentType.
func AttachmentTypeFromExt(ext string) AttachmentType {
	switch t := AttachmentType(strings.ToLower(strings.TrimPrefix(ext, "."))); t {
	case AttachmentPDF, AttachmentDOC, AttachmentDOCX, AttachmentXLS, AttachmentXLSX, AttachmentZIP, AttachmentRAR:
		return t
	default:
		return AttachmentUnknown
	}
}

// Attachment is a downloadable document linked from an announcement page.
type Attachment struct {
	URL         string         `json:"url"`
	Label       string         `json:"label"`
	Type        AttachmentType `json:"type"`
	TextContent string         `json:"text_content,omitempty"`
}

// Source is a configured institutional site.
type Source struct {
	ID         string `json:"id" yaml:"id"`
	Name       string `json:"name" yaml:"name"`
	BaseURL    string `json:"base_url" yaml:"base_url"`
	ListingURL string `json:"listing_url" yaml:"listing_url"`
	City       string `json:"city" yaml:"city"`
	Active     bool   `json:"active" yaml:"active"`
}

// Announcement is one scraped item keyed by (SchoolID, Link).
type Announcement struct {
	ID            int64        `json:"id,omitempty"`
	SchoolID      string       `json:"school_id"`
	SchoolName    string       `json:"school_name,omitempty"`
	Link          string       `json:"link"`
	Title         string       `json:"title"`
	Summary       string       `json:"summary"`
	Body          string       `json:"body"`
	Category      string       `json:"category"`
	SourceDomain  string       `json:"source_domain"`
	City          string       `json:"city"`
	PublishedDate Date         `json:"published_date"`
	Status        Status       `json:"status"`
	Highlight     bool         `json:"highlight"`
	Tags          []string     `json:"tags"`
	Attachments   []Attachment `json:"attachments"`
	FirstSeen     time.Time    `json:"first_seen"`
	LastSeen      time.Time    `json:"last_seen"`
}

// Key is the natural key of an announcement.
type Key struct {
	SchoolID string
	Link     string
}

// String renders the key in its persisted "school|link" form.
func (k Key) String() string {
	return k.SchoolID + "|" + k.Link
}

// Valid reports whether both halves of the key are set.
func (k Key) Valid() bool {
	return k.SchoolID != "" && k.Link != ""
}

// Key returns the natural key of a.
func (a Announcement) Key() Key {
	return Key{SchoolID: a.SchoolID, Link: a.Link}
}

// Clone returns a copy that shares no slices with a.
func (a Announcement) Clone() Announcement {
	out := a
	out.Tags = slices.Clone(a.Tags)
	out.Attachments = slices.Clone(a.Attachments)
	return out
}

// Snapshot is the persisted announcements document.
type Snapshot struct {
	LastUpdated   *time.Time     `json:"last_updated"`
	LastID        int64          `json:"last_id,omitempty"`
	Announcements []Announcement `json:"announcements"`
}

// SortForDisplay orders items by published date descending, then title
// ascending. Unknown dates sort last. School and link break remaining ties so
// the order is total.
func SortForDisplay(items []Announcement) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if c := a.PublishedDate.Compare(b.PublishedDate); c != 0 {
			return c > 0
		}
		if a.Title != b.Title {
			return a.Title < b.Title
		}
		if a.SchoolID != b.SchoolID {
			return a.SchoolID < b.SchoolID
		}
		return a.Link < b.Link
	})
}
