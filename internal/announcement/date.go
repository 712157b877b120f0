package announcement

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// Date is a calendar date. The zero value is the "unknown" date, which
// compares earlier than every known date.
type Date struct {
	t time.Time
}

// NewDate builds a known date.
func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar date in t's location.
func DateOf(t time.Time) Date {
	if t.IsZero() {
		return Date{}
	}
	return NewDate(t.Year(), t.Month(), t.Day())
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return Date{t: t}, nil
}

// IsUnknown reports whether d is the unknown sentinel.
func (d Date) IsUnknown() bool {
	return d.t.IsZero()
}

// Time returns midnight UTC of d, or the zero time when unknown.
func (d Date) Time() time.Time {
	return d.t
}

// Compare returns -1, 0 or 1. Unknown is the smallest value.
func (d Date) Compare(o Date) int {
	switch {
	case d.t.Equal(o.t):
		return 0
	case d.t.Before(o.t):
		return -1
	default:
		return 1
	}
}

// Before reports whether d is strictly earlier than o.
func (d Date) Before(o Date) bool {
	return d.Compare(o) < 0
}

// String returns YYYY-MM-DD, or "" for unknown.
func (d Date) String() string {
	if d.IsUnknown() {
		return ""
	}
	return d.t.Format(dateLayout)
}

// MarshalJSON encodes unknown as null.
func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsUnknown() {
		return []byte("null"), nil
	}
	return json.Marshal(d.String())
}

// UnmarshalJSON accepts null, "", YYYY-MM-DD and RFC 3339 timestamps.
func (d *Date) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*d = Date{}
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode date: %w", err)
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		*d = Date{}
		return nil
	}
	if parsed, err := ParseDate(raw); err == nil {
		*d = parsed
		return nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return fmt.Errorf("decode date %q: %w", raw, err)
	}
	*d = DateOf(t)
	return nil
}
