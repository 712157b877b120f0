package extractor

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"github.com/JakeFAU/pnrr-announcements/internal/announcement"
)

const (
	minYear        = 1900
	maxYear        = 2030
	futureHorizon  = 365 * 24 * time.Hour
	monthNames     = `gennaio|febbraio|marzo|aprile|maggio|giugno|luglio|agosto|settembre|ottobre|novembre|dicembre`
	monthDatePat   = `(\d{1,2})(?:°|º)?\s+(` + monthNames + `)\s+(\d{4})`
	numericDatePat = `(\d{1,2})[/.\-](\d{1,2})[/.\-](\d{4})`
)

// Text scan tiers.
const (
	priorityNumeric = 1
	priorityMonth   = 2
	priorityKeyword = 3
)

var italianMonths = map[string]time.Month{
	"gennaio":   time.January,
	"febbraio":  time.February,
	"marzo":     time.March,
	"aprile":    time.April,
	"maggio":    time.May,
	"giugno":    time.June,
	"luglio":    time.July,
	"agosto":    time.August,
	"settembre": time.September,
	"ottobre":   time.October,
	"novembre":  time.November,
	"dicembre":  time.December,
}

var (
	monthDateRe   = regexp.MustCompile(`(?i)\b` + monthDatePat + `\b`)
	numericDateRe = regexp.MustCompile(`\b` + numericDatePat + `\b`)
	keywordDateRe = regexp.MustCompile(`(?is)\b(?:scadenza|pubblicat\w*|data)\b.{0,40}?\b(\d{1,2}(?:°|º)?\s+(?:` +
		monthNames + `)\s+\d{4}|\d{1,2}[/.\-]\d{1,2}[/.\-]\d{4})`)
)

type dateCandidate struct {
	date     time.Time
	priority int
}

// scanDates returns every plausible date in text tagged with its tier.
func scanDates(text string, now time.Time) []dateCandidate {
	var out []dateCandidate
	for _, m := range keywordDateRe.FindAllStringSubmatch(text, -1) {
		if t, ok := parseDateToken(m[1], now); ok {
			out = append(out, dateCandidate{date: t, priority: priorityKeyword})
		}
	}
	for _, m := range monthDateRe.FindAllStringSubmatch(text, -1) {
		if t, ok := monthDate(m[1], m[2], m[3], now); ok {
			out = append(out, dateCandidate{date: t, priority: priorityMonth})
		}
	}
	for _, m := range numericDateRe.FindAllStringSubmatch(text, -1) {
		if t, ok := numericDate(m[1], m[2], m[3], now); ok {
			out = append(out, dateCandidate{date: t, priority: priorityNumeric})
		}
	}
	return out
}

// bestTextDate picks the highest-priority candidate, preferring the most
// recent date within a tier.
func bestTextDate(text string, now time.Time) (announcement.Date, bool) {
	var best *dateCandidate
	for _, c := range scanDates(text, now) {
		if best == nil || c.priority > best.priority ||
			(c.priority == best.priority && c.date.After(best.date)) {
			best = &c
		}
	}
	if best == nil {
		return announcement.Date{}, false
	}
	return announcement.DateOf(best.date), true
}

// earliestTextDate returns the oldest plausible date in text.
func earliestTextDate(text string, now time.Time) (announcement.Date, bool) {
	var earliest time.Time
	for _, c := range scanDates(text, now) {
		if earliest.IsZero() || c.date.Before(earliest) {
			earliest = c.date
		}
	}
	if earliest.IsZero() {
		return announcement.Date{}, false
	}
	return announcement.DateOf(earliest), true
}

func parseDateToken(token string, now time.Time) (time.Time, bool) {
	if m := monthDateRe.FindStringSubmatch(token); m != nil {
		return monthDate(m[1], m[2], m[3], now)
	}
	if m := numericDateRe.FindStringSubmatch(token); m != nil {
		return numericDate(m[1], m[2], m[3], now)
	}
	return time.Time{}, false
}

func monthDate(day, month, year string, now time.Time) (time.Time, bool) {
	m, ok := italianMonths[strings.ToLower(month)]
	if !ok {
		return time.Time{}, false
	}
	return validDate(atoi(year), int(m), atoi(day), now)
}

func numericDate(day, month, year string, now time.Time) (time.Time, bool) {
	return validDate(atoi(year), atoi(month), atoi(day), now)
}

func validDate(year, month, day int, now time.Time) (time.Time, bool) {
	if year < minYear || year > maxYear || month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, false
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if t.Day() != day {
		// 31/02 and friends normalize into the next month.
		return time.Time{}, false
	}
	if !now.IsZero() && t.After(now.Add(futureHorizon)) {
		return time.Time{}, false
	}
	return t, true
}

func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return -1
	}
	return n
}

// parseMetaDate parses a structured date attribute. Day-first numeric forms
// and Italian month names are tried before the generic parser, which assumes
// month-first for ambiguous slashes.
func parseMetaDate(value string) (announcement.Date, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return announcement.Date{}, false
	}
	if m := numericDateRe.FindStringSubmatch(value); m != nil && m[0] == value {
		t, ok := numericDate(m[1], m[2], m[3], time.Time{})
		return announcement.DateOf(t), ok
	}
	if m := monthDateRe.FindStringSubmatch(value); m != nil {
		t, ok := monthDate(m[1], m[2], m[3], time.Time{})
		return announcement.DateOf(t), ok
	}
	t, err := dateparse.ParseAny(value)
	if err != nil || t.IsZero() {
		return announcement.Date{}, false
	}
	return announcement.DateOf(t), true
}
