package extractor

import (
	"strings"

	"github.com/JakeFAU/pnrr-announcements/internal/announcement"
)

var (
	highlightKeywords = []string{"avviso", "selezione", "tutor", "bando", "assunzione", "progetto", "incarico"}
	openKeywords      = []string{"selezione", "avviso", "bando"}
)

// Highlight reports whether title mentions any highlight keyword.
func Highlight(title string) bool {
	return containsAny(title, highlightKeywords)
}

// StatusFor derives the status label from title.
func StatusFor(title string) announcement.Status {
	if containsAny(title, openKeywords) {
		return announcement.StatusOpen
	}
	return announcement.StatusPublished
}

func containsAny(s string, keywords []string) bool {
	lower := strings.ToLower(s)
	for _, k := range keywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}
