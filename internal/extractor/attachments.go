package extractor

import (
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/pnrr-announcements/internal/announcement"
)

var downloadKeywords = []string{"scarica", "download", "allegato", "allegati"}

// findAttachments collects document links in first-seen order, de-duplicated
// by URL and capped at limit.
func findAttachments(doc *goquery.Document, base *url.URL, limit int) []announcement.Attachment {
	out := []announcement.Attachment{}
	seen := make(map[string]struct{})
	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		target, ok := resolveHTTP(base, href)
		if !ok {
			return true
		}
		label := collapseSpace(s.Text())
		ext := strings.ToLower(path.Ext(target.Path))
		typ := announcement.AttachmentTypeFromExt(ext)
		if typ == announcement.AttachmentUnknown && !hasDownloadKeyword(label) {
			return true
		}
		link := target.String()
		if _, dup := seen[link]; dup {
			return true
		}
		seen[link] = struct{}{}
		if label == "" {
			label = baseName(target)
		}
		out = append(out, announcement.Attachment{URL: link, Label: label, Type: typ})
		return len(out) < limit
	})
	return out
}

func hasDownloadKeyword(label string) bool {
	lower := strings.ToLower(label)
	for _, k := range downloadKeywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

// resolveHTTP resolves href against base, drops the fragment and keeps only
// http(s) targets.
func resolveHTTP(base *url.URL, href string) (*url.URL, bool) {
	href = strings.TrimSpace(href)
	if href == "" {
		return nil, false
	}
	lower := strings.ToLower(href)
	for _, prefix := range []string{"mailto:", "tel:", "javascript:", "data:"} {
		if strings.HasPrefix(lower, prefix) {
			return nil, false
		}
	}
	ref, err := url.Parse(href)
	if err != nil {
		return nil, false
	}
	target := ref
	if base != nil {
		target = base.ResolveReference(ref)
	}
	target.Fragment = ""
	target.RawFragment = ""
	if target.Scheme != "http" && target.Scheme != "https" {
		return nil, false
	}
	if target.Host == "" {
		return nil, false
	}
	return target, true
}

func baseName(u *url.URL) string {
	name := path.Base(u.Path)
	if unescaped, err := url.PathUnescape(name); err == nil {
		name = unescaped
	}
	if name == "." || name == "/" || name == "" {
		return u.String()
	}
	return name
}
