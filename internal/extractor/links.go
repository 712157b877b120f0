package extractor

import (
	"bytes"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/pnrr-announcements/internal/announcement"
)

// DefaultMaxLinks is the per-source cap on detail links.
const DefaultMaxLinks = 10

// ListingLinks returns the candidate detail links of a listing page: anchors
// resolved against the listing URL that stay under the source's base URL and
// point neither at the listing itself nor at the site root.
func ListingLinks(src announcement.Source, body []byte, limit int) []string {
	if limit <= 0 {
		limit = DefaultMaxLinks
	}
	listing, err := url.Parse(src.ListingURL)
	if err != nil {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil
	}

	listingKey := trimSlash(stripFragment(src.ListingURL))
	rootKey := trimSlash(src.BaseURL)

	var out []string
	seen := make(map[string]struct{})
	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		target, ok := resolveHTTP(listing, href)
		if !ok {
			return true
		}
		link := target.String()
		if !strings.HasPrefix(link, src.BaseURL) {
			return true
		}
		if key := trimSlash(link); key == listingKey || key == rootKey {
			return true
		}
		if _, dup := seen[link]; dup {
			return true
		}
		seen[link] = struct{}{}
		out = append(out, link)
		return len(out) < limit
	})
	return out
}

func stripFragment(raw string) string {
	if i := strings.IndexByte(raw, '#'); i >= 0 {
		return raw[:i]
	}
	return raw
}

func trimSlash(s string) string {
	return strings.TrimRight(s, "/")
}
