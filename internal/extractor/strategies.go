package extractor

import (
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/pnrr-announcements/internal/announcement"
	"github.com/JakeFAU/pnrr-announcements/internal/extractor/pdftext"
)

// page is the parsed input shared by every strategy.
type page struct {
	doc         *goquery.Document
	pdfTexts    []string
	now         time.Time
	textContent string
}

func (p *page) text() string {
	if p.textContent == "" {
		p.textContent = collapseSpace(p.doc.Find("body").Text())
		if p.textContent == "" {
			p.textContent = collapseSpace(p.doc.Text())
		}
	}
	return p.textContent
}

// textStrategy tries to produce a title or summary.
type textStrategy struct {
	name    string
	extract func(p *page) string
}

// dateStrategy tries to produce a publication date.
type dateStrategy struct {
	name    string
	extract func(p *page) (announcement.Date, bool)
}

var titleStrategies = []textStrategy{
	{name: "og:title", extract: metaContent("og:title")},
	{name: "title", extract: func(p *page) string {
		return collapseSpace(p.doc.Find("title").First().Text())
	}},
}

var summaryStrategies = []textStrategy{
	{name: "og:description", extract: metaContent("og:description")},
	{name: "first-paragraph", extract: func(p *page) string {
		if paras := paragraphs(p.doc, 1); len(paras) > 0 {
			return paras[0]
		}
		return ""
	}},
}

// dateStrategies run in priority order; the first hit wins.
var dateStrategies = []dateStrategy{
	{name: "meta", extract: metaDate},
	{name: "pdf", extract: pdfDate},
	{name: "text", extract: func(p *page) (announcement.Date, bool) {
		return bestTextDate(p.text(), p.now)
	}},
}

func firstText(p *page, strategies []textStrategy) string {
	for _, s := range strategies {
		if v := s.extract(p); v != "" {
			return v
		}
	}
	return ""
}

func resolveDate(p *page) (announcement.Date, string) {
	for _, s := range dateStrategies {
		if d, ok := s.extract(p); ok {
			return d, s.name
		}
	}
	return announcement.Date{}, ""
}

func metaContent(key string) func(p *page) string {
	selector := `meta[property="` + key + `"], meta[name="` + key + `"]`
	return func(p *page) string {
		var out string
		p.doc.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			out = collapseSpace(s.AttrOr("content", ""))
			return out == ""
		})
		return out
	}
}

func metaDate(p *page) (announcement.Date, bool) {
	var values []string
	if v := metaContent("article:published_time")(p); v != "" {
		values = append(values, v)
	}
	p.doc.Find(`[itemprop="datePublished"]`).Each(func(_ int, s *goquery.Selection) {
		for _, attr := range []string{"content", "datetime"} {
			if v, ok := s.Attr(attr); ok && strings.TrimSpace(v) != "" {
				values = append(values, v)
				return
			}
		}
	})
	if v, ok := p.doc.Find("time[datetime]").First().Attr("datetime"); ok {
		values = append(values, v)
	}
	for _, v := range values {
		if d, ok := parseMetaDate(v); ok {
			return d, true
		}
	}
	return announcement.Date{}, false
}

func pdfDate(p *page) (announcement.Date, bool) {
	var earliest announcement.Date
	for _, text := range p.pdfTexts {
		d, ok := earliestTextDate(pdftext.Truncate(text, pdfDateWindow), p.now)
		if !ok {
			continue
		}
		if earliest.IsUnknown() || d.Before(earliest) {
			earliest = d
		}
	}
	return earliest, !earliest.IsUnknown()
}

func paragraphs(doc *goquery.Document, limit int) []string {
	var out []string
	doc.Find("p").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if text := collapseSpace(s.Text()); text != "" {
			out = append(out, text)
		}
		return len(out) < limit
	})
	return out
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
