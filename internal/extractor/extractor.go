// Package extractor turns fetched detail pages into draft announcements.
// Extraction never fails: missing fields degrade to empty values or the
// unknown date.
package extractor

import (
	"bytes"
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"go.uber.org/zap"

	"github.com/JakeFAU/pnrr-announcements/internal/announcement"
	"github.com/JakeFAU/pnrr-announcements/internal/crawler"
	"github.com/JakeFAU/pnrr-announcements/internal/extractor/pdftext"
)

const (
	// DefaultCategory is stamped on every draft unless configured otherwise.
	DefaultCategory = "PNRR Futura"
	// PDFPlaceholderSummary is the summary of drafts built from PDF responses.
	PDFPlaceholderSummary = "Documento PDF"

	defaultMaxAttachments = 10
	defaultBodyMaxChars   = 5000
	bodyParagraphs        = 6
	bodySeparator         = " \n\n"
	pdfDateWindow         = 2000
)

// PDFTextExtractor returns the plain text of a PDF payload.
type PDFTextExtractor interface {
	Text(data []byte) (string, error)
}

// Config tunes extraction.
type Config struct {
	Category       string
	MaxAttachments int
	BodyMaxChars   int
	// FetchPDFs enables downloading PDF attachments for text and dates.
	FetchPDFs bool
}

// Extractor builds drafts from fetch responses.
type Extractor struct {
	getter crawler.PageGetter
	pdf    PDFTextExtractor
	cfg    Config
	now    func() time.Time
	logger *zap.Logger
}

// Option customizes an Extractor.
type Option func(*Extractor)

// WithClock overrides the clock used to discard far-future dates.
func WithClock(now func() time.Time) Option {
	return func(e *Extractor) { e.now = now }
}

// New creates an Extractor. getter and pdf may be nil, in which case PDF
// attachments are listed but not read.
func New(getter crawler.PageGetter, pdf PDFTextExtractor, cfg Config, logger *zap.Logger, opts ...Option) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Category == "" {
		cfg.Category = DefaultCategory
	}
	if cfg.MaxAttachments <= 0 {
		cfg.MaxAttachments = defaultMaxAttachments
	}
	if cfg.BodyMaxChars <= 0 {
		cfg.BodyMaxChars = defaultBodyMaxChars
	}
	e := &Extractor{
		getter: getter,
		pdf:    pdf,
		cfg:    cfg,
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract builds the draft for link from resp.
func (e *Extractor) Extract(
	ctx context.Context,
	link string,
	src announcement.Source,
	resp crawler.FetchResponse,
) announcement.Announcement {
	draft := announcement.Announcement{
		SchoolID:     src.ID,
		SchoolName:   src.Name,
		Link:         link,
		Category:     e.cfg.Category,
		SourceDomain: crawler.Hostname(link),
		City:         src.City,
		Tags:         []string{},
		Attachments:  []announcement.Attachment{},
		Status:       announcement.StatusPublished,
	}
	if resp.IsPDF() || (isPDFLink(link) && looksLikePDF(resp.Body)) {
		e.fillPDF(&draft)
		return draft
	}
	e.fillHTML(ctx, &draft, resp.Body)
	return draft
}

func (e *Extractor) fillPDF(draft *announcement.Announcement) {
	u, err := url.Parse(draft.Link)
	if err != nil {
		draft.Title = draft.Link
	} else {
		draft.Title = baseName(u)
	}
	draft.Summary = PDFPlaceholderSummary
}

func (e *Extractor) fillHTML(ctx context.Context, draft *announcement.Announcement, body []byte) {
	pageURL, _ := url.Parse(draft.Link)
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		e.logger.Debug("unparseable page", zap.String("url", draft.Link), zap.Error(err))
		draft.Title = draft.Link
		return
	}

	p := &page{doc: doc, now: e.now()}
	title := firstText(p, titleStrategies)
	draft.Highlight = Highlight(title)
	draft.Status = StatusFor(title)
	draft.Title = title
	if draft.Title == "" {
		draft.Title = draft.Link
	}
	draft.Summary = firstText(p, summaryStrategies)
	draft.Body = e.body(doc, body, pageURL, draft.Summary)

	draft.Attachments = findAttachments(doc, pageURL, e.cfg.MaxAttachments)
	p.pdfTexts = e.readPDFAttachments(ctx, draft.Link, draft.Attachments)

	date, via := resolveDate(p)
	draft.PublishedDate = date
	if via != "" {
		e.logger.Debug("date resolved", zap.String("url", draft.Link),
			zap.String("strategy", via), zap.Stringer("date", date))
	}
}

// body joins the first paragraphs, falling back to the readable text of the
// page and finally to the summary.
func (e *Extractor) body(doc *goquery.Document, raw []byte, pageURL *url.URL, summary string) string {
	if paras := paragraphs(doc, bodyParagraphs); len(paras) > 0 {
		return strings.Join(paras, bodySeparator)
	}
	if text := readableText(raw, pageURL); text != "" {
		return pdftext.Truncate(text, e.cfg.BodyMaxChars)
	}
	return summary
}

func readableText(raw []byte, pageURL *url.URL) string {
	article, err := readability.FromReader(bytes.NewReader(raw), pageURL)
	if err != nil {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(article.Content))
	if err != nil {
		return ""
	}
	return collapseSpace(doc.Text())
}

// readPDFAttachments fills TextContent on PDF attachments and returns the
// texts read.
func (e *Extractor) readPDFAttachments(ctx context.Context, referer string, attachments []announcement.Attachment) []string {
	if !e.cfg.FetchPDFs || e.getter == nil || e.pdf == nil {
		return nil
	}
	var texts []string
	for i := range attachments {
		att := &attachments[i]
		if att.Type != announcement.AttachmentPDF {
			continue
		}
		if ctx.Err() != nil {
			return texts
		}
		resp, err := e.getter.Get(ctx, att.URL, referer)
		if err != nil {
			e.logger.Warn("pdf attachment fetch failed", zap.String("url", att.URL), zap.Error(err))
			continue
		}
		text, err := e.pdf.Text(resp.Body)
		if err != nil {
			e.logger.Warn("pdf attachment unreadable", zap.String("url", att.URL), zap.Error(err))
			continue
		}
		if text == "" {
			continue
		}
		att.TextContent = text
		texts = append(texts, text)
	}
	return texts
}

func isPDFLink(link string) bool {
	u, err := url.Parse(link)
	if err != nil {
		return false
	}
	return strings.HasSuffix(strings.ToLower(u.Path), ".pdf")
}

func looksLikePDF(body []byte) bool {
	return bytes.HasPrefix(bytes.TrimLeft(body, "\x00\t\r\n "), []byte("%PDF"))
}
