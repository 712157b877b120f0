// Package crawler defines the fetch contracts shared by the fetchers, the
// extractor and the ingestion pipeline.
package crawler

import (
	"mime"
	"net/http"
	"strings"
	"time"
)

// FetchRequest captures everything needed to fetch a URL once.
type FetchRequest struct {
	URL     string
	Referer string
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// ContentType returns the Content-Type header of the response.
func (r FetchResponse) ContentType() string {
	if r.Headers == nil {
		return ""
	}
	return r.Headers.Get("Content-Type")
}

// IsPDF reports whether the response declares a PDF payload.
func (r FetchResponse) IsPDF() bool {
	return IsPDFContentType(r.ContentType())
}

// IsPDFContentType reports whether ct names a PDF media type.
func IsPDFContentType(ct string) bool {
	if ct == "" {
		return false
	}
	if mediaType, _, err := mime.ParseMediaType(ct); err == nil {
		return strings.Contains(mediaType, "pdf")
	}
	return strings.Contains(strings.ToLower(ct), "pdf")
}
