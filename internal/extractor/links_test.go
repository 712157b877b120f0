package extractor

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestListingLinksFilters(t *testing.T) {
	t.Parallel()

	const listing = `<html><body>
<a href="/pnrr">Elenco</a>
<a href="/pnrr#top">Torna su</a>
<a href="https://x.example/">Home</a>
<a href="avviso-1#dettagli">Avviso 1</a>
<a href="/pnrr/avviso-1">Avviso 1 (di nuovo)</a>
<a href="https://other.example/pnrr/avviso-2">Esterno</a>
<a href="mailto:segreteria@x.example">Scrivi</a>
<a href="tel:+39089000000">Chiama</a>
<a href="javascript:void(0)">Apri</a>
<a href="/files/bando.pdf">Bando</a>
</body></html>`

	src := testSource
	src.ListingURL = "https://x.example/pnrr/"
	got := ListingLinks(src, []byte(listing), 0)
	assert.Equal(t, []string{
		"https://x.example/pnrr/avviso-1",
		"https://x.example/files/bando.pdf",
	}, got)
}

func TestListingLinksEndToEndSource(t *testing.T) {
	t.Parallel()

	const listing = `<a href="https://x.example/pnrr/avviso-1">Avviso</a><a href="https://x.example/pnrr">PNRR</a>`
	assert.Equal(t, []string{"https://x.example/pnrr/avviso-1"}, ListingLinks(testSource, []byte(listing), 10))
}

func TestListingLinksCap(t *testing.T) {
	t.Parallel()

	var b strings.Builder
	for i := range 15 {
		fmt.Fprintf(&b, `<a href="/pnrr/item-%d">Item</a>`, i)
	}
	got := ListingLinks(testSource, []byte(b.String()), 0)
	assert.Len(t, got, DefaultMaxLinks)
	assert.Equal(t, "https://x.example/pnrr/item-0", got[0])

	assert.Len(t, ListingLinks(testSource, []byte(b.String()), 3), 3)
}
