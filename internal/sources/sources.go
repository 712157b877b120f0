// Package sources loads the catalogue of institutional sites to scrape.
package sources

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/pnrr-announcements/internal/announcement"
)

// DefaultCity is applied to entries without a city.
const DefaultCity = "Salerno"

// entry mirrors one file record. pnrr_url is accepted as an alias of
// listing_url and active defaults to true.
type entry struct {
	ID         string `yaml:"id"`
	Name       string `yaml:"name"`
	BaseURL    string `yaml:"base_url"`
	ListingURL string `yaml:"listing_url"`
	PNRRURL    string `yaml:"pnrr_url"`
	City       string `yaml:"city"`
	Active     *bool  `yaml:"active"`
}

type file struct {
	Schools []entry `yaml:"schools"`
	Sources []entry `yaml:"sources"`
}

// Catalogue is the validated, ordered list of configured sources.
type Catalogue struct {
	all  []announcement.Source
	byID map[string]int
}

// Load reads and validates the catalogue at path. JSON files are accepted.
func Load(path string) (*Catalogue, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sources %s: %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("sources %s: %w", path, err)
	}
	return c, nil
}

// Parse decodes a catalogue document. The list lives under "schools" or
// "sources"; a bare top-level list is accepted too.
func Parse(data []byte) (*Catalogue, error) {
	var entries []entry
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && (trimmed[0] == '[' || trimmed[0] == '-') {
		if err := yaml.Unmarshal(trimmed, &entries); err != nil {
			return nil, fmt.Errorf("decode: %w", err)
		}
	} else {
		var f file
		if err := yaml.Unmarshal(trimmed, &f); err != nil {
			return nil, fmt.Errorf("decode: %w", err)
		}
		entries = append(f.Schools, f.Sources...)
	}
	return build(entries)
}

// New validates already decoded sources, applying the same defaults as Parse
// except for Active, which is taken as given.
func New(list []announcement.Source) (*Catalogue, error) {
	entries := make([]entry, 0, len(list))
	for _, s := range list {
		active := s.Active
		entries = append(entries, entry{
			ID:         s.ID,
			Name:       s.Name,
			BaseURL:    s.BaseURL,
			ListingURL: s.ListingURL,
			City:       s.City,
			Active:     &active,
		})
	}
	return build(entries)
}

func build(entries []entry) (*Catalogue, error) {
	c := &Catalogue{byID: make(map[string]int, len(entries))}
	var errs []error
	for i, e := range entries {
		src, err := e.source()
		if err != nil {
			errs = append(errs, fmt.Errorf("entry %d: %w", i, err))
			continue
		}
		if _, dup := c.byID[src.ID]; dup {
			errs = append(errs, fmt.Errorf("entry %d: duplicate id %q", i, src.ID))
			continue
		}
		c.byID[src.ID] = len(c.all)
		c.all = append(c.all, src)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return c, nil
}

func (e entry) source() (announcement.Source, error) {
	src := announcement.Source{
		ID:         strings.TrimSpace(e.ID),
		Name:       strings.TrimSpace(e.Name),
		BaseURL:    strings.TrimSpace(e.BaseURL),
		ListingURL: strings.TrimSpace(e.ListingURL),
		City:       strings.TrimSpace(e.City),
		Active:     e.Active == nil || *e.Active,
	}
	if src.ListingURL == "" {
		src.ListingURL = strings.TrimSpace(e.PNRRURL)
	}
	if src.City == "" {
		src.City = DefaultCity
	}
	if src.ID == "" {
		return src, errors.New("id is required")
	}
	if src.Name == "" {
		src.Name = src.ID
	}
	if err := absoluteURL(src.BaseURL); err != nil {
		return src, fmt.Errorf("%s: base_url: %w", src.ID, err)
	}
	if err := absoluteURL(src.ListingURL); err != nil {
		return src, fmt.Errorf("%s: listing_url: %w", src.ID, err)
	}
	return src, nil
}

func absoluteURL(raw string) error {
	if raw == "" {
		return errors.New("is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%q is not an absolute http(s) URL", raw)
	}
	return nil
}

// All returns every source in file order.
func (c *Catalogue) All() []announcement.Source {
	return append([]announcement.Source(nil), c.all...)
}

// Active returns the active sources in file order.
func (c *Catalogue) Active() []announcement.Source {
	out := make([]announcement.Source, 0, len(c.all))
	for _, s := range c.all {
		if s.Active {
			out = append(out, s)
		}
	}
	return out
}

// ByID looks a source up by id.
func (c *Catalogue) ByID(id string) (announcement.Source, bool) {
	i, ok := c.byID[id]
	if !ok {
		return announcement.Source{}, false
	}
	return c.all[i], true
}

// Len returns the number of configured sources.
func (c *Catalogue) Len() int {
	return len(c.all)
}
