package feed

import (
	"context"
	"encoding/xml"
	"fmt"
	"strings"
	"time"
)

// Event is one entry of the LIS Atom feed. Content carries the path of the
// resource the event refers to.
type Event struct {
	ID      string    `json:"id"`
	Title   string    `json:"title"`
	Content string    `json:"content"`
	Updated time.Time `json:"updated"`
}

// Page is one page of an archived Atom feed. Self is the stable archive
// address of the page: the "via" link of the recent page, the "self" link
// otherwise, falling back to URI.
type Page struct {
	URI         string
	Self        string
	Events      []Event
	PrevArchive string
	NextArchive string
}

type atomFeed struct {
	XMLName xml.Name    `xml:"feed"`
	Links   []atomLink  `xml:"link"`
	Entries []atomEntry `xml:"entry"`
}

type atomLink struct {
	Rel  string `xml:"rel,attr"`
	Href string `xml:"href,attr"`
}

type atomEntry struct {
	ID      string `xml:"id"`
	Title   string `xml:"title"`
	Updated string `xml:"updated"`
	Content string `xml:"content"`
}

// Getter fetches a feed page body.
type Getter interface {
	Get(ctx context.Context, url, accept string) ([]byte, error)
}

// Reader reads pages of an Atom feed.
type Reader struct {
	getter  Getter
	resolve func(string) string
}

// NewReader creates a Reader. resolve turns page addresses into URLs before
// they are fetched; nil leaves them unchanged.
func NewReader(getter Getter, resolve func(string) string) *Reader {
	if resolve == nil {
		resolve = func(s string) string { return s }
	}
	return &Reader{getter: getter, resolve: resolve}
}

// ReadPage fetches and parses the page at uri.
func (r *Reader) ReadPage(ctx context.Context, uri string) (*Page, error) {
	body, err := r.getter.Get(ctx, r.resolve(uri), "application/atom+xml")
	if err != nil {
		return nil, err
	}
	return ParsePage(uri, body)
}

// ParsePage parses an Atom document.
func ParsePage(uri string, body []byte) (*Page, error) {
	var f atomFeed
	if err := xml.Unmarshal(body, &f); err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", uri, err)
	}

	page := &Page{URI: uri}
	var self, via string
	for _, l := range f.Links {
		switch l.Rel {
		case "prev-archive":
			page.PrevArchive = l.Href
		case "next-archive":
			page.NextArchive = l.Href
		case "self":
			self = l.Href
		case "via":
			via = l.Href
		}
	}
	switch {
	case via != "":
		page.Self = via
	case self != "":
		page.Self = self
	default:
		page.Self = uri
	}
	for _, e := range f.Entries {
		ev := Event{
			ID:      strings.TrimSpace(e.ID),
			Title:   strings.TrimSpace(e.Title),
			Content: strings.TrimSpace(e.Content),
		}
		if e.Updated != "" {
			if t, err := time.Parse(time.RFC3339, strings.TrimSpace(e.Updated)); err == nil {
				ev.Updated = t
			}
		}
		page.Events = append(page.Events, ev)
	}
	return page, nil
}
