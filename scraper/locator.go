package scraper

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"

	"github.com/use-agent/edenscrape/engine"
	"github.com/use-agent/edenscrape/models"
)

// Table is the located character table. Rows excludes the header row.
type Table struct {
	Selector string
	Header   *goquery.Selection
	Rows     []*goquery.Selection
}

type candidate struct {
	raw     string
	matcher cascadia.Selector
}

// Locator fetches the listing document and finds the character table by
// trying candidate selectors in a fixed order.
type Locator struct {
	engine     engine.Engine
	timeout    time.Duration
	candidates []candidate
}

// NewLocator compiles selectors up front so a typo fails at startup
// instead of mid-run.
func NewLocator(eng engine.Engine, timeout time.Duration, selectors []string) (*Locator, error) {
	if len(selectors) == 0 {
		return nil, fmt.Errorf("scraper: no table selectors configured")
	}
	cands := make([]candidate, 0, len(selectors))
	for _, s := range selectors {
		sel, err := cascadia.Compile(s)
		if err != nil {
			return nil, fmt.Errorf("scraper: compile selector %q: %w", s, err)
		}
		cands = append(cands, candidate{raw: s, matcher: sel})
	}
	return &Locator{engine: eng, timeout: timeout, candidates: cands}, nil
}

// Locate fetches targetURL and returns the first table matching a candidate
// selector. Fetch failures are FETCH_FAILED; a document without any
// matching table is PARSE_FAILED.
func (l *Locator) Locate(ctx context.Context, targetURL string) (*Table, error) {
	doc, err := l.Fetch(ctx, targetURL)
	if err != nil {
		return nil, err
	}
	return l.LocateDocument(doc)
}

// Fetch issues the single document GET and parses the body with its
// declared charset.
func (l *Locator) Fetch(ctx context.Context, targetURL string) (*goquery.Document, error) {
	res, err := l.engine.Fetch(ctx, &engine.FetchRequest{URL: targetURL, Timeout: l.timeout})
	if err != nil {
		return nil, models.NewScrapeError(models.ErrCodeFetch, "error fetching page", err)
	}

	doc, err := parseDocument(res.Body, res.ContentType)
	if err != nil {
		return nil, models.NewScrapeError(models.ErrCodeParse, "could not parse page", err)
	}
	return doc, nil
}

// LocateDocument runs the selector search over an already parsed document.
func (l *Locator) LocateDocument(doc *goquery.Document) (*Table, error) {
	return l.find(doc)
}

func (l *Locator) find(doc *goquery.Document) (*Table, error) {
	for _, c := range l.candidates {
		tables := doc.FindMatcher(c.matcher)
		if tables.Length() == 0 {
			continue
		}
		table := tables.First()
		rows := table.Find("tr")

		t := &Table{Selector: c.raw}
		rows.Each(func(i int, row *goquery.Selection) {
			if i == 0 {
				t.Header = row
				return
			}
			t.Rows = append(t.Rows, row)
		})
		return t, nil
	}
	return nil, models.NewScrapeError(models.ErrCodeParse,
		"character table not found, please verify the table class name", nil)
}

// parseDocument decodes body using the declared (or sniffed) charset.
func parseDocument(body []byte, contentType string) (*goquery.Document, error) {
	r, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		return nil, fmt.Errorf("scraper: decode charset: %w", err)
	}
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("scraper: parse html: %w", err)
	}
	return goquery.NewDocumentFromNode(root), nil
}
