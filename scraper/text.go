package scraper

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

const maxSnippet = 300

// joinText concatenates every descendant text node of sel with sep, in
// document order, and trims the result.
func joinText(sel *goquery.Selection, sep string) string {
	var parts []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			parts = append(parts, n.Data)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range sel.Nodes {
		walk(n)
	}
	return strings.TrimSpace(strings.Join(parts, sep))
}

// cellLines returns the trimmed, non-empty lines of sel's text, treating
// every text node boundary as a line break.
func cellLines(sel *goquery.Selection) []string {
	var lines []string
	for _, line := range strings.Split(joinText(sel, "\n"), "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			lines = append(lines, trimmed)
		}
	}
	return lines
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
