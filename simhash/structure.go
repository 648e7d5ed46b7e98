package simhash

import (
	"sort"
	"strings"

	"golang.org/x/net/html"
)

const shingleSize = 3

// FingerprintNodes fingerprints the element structure below nodes. Each
// element contributes "tag.class1.class2" (classes sorted) in document
// order; text and other attributes are ignored, so a refreshed character
// list keeps its fingerprint while a renamed column class does not.
func FingerprintNodes(nodes ...*html.Node) uint64 {
	var tokens []string
	for _, n := range nodes {
		tokens = appendStructure(tokens, n)
	}
	if len(tokens) == 0 {
		return 0
	}
	if shingles := makeShingles(tokens, shingleSize); len(shingles) > 0 {
		return FingerprintTokens(shingles)
	}
	return FingerprintTokens(tokens)
}

func appendStructure(tokens []string, n *html.Node) []string {
	if n == nil {
		return tokens
	}
	if n.Type == html.ElementNode {
		tokens = append(tokens, elementToken(n))
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		tokens = appendStructure(tokens, c)
	}
	return tokens
}

func elementToken(n *html.Node) string {
	for _, a := range n.Attr {
		if a.Key != "class" {
			continue
		}
		classes := strings.Fields(a.Val)
		if len(classes) == 0 {
			break
		}
		sort.Strings(classes)
		return n.Data + "." + strings.Join(classes, ".")
	}
	return n.Data
}

// makeShingles creates n-gram shingles from a slice of tokens.
func makeShingles(tokens []string, n int) []string {
	if len(tokens) < n {
		return nil
	}

	shingles := make([]string, 0, len(tokens)-n+1)
	for i := 0; i <= len(tokens)-n; i++ {
		shingles = append(shingles, strings.Join(tokens[i:i+n], "_"))
	}
	return shingles
}
