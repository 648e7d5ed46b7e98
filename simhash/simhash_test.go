package simhash

import (
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/net/html"
)

func TestFingerprint(t *testing.T) {
	base := "icon name rarity element release"
	if Fingerprint(base) != Fingerprint(base) {
		t.Fatal("fingerprint is not deterministic")
	}
	if fp := Fingerprint("  \t\n "); fp != 0 {
		t.Errorf("whitespace-only input should produce 0, got %064b", fp)
	}
	if Fingerprint("icon") == 0 {
		t.Error("single word should produce a non-zero fingerprint")
	}

	near := Distance(Fingerprint(base), Fingerprint("icon name rarity weapon release"))
	far := Distance(Fingerprint(base), Fingerprint("completely unrelated content about quantum physics"))
	if near >= far {
		t.Errorf("one changed word (%d bits) should be closer than unrelated text (%d bits)", near, far)
	}
}

func TestDistance(t *testing.T) {
	tests := []struct {
		name string
		a, b uint64
		want int
	}{
		{"identical", 0xFF, 0xFF, 0},
		{"all different", 0, ^uint64(0), 64},
		{"one bit", 0, 1, 1},
		{"two bits", 0, 3, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Distance(tt.a, tt.b); got != tt.want {
				t.Errorf("Distance(%d, %d) = %d, want %d", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func parseTable(t *testing.T, s string) *html.Node {
	t.Helper()
	doc, err := html.Parse(strings.NewReader(s))
	if err != nil {
		t.Fatal(err)
	}
	var find func(n *html.Node) *html.Node
	find = func(n *html.Node) *html.Node {
		if n.Type == html.ElementNode && n.Data == "table" {
			return n
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if found := find(c); found != nil {
				return found
			}
		}
		return nil
	}
	table := find(doc)
	if table == nil {
		t.Fatal("no table in fixture")
	}
	return table
}

const rowTemplate = `<table class="chara-table"><tr><th>Icon</th><th>Name</th><th>Element</th><th>Release</th></tr>
<tr><td><img src="%s"></td><td><a>%s</a><br>5★</td><td><img><img></td><td>%s</td></tr></table>`

func TestFingerprintNodes_IgnoresText(t *testing.T) {
	a := parseTable(t, strings.NewReplacer("%s", "Aldo").Replace(rowTemplate))
	b := parseTable(t, strings.NewReplacer("%s", "Feinne").Replace(rowTemplate))

	if FingerprintNodes(a) != FingerprintNodes(b) {
		t.Error("same structure with different text should fingerprint identically")
	}
}

func TestFingerprintNodes_SeesClassAndShapeChanges(t *testing.T) {
	orig := parseTable(t, rowTemplate)
	renamed := parseTable(t, strings.Replace(rowTemplate, `class="chara-table"`, `class="character-list"`, 1))
	reshaped := parseTable(t, `<table><tr><th>A</th></tr><tr><td><div><span>x</span></div></td></tr></table>`)

	fp := FingerprintNodes(orig)
	if fp == FingerprintNodes(renamed) {
		t.Error("renamed table class should change the fingerprint")
	}
	if d := Distance(fp, FingerprintNodes(reshaped)); d < 3 {
		t.Errorf("different table shape should be far apart, got %d", d)
	}
}

func TestFingerprintNodes_Empty(t *testing.T) {
	if fp := FingerprintNodes(); fp != 0 {
		t.Errorf("no nodes should produce 0, got %064b", fp)
	}
	if fp := FingerprintNodes(nil); fp != 0 {
		t.Errorf("nil node should produce 0, got %064b", fp)
	}
}

func TestElementToken_SortsClasses(t *testing.T) {
	n := &html.Node{Type: html.ElementNode, Data: "table", Attr: []html.Attribute{{Key: "class", Val: "wikitable  chara-table"}}}
	if got := elementToken(n); got != "table.chara-table.wikitable" {
		t.Errorf("elementToken = %q", got)
	}
}

func TestMakeShingles(t *testing.T) {
	got := makeShingles([]string{"a", "b", "c", "d"}, 3)
	want := []string{"a_b_c", "b_c_d"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("makeShingles = %v, want %v", got, want)
	}
	if makeShingles([]string{"a", "b"}, 3) != nil {
		t.Error("expected nil for fewer tokens than n")
	}
}

func TestDrift(t *testing.T) {
	path := filepath.Join(t.TempDir(), "table_fingerprint.json")

	_, known, err := Drift(path, Baseline{Fingerprint: 0xF0, Selector: "table.chara-table"})
	if err != nil {
		t.Fatal(err)
	}
	if known {
		t.Error("first run has no baseline")
	}

	d, known, err := Drift(path, Baseline{Fingerprint: 0xF3, Selector: "table.chara-table"})
	if err != nil {
		t.Fatal(err)
	}
	if !known || d != 2 {
		t.Errorf("Drift = (%d, %v), want (2, true)", d, known)
	}

	b, err := LoadBaseline(path)
	if err != nil {
		t.Fatal(err)
	}
	if b.Fingerprint != 0xF3 || b.RecordedAt.IsZero() {
		t.Errorf("baseline not updated: %+v", b)
	}
}

func TestLoadBaseline_Missing(t *testing.T) {
	b, err := LoadBaseline(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil || b != nil {
		t.Errorf("LoadBaseline on a missing file = (%v, %v), want (nil, nil)", b, err)
	}
}
