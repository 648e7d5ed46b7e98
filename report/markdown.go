package report

import (
	"fmt"
	"html"
	"os"
	"path/filepath"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"

	"github.com/use-agent/edenscrape/models"
)

// newMarkdownConverter creates a reusable, goroutine-safe Converter with
// table support and minimal cell padding.
func newMarkdownConverter() *converter.Converter {
	return converter.NewConverter(
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
			table.NewTablePlugin(
				table.WithCellPaddingBehavior(table.CellPaddingBehaviorMinimal),
			),
		),
	)
}

// RenderMarkdown renders records as a markdown table. Icon paths are made
// relative to dir so the file can be moved together with the asset tree.
func RenderMarkdown(records []models.Record, dir string) (string, error) {
	header, width := Layout(records)

	var b strings.Builder
	b.WriteString("<h1>Another Eden Characters</h1>\n<table>\n<thead><tr>")
	for _, h := range header {
		fmt.Fprintf(&b, "<th>%s</th>", html.EscapeString(h))
	}
	b.WriteString("</tr></thead>\n<tbody>\n")

	for _, r := range records {
		b.WriteString("<tr>")
		b.WriteString("<td>" + imgTag(r.IconPath, r.Name, dir) + "</td>")
		for _, v := range []string{r.IconFilename, r.Name, r.Rarity} {
			fmt.Fprintf(&b, "<td>%s</td>", html.EscapeString(v))
		}
		for i := 0; i < width; i++ {
			if i < len(r.Secondary) {
				s := r.Secondary[i]
				fmt.Fprintf(&b, "<td>%s</td><td>%s</td>", imgTag(s.LocalPath, s.Label, dir), html.EscapeString(s.Label))
			} else {
				b.WriteString("<td></td><td></td>")
			}
		}
		fmt.Fprintf(&b, "<td>%s</td></tr>\n", html.EscapeString(r.ReleaseDate))
	}
	b.WriteString("</tbody>\n</table>\n")

	return newMarkdownConverter().ConvertString(b.String())
}

// WriteMarkdown renders records and writes them to path.
func WriteMarkdown(path string, records []models.Record) error {
	md, err := RenderMarkdown(records, filepath.Dir(path))
	if err != nil {
		return fmt.Errorf("report: render markdown: %w", err)
	}
	if err := os.WriteFile(path, []byte(md), 0o644); err != nil {
		return fmt.Errorf("report: write %s: %w", path, err)
	}
	return nil
}

func imgTag(p, alt, dir string) string {
	if p == "" {
		return ""
	}
	if rel, err := filepath.Rel(dir, p); err == nil {
		p = rel
	}
	return fmt.Sprintf(`<img src="%s" alt="%s">`, html.EscapeString(filepath.ToSlash(p)), html.EscapeString(alt))
}
