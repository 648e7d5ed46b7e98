package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/use-agent/edenscrape/events"
	"github.com/use-agent/edenscrape/models"
)

// MinCells is the number of <td> cells a character row must have.
const MinCells = 4

// AssetResolver turns an icon reference into a local file.
type AssetResolver interface {
	Resolve(ctx context.Context, ref models.AssetRef) (*models.CachedAsset, error)
}

// RowResult is the outcome of one row. Skipped rows carry nothing else.
// Diagnostic is set for every other row. Record is set only in report
// mode when the row produced a name or a cached icon. Err is a
// ROW_EXTRACTION_FAILED error when the full pass broke down.
type RowResult struct {
	Index      int
	Skipped    bool
	Diagnostic *models.DiagnosticRow
	Record     *models.Record
	Err        error

	// AssetFailures counts icon references that resolved to no local file.
	AssetFailures int
}

// Extractor turns table rows into diagnostic snapshots and records.
type Extractor struct {
	assets AssetResolver
	log    events.LogSink
}

// NewExtractor creates an Extractor. assets may be nil in diagnostic mode.
func NewExtractor(assets AssetResolver, log events.LogSink) *Extractor {
	return &Extractor{assets: assets, log: log}
}

// Extract runs the diagnostic pass and, in report mode, the full pass on
// row. index is the 1-based row ordinal below the header. It never panics
// and never returns a run-level error.
func (e *Extractor) Extract(ctx context.Context, index int, row *goquery.Selection, mode models.Mode) RowResult {
	res := RowResult{Index: index}

	cells := row.Find("td")
	if cells.Length() < MinCells {
		res.Skipped = true
		return res
	}

	res.Diagnostic = e.diagnose(index, cells)
	if mode != models.ModeReport {
		return res
	}

	rec, failures, err := e.full(ctx, index, cells, res.Diagnostic)
	res.AssetFailures = failures
	if err != nil {
		res.Err = err
		e.log.Log(events.LevelError, fmt.Sprintf("Row %d: Error parsing for final report: %v", index, errors.Unwrap(err)))
		return res
	}
	res.Record = rec
	return res
}

// diagnose captures the raw cell snippets. A failure yields an error-only
// snapshot instead of propagating.
func (e *Extractor) diagnose(index int, cells *goquery.Selection) (diag *models.DiagnosticRow) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Log(events.LevelError, fmt.Sprintf("Row %d: Error preparing structure analysis data: %v", index, r))
			diag = &models.DiagnosticRow{RowIndex: index, Error: fmt.Sprint(r)}
		}
	}()

	d := &models.DiagnosticRow{RowIndex: index}

	icon := cells.Eq(0).Find("img").First()
	d.IconSrc = truncate(orNA(attr(icon, "src")), maxSnippet)
	d.IconAlt = truncate(orNA(attr(icon, "alt")), maxSnippet)

	nameCell := cells.Eq(1)
	if a := nameCell.Find("a").First(); a.Length() > 0 {
		d.NameLinkText = truncate(strings.TrimSpace(a.Text()), maxSnippet)
	} else {
		d.NameLinkText = "N/A"
	}
	d.NameFullText = truncate(joinText(nameCell, " | "), maxSnippet)

	var srcs, alts []string
	cells.Eq(2).Find("img").Each(func(_ int, img *goquery.Selection) {
		if src := attr(img, "src"); src != "" {
			srcs = append(srcs, src)
		}
		alts = append(alts, attr(img, "alt"))
	})
	d.ImgSrcs = truncate(strings.Join(srcs, ", "), maxSnippet)
	d.ImgAlts = truncate(strings.Join(alts, ", "), maxSnippet)

	d.ReleaseText = truncate(strings.TrimSpace(cells.Eq(3).Text()), maxSnippet)
	return d
}

var rarityPattern = regexp.MustCompile(`\d(?:~\d)?★(?:\s*\S+)?`)

// full derives the normalized record. A nil record with a nil error means
// the row had neither a name nor a cached icon.
func (e *Extractor) full(ctx context.Context, index int, cells *goquery.Selection, diag *models.DiagnosticRow) (rec *models.Record, failures int, err error) {
	defer func() {
		if r := recover(); r != nil {
			rec = nil
			err = models.NewScrapeError(models.ErrCodeRowExtraction, "row "+strconv.Itoa(index), fmt.Errorf("%v", r))
		}
	}()

	icon := cells.Eq(0).Find("img").First()
	iconSrc := attr(icon, "src")
	iconAlt := attr(icon, "alt")

	var iconPath string
	if iconSrc != "" {
		if p, ok := e.resolve(ctx, index, iconSrc, models.AssetIcon); ok {
			iconPath = p
		} else {
			failures++
		}
	}

	nameCell := cells.Eq(1)
	lines := cellLines(nameCell)
	name := ""
	if a := nameCell.Find("a").First(); a.Length() > 0 {
		name = strings.TrimSpace(a.Text())
	}
	if name == "" && len(lines) > 0 {
		name = lines[0]
	}
	rarity := Rarity(lines, joinText(nameCell, " "))
	if name == "" && strings.Contains(iconAlt, "Icon") {
		name = strings.TrimSpace(strings.ReplaceAll(iconAlt, " Icon", ""))
	} else if name == "" && diag != nil && diag.NameLinkText != "N/A" {
		name = diag.NameLinkText
	}

	var secondary []models.SecondaryIcon
	cells.Eq(2).Find("img").Each(func(_ int, img *goquery.Selection) {
		src := attr(img, "src")
		if src == "" {
			return
		}
		slot := models.SecondaryIcon{Label: attr(img, "alt")}
		if p, ok := e.resolve(ctx, index, src, models.AssetSecondary); ok {
			slot.LocalPath = p
		} else {
			failures++
		}
		secondary = append(secondary, slot)
	})

	release := strings.TrimSpace(cells.Eq(3).Text())

	if name == "" && iconPath == "" {
		return nil, failures, nil
	}
	return &models.Record{
		Name:         name,
		Rarity:       rarity,
		Secondary:    secondary,
		ReleaseDate:  release,
		IconPath:     iconPath,
		IconFilename: IconFilename(iconSrc),
	}, failures, nil
}

func (e *Extractor) resolve(ctx context.Context, index int, src string, kind models.AssetKind) (string, bool) {
	if e.assets == nil {
		return "", false
	}
	asset, err := e.assets.Resolve(ctx, models.AssetRef{URL: src, Kind: kind})
	if err != nil {
		var se *models.ScrapeError
		if errors.As(err, &se) && se.Err != nil {
			e.log.Log(events.LevelWarn, fmt.Sprintf("Row %d: %s: %v", index, se.Message, se.Err))
		} else {
			e.log.Log(events.LevelWarn, fmt.Sprintf("Row %d: %v", index, err))
		}
		return "", false
	}
	return asset.Path, true
}

// Rarity picks the last line carrying a star glyph. When no line has one
// it searches the flattened cell text for a "<n>(~<m>)★ <label>" pattern.
func Rarity(lines []string, flat string) string {
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.Contains(lines[i], "★") {
			return lines[i]
		}
	}
	return strings.TrimSpace(rarityPattern.FindString(flat))
}

// IconFilename is the file name encoded in an icon URL, with spaces
// replaced by underscores. The "f" query parameter wins over the path.
func IconFilename(src string) string {
	if src == "" {
		return ""
	}
	u, err := url.Parse(src)
	if err != nil {
		return ""
	}
	name := u.Query().Get("f")
	if name == "" {
		name = u.Path
	}
	name = path.Base(name)
	if name == "." || name == "/" {
		return ""
	}
	return strings.ReplaceAll(name, " ", "_")
}

func attr(sel *goquery.Selection, name string) string {
	if sel == nil || sel.Length() == 0 {
		return ""
	}
	v, _ := sel.Attr(name)
	return v
}
