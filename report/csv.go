package report

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/use-agent/edenscrape/models"
)

// utf8BOM lets spreadsheet programs detect the encoding.
const utf8BOM = "\ufeff"

// WriteDiagnostics writes one line per diagnostic snapshot under
// models.DiagnosticHeader.
func WriteDiagnostics(path string, rows []models.DiagnosticRow) error {
	lines := make([][]string, 0, len(rows))
	for _, r := range rows {
		lines = append(lines, []string{
			strconv.Itoa(r.RowIndex),
			r.IconSrc,
			r.IconAlt,
			r.NameLinkText,
			r.NameFullText,
			r.ImgSrcs,
			r.ImgAlts,
			r.ReleaseText,
			r.Error,
		})
	}
	return writeCSV(path, models.DiagnosticHeader, lines)
}

// RouletteHeader is the column set the roulette viewer reads.
var RouletteHeader = []string{
	"희귀도", "캐릭터명", "캐릭터아이콘경로",
	"속성명리스트", "속성_아이콘경로리스트",
	"무기명리스트", "무기_아이콘경로리스트",
	"방어구명리스트", "방어구_아이콘경로리스트",
	"성격1", "성격2", "성격3", "성격4",
}

// Secondary label groups understood by the viewer.
const (
	GroupElement = "element"
	GroupWeapon  = "weapon"
	GroupArmor   = "armor"
)

var groupKeywords = []struct {
	group    string
	keywords []string
}{
	{GroupElement, []string{"fire", "water", "earth", "wind", "thunder", "shade", "crystal"}},
	{GroupWeapon, []string{"staff", "sword", "katana", "axe", "lance", "bow", "fist", "hammer"}},
	{GroupArmor, []string{"bangle", "ring"}},
}

// Classify maps a secondary icon label to its viewer group, or "" when the
// label matches no known keyword.
func Classify(label string) string {
	l := strings.ToLower(label)
	for _, g := range groupKeywords {
		for _, kw := range g.keywords {
			if strings.Contains(l, kw) {
				return g.group
			}
		}
	}
	return ""
}

// WriteRoulette writes the normalized CSV consumed by the roulette viewer.
// Secondary icons are split into element, weapon and armor lists, each
// joined with "|". Labels matching no group are left out.
func WriteRoulette(path string, records []models.Record) error {
	lines := make([][]string, 0, len(records))
	for _, r := range records {
		names := map[string][]string{}
		icons := map[string][]string{}
		for _, s := range r.Secondary {
			g := Classify(s.Label)
			if g == "" {
				continue
			}
			names[g] = append(names[g], s.Label)
			icons[g] = append(icons[g], s.LocalPath)
		}
		lines = append(lines, []string{
			r.Rarity, r.Name, r.IconPath,
			strings.Join(names[GroupElement], "|"), strings.Join(icons[GroupElement], "|"),
			strings.Join(names[GroupWeapon], "|"), strings.Join(icons[GroupWeapon], "|"),
			strings.Join(names[GroupArmor], "|"), strings.Join(icons[GroupArmor], "|"),
			"", "", "", "",
		})
	}
	return writeCSV(path, RouletteHeader, lines)
}

func writeCSV(path string, header []string, lines [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("report: create %s: %w", path, err)
	}

	if _, err := f.WriteString(utf8BOM); err != nil {
		f.Close()
		return fmt.Errorf("report: write %s: %w", path, err)
	}
	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		f.Close()
		return fmt.Errorf("report: write %s: %w", path, err)
	}
	if err := w.WriteAll(lines); err != nil {
		f.Close()
		return fmt.Errorf("report: write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("report: close %s: %w", path, err)
	}
	return nil
}
