package report

import (
	"bytes"
	"encoding/csv"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"golang.org/x/image/bmp"

	"github.com/use-agent/edenscrape/events"
	"github.com/use-agent/edenscrape/models"
)

type logRecorder struct {
	mu    sync.Mutex
	lines []string
}

func (l *logRecorder) Log(_ events.Level, message string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, message)
}

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

func TestLayout_PadsToWidestRecord(t *testing.T) {
	records := []models.Record{
		{Name: "a"},
		{Name: "b", Secondary: []models.SecondaryIcon{{Label: "Fire"}, {Label: "Sword"}}},
		{Name: "c", Secondary: []models.SecondaryIcon{{Label: "Water"}}},
	}

	header, width := Layout(records)
	assert.Equal(t, 2, width)
	assert.Equal(t, []string{
		"Icon", "Icon Filename", "Name", "Rarity",
		"Elem/Equip 1 Icon", "Elem/Equip 1 Alt",
		"Elem/Equip 2 Icon", "Elem/Equip 2 Alt",
		"Release Date",
	}, header)
}

func TestWriteWorkbook(t *testing.T) {
	dir := t.TempDir()
	icon := filepath.Join(dir, "Aldo.png")
	fire := filepath.Join(dir, "Fire.png")
	broken := filepath.Join(dir, "Broken.png")
	writePNG(t, icon, 150, 150)
	writePNG(t, fire, 60, 60)
	require.NoError(t, os.WriteFile(broken, []byte("not an image"), 0o644))

	records := []models.Record{
		{Name: "Aldo", Rarity: "5★", IconPath: icon, IconFilename: "Aldo.png", ReleaseDate: "2017/04/12",
			Secondary: []models.SecondaryIcon{{LocalPath: fire, Label: "Fire"}, {LocalPath: broken, Label: "Sword"}}},
		{Name: "Feinne", Rarity: "4★", IconPath: filepath.Join(dir, "missing.png"), ReleaseDate: "2018/01/01"},
		{Name: "Riica", Rarity: "5★", ReleaseDate: "2019/01/01",
			Secondary: []models.SecondaryIcon{{Label: "Thunder"}}},
	}

	out := filepath.Join(dir, "report.xlsx")
	logs := &logRecorder{}
	require.NoError(t, WriteWorkbook(out, records, logs))

	f, err := excelize.OpenFile(out)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(SheetName)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, "Elem/Equip 2 Alt", rows[0][7])
	assert.Equal(t, "Release Date", rows[0][8])

	assert.Equal(t, []string{"", "Aldo.png", "Aldo", "5★", "", "Fire", ImagePlaceholder, "Sword", "2017/04/12"}, rows[1])
	assert.Equal(t, ImagePlaceholder, rows[2][0], "unreadable primary icon becomes a placeholder")
	assert.Equal(t, "2018/01/01", rows[2][8])
	assert.Equal(t, []string{"", "", "Riica", "5★", ImagePlaceholder, "Thunder", "", "", "2019/01/01"}, rows[3])

	pics, err := f.GetPictures(SheetName, "A2")
	require.NoError(t, err)
	assert.Len(t, pics, 1)
	pics, err = f.GetPictures(SheetName, "E2")
	require.NoError(t, err)
	assert.Len(t, pics, 1)

	height, err := f.GetRowHeight(SheetName, 2)
	require.NoError(t, err)
	assert.Equal(t, float64(rowHeight), height)

	assert.Len(t, logs.lines, 2, "one warning per icon that could not be embedded")
}

func TestWriteWorkbook_EmbedsBMP(t *testing.T) {
	dir := t.TempDir()
	icon := filepath.Join(dir, "Aldo.bmp")
	var buf bytes.Buffer
	require.NoError(t, bmp.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 40, 40))))
	require.NoError(t, os.WriteFile(icon, buf.Bytes(), 0o644))

	out := filepath.Join(dir, "report.xlsx")
	logs := &logRecorder{}
	require.NoError(t, WriteWorkbook(out, []models.Record{{Name: "Aldo", IconPath: icon}}, logs))
	assert.Empty(t, logs.lines)

	f, err := excelize.OpenFile(out)
	require.NoError(t, err)
	defer f.Close()
	pics, err := f.GetPictures(SheetName, "A2")
	require.NoError(t, err)
	assert.Len(t, pics, 1)
}

func TestToPNG(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, bmp.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 3, 2))))
	out, err := toPNG(buf.Bytes())
	require.NoError(t, err)
	cfg, err := png.DecodeConfig(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Width)
	assert.Equal(t, 2, cfg.Height)

	_, err = toPNG([]byte("not an image"))
	assert.Error(t, err)
}

func TestWriteWorkbook_SaveFailureIsReportWriteError(t *testing.T) {
	out := filepath.Join(t.TempDir(), "no-such-dir", "report.xlsx")
	err := WriteWorkbook(out, []models.Record{{Name: "Aldo"}}, &logRecorder{})
	require.Error(t, err)
	assert.Equal(t, models.ErrCodeReportWrite, models.CodeOf(err))
	assert.Contains(t, err.Error(), "open in another program")
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(raw, []byte(utf8BOM)), "file starts with a UTF-8 BOM")
	lines, err := csv.NewReader(bytes.NewReader(raw[len(utf8BOM):])).ReadAll()
	require.NoError(t, err)
	return lines
}

func TestWriteDiagnostics(t *testing.T) {
	out := filepath.Join(t.TempDir(), "structure_analysis.csv")
	rows := []models.DiagnosticRow{
		{RowIndex: 1, IconSrc: "/a.png", IconAlt: "A Icon", NameLinkText: "A", NameFullText: "A | 5★", ImgSrcs: "/f.png, /s.png", ImgAlts: "Fire, Sword", ReleaseText: "2017"},
		{RowIndex: 2, Error: "boom"},
	}
	require.NoError(t, WriteDiagnostics(out, rows))

	lines := readCSV(t, out)
	require.Len(t, lines, 3)
	assert.Equal(t, models.DiagnosticHeader, lines[0])
	assert.Equal(t, "/f.png, /s.png", lines[1][5])
	assert.Equal(t, []string{"2", "", "", "", "", "", "", "", "boom"}, lines[2])
}

func TestWriteRoulette(t *testing.T) {
	out := filepath.Join(t.TempDir(), "eden_roulette_data.csv")
	records := []models.Record{{
		Name: "Aldo", Rarity: "5★", IconPath: "art/icons/Aldo.png",
		Secondary: []models.SecondaryIcon{
			{LocalPath: "art/ee/Fire.png", Label: "Fire"},
			{LocalPath: "art/ee/Sword.png", Label: "Sword"},
			{LocalPath: "art/ee/Water.png", Label: "Water"},
			{LocalPath: "art/ee/Ring.png", Label: "Ring"},
			{LocalPath: "art/ee/x.png", Label: "Mystery"},
		},
	}}
	require.NoError(t, WriteRoulette(out, records))

	lines := readCSV(t, out)
	require.Len(t, lines, 2)
	assert.Equal(t, RouletteHeader, lines[0])
	assert.Equal(t, []string{
		"5★", "Aldo", "art/icons/Aldo.png",
		"Fire|Water", "art/ee/Fire.png|art/ee/Water.png",
		"Sword", "art/ee/Sword.png",
		"Ring", "art/ee/Ring.png",
		"", "", "", "",
	}, lines[1])
}

func TestClassify(t *testing.T) {
	assert.Equal(t, GroupElement, Classify("Thunder"))
	assert.Equal(t, GroupWeapon, Classify("Katana Icon"))
	assert.Equal(t, GroupArmor, Classify("bangle"))
	assert.Equal(t, "", Classify(""))
}

func TestRenderMarkdown(t *testing.T) {
	dir := t.TempDir()
	records := []models.Record{{
		Name: "Aldo", Rarity: "5★", ReleaseDate: "2017/04/12",
		IconPath:  filepath.Join(dir, "character_art", "icons", "Aldo.png"),
		Secondary: []models.SecondaryIcon{{LocalPath: filepath.Join(dir, "character_art", "elements_equipment", "Fire.png"), Label: "Fire"}},
	}}

	md, err := RenderMarkdown(records, dir)
	require.NoError(t, err)
	assert.Contains(t, md, "# Another Eden Characters")
	assert.Contains(t, md, "| Icon |")
	assert.Contains(t, md, "](character_art/icons/Aldo.png)")
	assert.Contains(t, md, "Aldo")
	assert.Contains(t, md, "2017/04/12")
	assert.False(t, strings.Contains(md, dir), "icon paths are relative")
}
