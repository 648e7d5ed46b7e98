// Package report turns normalized records into the files people open: the
// workbook with embedded icons, the diagnostic side file, the roulette CSV
// and a markdown rendering.
package report

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/use-agent/edenscrape/events"
	"github.com/use-agent/edenscrape/models"
)

const (
	SheetName = "Characters"

	iconSize      = 75
	secondarySize = 30
	rowHeight     = 60

	// ImagePlaceholder replaces an icon that could not be embedded.
	ImagePlaceholder = "ImgErr"
)

// Layout returns the header row and the number of secondary icon slots
// every row is padded to.
func Layout(records []models.Record) (header []string, width int) {
	for _, r := range records {
		if len(r.Secondary) > width {
			width = len(r.Secondary)
		}
	}
	header = []string{"Icon", "Icon Filename", "Name", "Rarity"}
	for i := 1; i <= width; i++ {
		header = append(header, fmt.Sprintf("Elem/Equip %d Icon", i), fmt.Sprintf("Elem/Equip %d Alt", i))
	}
	header = append(header, "Release Date")
	return header, width
}

// WriteWorkbook writes records to an .xlsx file at path. Icons that cannot
// be read degrade to a placeholder cell. Only a failed save is an error,
// reported as REPORT_WRITE_FAILED.
func WriteWorkbook(path string, records []models.Record, log events.LogSink) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return models.NewScrapeError(models.ErrCodeReportWrite, "could not prepare workbook", err)
	}

	header, width := Layout(records)
	for i, h := range header {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return models.NewScrapeError(models.ErrCodeReportWrite, "could not prepare workbook", err)
		}
		if err := f.SetCellValue(SheetName, cell, h); err != nil {
			return models.NewScrapeError(models.ErrCodeReportWrite, "could not prepare workbook", err)
		}
	}
	if err := setColumnWidths(f, width); err != nil {
		return models.NewScrapeError(models.ErrCodeReportWrite, "could not prepare workbook", err)
	}

	for i, rec := range records {
		row := i + 2
		if err := writeRecord(f, row, width, rec, log); err != nil {
			return models.NewScrapeError(models.ErrCodeReportWrite, "could not write row "+fmt.Sprint(row), err)
		}
		if (row-1)%50 == 0 {
			log.Log(events.LevelInfo, fmt.Sprintf("Excel: wrote data for '%s' (processed %d characters)", rec.Name, row-1))
		}
	}

	if err := f.SaveAs(path); err != nil {
		return models.NewScrapeError(models.ErrCodeReportWrite,
			fmt.Sprintf("could not save %s; check whether the file is open in another program", path), err)
	}
	return nil
}

func setColumnWidths(f *excelize.File, width int) error {
	widths := []float64{12, 35, 15, 12}
	for i := 0; i < width; i++ {
		widths = append(widths, 12, 25)
	}
	widths = append(widths, 15)

	for i, w := range widths {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return err
		}
		if err := f.SetColWidth(SheetName, col, col, w); err != nil {
			return err
		}
	}
	return nil
}

func writeRecord(f *excelize.File, row, width int, rec models.Record, log events.LogSink) error {
	if err := f.SetRowHeight(SheetName, row, rowHeight); err != nil {
		return err
	}

	set := func(col int, v any) error {
		cell, err := excelize.CoordinatesToCellName(col, row)
		if err != nil {
			return err
		}
		return f.SetCellValue(SheetName, cell, v)
	}

	col := 1
	if rec.IconPath != "" {
		if err := embed(f, col, row, rec.IconPath, iconSize); err != nil {
			log.Log(events.LevelWarn, fmt.Sprintf("Excel write error (icon) for %s: %v", rec.Name, err))
			if err := set(col, ImagePlaceholder); err != nil {
				return err
			}
		}
	}
	col++

	for _, v := range []string{rec.IconFilename, rec.Name, rec.Rarity} {
		if err := set(col, v); err != nil {
			return err
		}
		col++
	}

	for i := 0; i < width; i++ {
		if i < len(rec.Secondary) {
			slot := rec.Secondary[i]
			if slot.LocalPath == "" {
				if err := set(col, ImagePlaceholder); err != nil {
					return err
				}
			} else if err := embed(f, col, row, slot.LocalPath, secondarySize); err != nil {
				log.Log(events.LevelWarn, fmt.Sprintf("Excel write error (elem/equip icon) for %s: %v", rec.Name, err))
				if err := set(col, ImagePlaceholder); err != nil {
					return err
				}
			}
			if err := set(col+1, slot.Label); err != nil {
				return err
			}
		}
		col += 2
	}

	return set(col, rec.ReleaseDate)
}

// embed places the image at path into the cell, scaled to size×size pixels.
// Formats the workbook cannot hold natively are re-encoded as PNG.
func embed(f *excelize.File, col, row int, path string, size int) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	if cfg.Width == 0 || cfg.Height == 0 {
		return fmt.Errorf("decode %s: empty image", path)
	}

	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".webp" {
		if raw, err = toPNG(raw); err != nil {
			return fmt.Errorf("convert %s: %w", path, err)
		}
		ext = ".png"
	}

	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return err
	}
	return f.AddPictureFromBytes(SheetName, cell, &excelize.Picture{
		Extension: ext,
		File:      raw,
		Format: &excelize.GraphicOptions{
			ScaleX:          float64(size) / float64(cfg.Width),
			ScaleY:          float64(size) / float64(cfg.Height),
			Positioning:     "oneCell",
			LockAspectRatio: false,
		},
	})
}

func toPNG(raw []byte) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
