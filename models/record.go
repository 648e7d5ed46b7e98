package models

// Mode selects how much work a run does.
type Mode string

const (
	// ModeDiagnostic captures raw cell snippets only; no assets, no report.
	ModeDiagnostic Mode = "diagnostic"

	// ModeReport runs full extraction, downloads icons and writes the report.
	ModeReport Mode = "report"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeDiagnostic || m == ModeReport
}

// AssetKind classifies a referenced icon. The value doubles as the
// subfolder name below the asset root.
type AssetKind string

const (
	AssetIcon      AssetKind = "icons"
	AssetSecondary AssetKind = "elements_equipment"
)

// AssetRef points at a remote icon.
type AssetRef struct {
	URL  string
	Kind AssetKind
}

// CachedAsset is an icon present on local disk.
type CachedAsset struct {
	Path string
	Size int64

	// Downloaded is false when the file was already on disk.
	Downloaded bool
}

// SecondaryIcon is one element/equipment icon paired with its alt label.
// LocalPath is empty when the download failed; the slot is kept so that
// icons and labels stay index-aligned.
type SecondaryIcon struct {
	LocalPath string `json:"local_path"`
	Label     string `json:"label"`
}

// Record is one normalized character row.
type Record struct {
	Name         string          `json:"name"`
	Rarity       string          `json:"rarity"`
	Secondary    []SecondaryIcon `json:"secondary"`
	ReleaseDate  string          `json:"release_date"`
	IconPath     string          `json:"icon_path"`
	IconFilename string          `json:"icon_filename"`
}

// DiagnosticRow is the raw, length-bounded snapshot of one table row.
// When collecting the snapshot failed, only RowIndex and Error are set.
type DiagnosticRow struct {
	RowIndex     int
	IconSrc      string
	IconAlt      string
	NameLinkText string
	NameFullText string
	ImgSrcs      string
	ImgAlts      string
	ReleaseText  string
	Error        string
}

// DiagnosticHeader is the column set of the diagnostic side file.
var DiagnosticHeader = []string{
	"row_index",
	"cell_1_icon_src",
	"cell_1_icon_alt",
	"cell_2_name_link_text",
	"cell_2_full_text",
	"cell_3_img_srcs",
	"cell_3_img_alts",
	"cell_4_text",
	"error",
}
