package simhash

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

// Baseline is the last table fingerprint seen in an output directory.
type Baseline struct {
	Fingerprint uint64    `json:"fingerprint"`
	Selector    string    `json:"selector"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// LoadBaseline reads a baseline file. A missing file returns (nil, nil).
func LoadBaseline(path string) (*Baseline, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("simhash: read baseline: %w", err)
	}
	var b Baseline
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, fmt.Errorf("simhash: decode baseline: %w", err)
	}
	return &b, nil
}

// SaveBaseline overwrites path with b.
func SaveBaseline(path string, b Baseline) error {
	raw, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return fmt.Errorf("simhash: encode baseline: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("simhash: write baseline: %w", err)
	}
	return nil
}

// Drift compares current against the baseline stored at path and then
// records current as the new baseline. known is false on the first run in
// a directory, when there is nothing to compare against.
func Drift(path string, current Baseline) (distance int, known bool, err error) {
	prev, err := LoadBaseline(path)
	if err != nil {
		return 0, false, err
	}
	if prev != nil {
		distance = Distance(prev.Fingerprint, current.Fingerprint)
		known = true
	}
	if current.RecordedAt.IsZero() {
		current.RecordedAt = time.Now().UTC()
	}
	return distance, known, SaveBaseline(path, current)
}
