package models

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOf(t *testing.T) {
	err := fmt.Errorf("run: %w", NewScrapeError(ErrCodeFetch, "error fetching page", nil))
	assert.Equal(t, ErrCodeFetch, CodeOf(err))
	assert.Equal(t, ErrCodeInternal, CodeOf(fmt.Errorf("plain")))
}

func TestScrapeError_ToDetail(t *testing.T) {
	se := NewScrapeError(ErrCodeConflict, "a run is already writing to /out", fmt.Errorf("busy"))
	assert.Equal(t, &ErrorDetail{Code: ErrCodeConflict, Message: "a run is already writing to /out"}, se.ToDetail())
	assert.ErrorContains(t, se, "busy")
}
