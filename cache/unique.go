package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// UniquePath returns p if nothing exists there, otherwise the first free
// "name (n).ext" sibling, counting up from 1.
func UniquePath(p string) string {
	exists := func(candidate string) bool {
		_, err := os.Stat(candidate)
		return err == nil
	}
	if !exists(p) {
		return p
	}
	return nextSlot(p, exists)
}

// nextSlot returns the first "name (n).ext" variant of p for which taken
// reports false.
func nextSlot(p string, taken func(string) bool) string {
	ext := filepath.Ext(p)
	base := strings.TrimSuffix(p, ext)
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s (%d)%s", base, n, ext)
		if !taken(candidate) {
			return candidate
		}
	}
}
