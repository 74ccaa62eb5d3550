package planner

import (
	"fmt"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/yuya-takeyama/strict-object-store/internal/walker"
)

// ValidatePatterns rejects malformed doublestar patterns before any listing.
func ValidatePatterns(patterns []string) error {
	for _, pattern := range patterns {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("invalid exclude pattern %q: %w", pattern, doublestar.ErrBadPattern)
		}
	}
	return nil
}

// IsExcluded reports whether a relative path, local or below the store
// prefix, matches one of the patterns. Patterns ending in "/" exclude a
// directory and everything below it.
func IsExcluded(path string, patterns []string) (bool, error) {
	if err := ValidatePatterns(patterns); err != nil {
		return false, err
	}
	return walker.Excluded(path, patterns), nil
}
