package semver

import (
	"fmt"

	masterminds "github.com/Masterminds/semver/v3"
)

// SatisfiesRange checks if a version string satisfies a range.
//
// Supported range formats:
//   - ""                (empty range matches any valid version)
//   - "3"               (major only)
//   - "3.2.1"           (exact version)
//   - "^3.2.0"          (caret range)
//   - "~3.2.0"          (tilde range)
//   - ">=3.0.0 <4.0.0"  (comparison range)
func SatisfiesRange(version, rangeStr string) bool {
	sv, err := masterminds.NewVersion(version)
	if err != nil {
		return false
	}

	if rangeStr == "" {
		return true
	}

	if IsMajorOnly(rangeStr) {
		var major uint64
		fmt.Sscanf(rangeStr, "%d", &major)
		return sv.Major() == major
	}

	constraint, err := masterminds.NewConstraint(rangeStr)
	if err != nil {
		return false
	}
	return constraint.Check(sv)
}

// ValidateRange checks that a range string is parseable. Empty is valid.
func ValidateRange(rangeStr string) error {
	if rangeStr == "" || IsMajorOnly(rangeStr) {
		return nil
	}
	if _, err := masterminds.NewConstraint(rangeStr); err != nil {
		return fmt.Errorf("%s - invalid version range %q: %w", logPrefix, rangeStr, err)
	}
	return nil
}
