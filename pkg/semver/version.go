// Package semver provides capability version validation and range matching.
package semver

import (
	"fmt"
	"regexp"
	"strings"

	masterminds "github.com/Masterminds/semver/v3"
)

const logPrefix = "semver:version"

// DefaultVersion is assumed when a capability declares no version.
const DefaultVersion = "1.0.0"

var (
	majorOnlyRegex    = regexp.MustCompile(`^\d+$`)
	exactVersionRegex = regexp.MustCompile(`^\d+\.\d+\.\d+(-[\w.]+)?(\+[\w.]+)?$`)
)

// ValidateVersion checks that a version string is a strict semantic version
// (major.minor.patch, optional prerelease/build metadata).
func ValidateVersion(version string) error {
	v := strings.TrimSpace(version)
	if v == "" {
		return fmt.Errorf("%s - version is empty", logPrefix)
	}
	if !exactVersionRegex.MatchString(v) {
		return fmt.Errorf("%s - %q is not a semantic version (expect major.minor.patch)", logPrefix, version)
	}
	if _, err := masterminds.StrictNewVersion(v); err != nil {
		return fmt.Errorf("%s - %q is not a semantic version: %w", logPrefix, version, err)
	}
	return nil
}

// NormalizeVersion trims a version string and substitutes DefaultVersion for empty input.
func NormalizeVersion(version string) string {
	v := strings.TrimSpace(version)
	if v == "" {
		return DefaultVersion
	}
	return v
}

// CompareVersions returns -1, 0 or 1 comparing a to b by semver precedence.
// Malformed versions sort before well-formed ones.
func CompareVersions(a, b string) int {
	va, errA := masterminds.NewVersion(a)
	vb, errB := masterminds.NewVersion(b)
	if errA != nil && errB != nil {
		return strings.Compare(a, b)
	}
	if errA != nil {
		return -1
	}
	if errB != nil {
		return 1
	}
	return va.Compare(vb)
}

// IsMajorOnly checks if a range is a major-only specifier (e.g., "3").
func IsMajorOnly(rangeStr string) bool {
	return majorOnlyRegex.MatchString(rangeStr)
}
