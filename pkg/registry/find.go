package registry

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/morezero/module-registry/pkg/db"
	"github.com/morezero/module-registry/pkg/semver"
)

const findLogPrefix = "registry:find"

// Find returns modules matching every set filter, ordered by module id.
// Results reflect the store state at call time; re-issuing the call restarts
// the scan rather than resuming a frozen snapshot. Stale active/degraded
// modules are corrected to inactive before filtering, so a stale module is
// never observed as active (a documented write-on-read side effect) — with
// one exception: a module whose status an administrator pinned keeps that
// status even when stale, until it is unpinned.
func (r *Registry) Find(ctx context.Context, input *FindInput) ([]ModuleMetadata, error) {
	slog.Debug(fmt.Sprintf("%s - type=%s capability=%s tag=%s", findLogPrefix, input.ModuleType, input.Capability, input.Tag))

	if err := r.requireStore(); err != nil {
		return nil, err
	}

	if input.ModuleType != "" {
		if _, err := ParseModuleType(input.ModuleType); err != nil {
			return nil, &RegistryError{Code: "INVALID_ARGUMENT", Message: err.Error()}
		}
	}
	statuses := make(map[ModuleStatus]bool, len(input.Statuses))
	for _, s := range input.Statuses {
		parsed, err := ParseStatus(s)
		if err != nil {
			return nil, &RegistryError{Code: "INVALID_ARGUMENT", Message: err.Error()}
		}
		statuses[parsed] = true
	}
	if input.VersionRange != "" {
		if input.Capability == "" {
			return nil, &RegistryError{Code: "INVALID_ARGUMENT", Message: "versionRange requires capability"}
		}
		if err := semver.ValidateRange(input.VersionRange); err != nil {
			return nil, &RegistryError{Code: "INVALID_ARGUMENT", Message: err.Error()}
		}
	}
	if input.MinSuccessRate != nil && (*input.MinSuccessRate < 0 || *input.MinSuccessRate > 1) {
		return nil, &RegistryError{Code: "INVALID_ARGUMENT", Message: "minSuccessRate must be between 0.0 and 1.0"}
	}

	// Status filtering is not pushed down to the store: a record that reads
	// as active may be stale, and must be corrected before filtering.
	records, err := r.scanRecords(ctx, db.ScanFilter{
		ModuleType: input.ModuleType,
		Tag:        input.Tag,
	})
	if err != nil {
		return nil, storeError(err, "")
	}

	var results []ModuleMetadata
	for i := range records {
		rec, _ := r.applyStaleness(ctx, &records[i])

		if len(statuses) > 0 && !statuses[ModuleStatus(rec.Status)] {
			continue
		}
		if input.Capability != "" && !hasCapability(rec, input.Capability, input.VersionRange) {
			continue
		}
		if input.MinSuccessRate != nil {
			if rec.SuccessRate == nil || *rec.SuccessRate < *input.MinSuccessRate {
				continue
			}
		}
		results = append(results, *recordToMetadata(rec))
	}
	return results, nil
}

// hasCapability reports whether the record declares the named capability,
// optionally constrained to a semver range (empty range matches any version).
func hasCapability(rec *db.ModuleRecord, name, versionRange string) bool {
	for _, c := range rec.Capabilities {
		if c.Name != name {
			continue
		}
		if semver.SatisfiesRange(c.Version, versionRange) {
			return true
		}
	}
	return false
}
