package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/morezero/module-registry/pkg/db"
	"github.com/morezero/module-registry/pkg/events"
)

const updateLogPrefix = "registry:update"

// Update edits a module's declared capabilities, interfaces, dependencies,
// tags or resource hints. Changing dependencies re-runs existence and cycle
// validation against a store snapshot; this is the path where a cycle can
// actually be closed, since other modules may already depend on this one.
// Metrics, timestamps and status are not editable here.
func (r *Registry) Update(ctx context.Context, input *UpdateInput) (*ModuleMetadata, error) {
	slog.Info(fmt.Sprintf("%s - module_id=%s", updateLogPrefix, input.ModuleID))

	if err := r.requireStore(); err != nil {
		return nil, err
	}
	if input.ModuleID == "" {
		return nil, &RegistryError{Code: "INVALID_ARGUMENT", Message: "moduleId is required"}
	}
	if input.MemoryMB != nil && *input.MemoryMB <= 0 {
		return nil, &RegistryError{Code: "INVALID_ARGUMENT", Message: "memory_mb must be positive"}
	}
	if input.CPUCores != nil && *input.CPUCores <= 0 {
		return nil, &RegistryError{Code: "INVALID_ARGUMENT", Message: "cpu_cores must be positive"}
	}

	updates := db.FieldUpdates{
		HealthCheckEndpoint: input.HealthCheckEndpoint,
		MemoryMB:            input.MemoryMB,
		CPUCores:            input.CPUCores,
	}

	if input.Capabilities != nil {
		caps, regErr := validateCapabilities(*input.Capabilities)
		if regErr != nil {
			return nil, regErr
		}
		dbCaps := capsToDBCaps(caps)
		updates.Capabilities = &dbCaps
	}
	if input.Interfaces != nil {
		ifaces, regErr := validateInterfaces(*input.Interfaces)
		if regErr != nil {
			return nil, regErr
		}
		dbIfaces := ifacesToDBIfaces(ifaces)
		updates.Interfaces = &dbIfaces
	}

	var deps []string
	if input.Dependencies != nil {
		deps = normalizeSet(*input.Dependencies)
		updates.Dependencies = &deps
	}
	if input.Tags != nil {
		tags := normalizeSet(*input.Tags)
		updates.Tags = &tags
	}

	var lastErr error
	for attempt := 0; attempt < r.config.CASRetries; attempt++ {
		rec, err := r.getRecord(ctx, input.ModuleID)
		if err != nil {
			return nil, storeError(err, input.ModuleID)
		}

		if input.Dependencies != nil {
			// Snapshot under the record's revision: a conflicting write to
			// this record between snapshot and update forces a retry, which
			// re-validates the graph.
			snapshot, err := r.scanRecords(ctx, db.ScanFilter{})
			if err != nil {
				return nil, storeError(err, input.ModuleID)
			}
			if missing := missingDependencies(snapshot, rec.ModuleID, deps); len(missing) > 0 {
				return nil, &RegistryError{
					Code:    "DEPENDENCY_NOT_FOUND",
					Message: fmt.Sprintf("dependencies not registered: %v", missing),
					Details: missing,
				}
			}
			if cycle := findCycle(snapshot, rec.ModuleID, deps); cycle != nil {
				return nil, &RegistryError{
					Code:    "CYCLIC_DEPENDENCY",
					Message: fmt.Sprintf("dependency cycle: %v", cycle),
					Details: cycle,
				}
			}
		}

		updateCtx, cancel := r.storeCtx(ctx)
		err = r.store.UpdateFields(updateCtx, rec.ModuleID, updates, &rec.Revision)
		cancel()
		if err != nil {
			if errors.Is(err, db.ErrConflict) {
				lastErr = err
				continue
			}
			return nil, storeError(err, input.ModuleID)
		}

		r.publishChange(ctx, &events.ModuleChangedEvent{
			ModuleID: rec.ModuleID,
			Name:     rec.Name,
			Change:   events.ChangeUpdated,
			Revision: rec.Revision + 1,
		})

		applyUpdates(rec, updates)
		return recordToMetadata(rec), nil
	}
	return nil, storeError(lastErr, input.ModuleID)
}
