package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/morezero/module-registry/pkg/db"
	"github.com/morezero/module-registry/pkg/events"
)

const registerLogPrefix = "registry:register"

// Register creates a new module record. The module id is generated here and
// the record becomes visible to queries only after the store acknowledges the
// write. Dependencies must already be registered; forward-registration is
// rejected, not deferred.
func (r *Registry) Register(ctx context.Context, input *RegisterInput) (*ModuleMetadata, error) {
	slog.Info(fmt.Sprintf("%s - name=%s type=%s deps=%d", registerLogPrefix, input.Name, input.ModuleType, len(input.Dependencies)))

	if err := r.requireStore(); err != nil {
		return nil, err
	}

	normalized, regErr := validateRegisterInput(input)
	if regErr != nil {
		return nil, regErr
	}

	moduleID := uuid.New().String()

	snapshot, err := r.scanRecords(ctx, db.ScanFilter{})
	if err != nil {
		return nil, storeError(err, moduleID)
	}

	if missing := missingDependencies(snapshot, moduleID, normalized.Dependencies); len(missing) > 0 {
		return nil, &RegistryError{
			Code:    "DEPENDENCY_NOT_FOUND",
			Message: fmt.Sprintf("dependencies not registered: %v", missing),
			Details: missing,
		}
	}
	// A freshly generated id has no inbound edges, so registration cannot
	// close a cycle; the check still guards against malformed input such as
	// a caller-echoed self-dependency.
	if cycle := findCycle(snapshot, moduleID, normalized.Dependencies); cycle != nil {
		return nil, &RegistryError{
			Code:    "CYCLIC_DEPENDENCY",
			Message: fmt.Sprintf("dependency cycle: %v", cycle),
			Details: cycle,
		}
	}

	now := r.now()
	record := &db.ModuleRecord{
		ModuleID:      moduleID,
		Name:          normalized.Name,
		Version:       normalized.Version,
		ModuleType:    normalized.ModuleType,
		Status:        string(StatusActive),
		Capabilities:  capsToDBCaps(normalized.Capabilities),
		Interfaces:    ifacesToDBIfaces(normalized.Interfaces),
		Dependencies:  normalized.Dependencies,
		Tags:          normalized.Tags,
		DiscoveredAt:  now,
		LastHeartbeat: now,
		MemoryMB:      normalized.MemoryMB,
		CPUCores:      normalized.CPUCores,
	}
	if normalized.HealthCheckEndpoint != "" {
		endpoint := normalized.HealthCheckEndpoint
		record.HealthCheckEndpoint = &endpoint
	}

	putCtx, cancel := r.storeCtx(ctx)
	err = r.store.Put(putCtx, record)
	cancel()
	if err != nil {
		if errors.Is(err, db.ErrDuplicate) {
			// uuid collision; the caller can simply retry.
			return nil, &RegistryError{Code: "CONCURRENT_MODIFICATION", Message: "module id collision", Details: moduleID}
		}
		return nil, storeError(err, moduleID)
	}

	// Re-verify dependencies after the write: a dependency deregistered
	// between the snapshot and the Put would leave a dangling edge, so the
	// record is rolled back rather than left inconsistent.
	if len(normalized.Dependencies) > 0 {
		if regErr := r.verifyDependenciesAfterWrite(ctx, record); regErr != nil {
			return nil, regErr
		}
	}

	r.publishChange(ctx, &events.ModuleChangedEvent{
		ModuleID: moduleID,
		Name:     record.Name,
		Change:   events.ChangeRegistered,
		Revision: record.Revision,
	})

	slog.Info(fmt.Sprintf("%s - registered module_id=%s name=%s", registerLogPrefix, moduleID, record.Name))
	return recordToMetadata(record), nil
}

func (r *Registry) verifyDependenciesAfterWrite(ctx context.Context, record *db.ModuleRecord) *RegistryError {
	var missing []string
	for _, dep := range record.Dependencies {
		_, err := r.getRecord(ctx, dep)
		if err == nil {
			continue
		}
		if errors.Is(err, db.ErrNotFound) {
			missing = append(missing, dep)
			continue
		}
		return storeError(err, record.ModuleID)
	}
	if len(missing) == 0 {
		return nil
	}

	slog.Warn(fmt.Sprintf("%s - rolling back module_id=%s, dependencies vanished: %v", registerLogPrefix, record.ModuleID, missing))
	delCtx, cancel := r.storeCtx(ctx)
	delErr := r.store.Delete(delCtx, record.ModuleID)
	cancel()
	if delErr != nil && !errors.Is(delErr, db.ErrNotFound) {
		slog.Error(fmt.Sprintf("%s - rollback delete failed for module_id=%s: %v", registerLogPrefix, record.ModuleID, delErr))
	}
	return &RegistryError{
		Code:    "DEPENDENCY_NOT_FOUND",
		Message: fmt.Sprintf("dependencies not registered: %v", missing),
		Details: missing,
	}
}
