package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/morezero/module-registry/pkg/db"
	"github.com/morezero/module-registry/pkg/events"
)

const deregisterLogPrefix = "registry:deregister"

// Deregister removes a module. If other registered modules still depend on
// it the call fails listing them, unless Force is set, in which case the
// dependents are left with a dangling reference and reported in the change
// event for external reconciliation.
func (r *Registry) Deregister(ctx context.Context, input *DeregisterInput) (*DeregisterOutput, error) {
	slog.Info(fmt.Sprintf("%s - module_id=%s force=%v", deregisterLogPrefix, input.ModuleID, input.Force))

	if err := r.requireStore(); err != nil {
		return nil, err
	}
	if input.ModuleID == "" {
		return nil, &RegistryError{Code: "INVALID_ARGUMENT", Message: "moduleId is required"}
	}

	rec, err := r.getRecord(ctx, input.ModuleID)
	if err != nil {
		return nil, storeError(err, input.ModuleID)
	}

	snapshot, err := r.scanRecords(ctx, db.ScanFilter{})
	if err != nil {
		return nil, storeError(err, input.ModuleID)
	}

	var dependents []string
	for i := range snapshot {
		other := &snapshot[i]
		if other.ModuleID == input.ModuleID {
			continue
		}
		if other.HasDependency(input.ModuleID) {
			dependents = append(dependents, other.ModuleID)
		}
	}

	if len(dependents) > 0 && !input.Force {
		return nil, &RegistryError{
			Code:    "DEPENDENT_MODULES_EXIST",
			Message: fmt.Sprintf("modules still depend on %s: %v", input.ModuleID, dependents),
			Details: dependents,
		}
	}

	delCtx, cancel := r.storeCtx(ctx)
	err = r.store.Delete(delCtx, input.ModuleID)
	cancel()
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			// Already gone; deletion is idempotent from the caller's view.
			return &DeregisterOutput{ModuleID: input.ModuleID}, nil
		}
		return nil, storeError(err, input.ModuleID)
	}

	r.publishChange(ctx, &events.ModuleChangedEvent{
		ModuleID:           input.ModuleID,
		Name:               rec.Name,
		Change:             events.ChangeDeregistered,
		Forced:             input.Force && len(dependents) > 0,
		DanglingDependents: dependents,
		Revision:           rec.Revision,
	})

	if len(dependents) > 0 {
		slog.Warn(fmt.Sprintf("%s - forced removal of module_id=%s left dangling dependents: %v", deregisterLogPrefix, input.ModuleID, dependents))
	}
	return &DeregisterOutput{ModuleID: input.ModuleID, Dependents: dependents}, nil
}
