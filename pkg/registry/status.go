package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/morezero/module-registry/pkg/db"
	"github.com/morezero/module-registry/pkg/events"
)

const statusLogPrefix = "registry:status"

// legalTransitions encodes the status state machine. inactive can only be
// brought back to active; everything else may also be shut down or marked
// failing.
var legalTransitions = map[ModuleStatus][]ModuleStatus{
	StatusActive:   {StatusDegraded, StatusInactive, StatusError},
	StatusDegraded: {StatusActive, StatusError, StatusInactive},
	StatusError:    {StatusActive, StatusInactive},
	StatusInactive: {StatusActive},
}

// canTransition reports whether the state machine permits from -> to.
func canTransition(from, to ModuleStatus) bool {
	for _, allowed := range legalTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// SetStatus performs an administrative status transition, optionally pinning
// or unpinning the record against self-healing and staleness transitions.
// Setting the current status again is a no-op transition and is allowed, so
// a pin flag can be flipped without changing state.
func (r *Registry) SetStatus(ctx context.Context, input *SetStatusInput) (*ModuleMetadata, error) {
	slog.Info(fmt.Sprintf("%s - module_id=%s status=%s", statusLogPrefix, input.ModuleID, input.Status))

	if err := r.requireStore(); err != nil {
		return nil, err
	}
	if input.ModuleID == "" {
		return nil, &RegistryError{Code: "INVALID_ARGUMENT", Message: "moduleId is required"}
	}
	target, err := ParseStatus(input.Status)
	if err != nil {
		return nil, &RegistryError{Code: "INVALID_ARGUMENT", Message: err.Error()}
	}

	var lastErr error
	for attempt := 0; attempt < r.config.CASRetries; attempt++ {
		rec, err := r.getRecord(ctx, input.ModuleID)
		if err != nil {
			return nil, storeError(err, input.ModuleID)
		}

		current := ModuleStatus(rec.Status)
		if current != target && !canTransition(current, target) {
			return nil, &RegistryError{
				Code:    "INVALID_TRANSITION",
				Message: fmt.Sprintf("cannot transition %s from %s to %s", rec.ModuleID, current, target),
				Details: map[string]string{"from": string(current), "to": string(target)},
			}
		}

		updates := db.FieldUpdates{}
		if current != target {
			status := string(target)
			updates.Status = &status
		}
		if input.Pin != nil && *input.Pin != rec.StatusPinned {
			updates.StatusPinned = input.Pin
		}
		if updates.IsEmpty() {
			return recordToMetadata(rec), nil
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

		if current != target {
			reason := input.Reason
			if reason == "" {
				reason = "administrative"
			}
			r.publishChange(ctx, &events.ModuleChangedEvent{
				ModuleID:       rec.ModuleID,
				Name:           rec.Name,
				Change:         events.ChangeStatus,
				PreviousStatus: string(current),
				NewStatus:      string(target),
				Reason:         reason,
				Revision:       rec.Revision + 1,
			})
		}

		applyUpdates(rec, updates)
		return recordToMetadata(rec), nil
	}
	return nil, storeError(lastErr, input.ModuleID)
}
