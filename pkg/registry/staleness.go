package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/morezero/module-registry/pkg/db"
	"github.com/morezero/module-registry/pkg/events"
)

const stalenessLogPrefix = "registry:staleness"

// isStale reports whether the record's heartbeat is older than the threshold.
func (r *Registry) isStale(rec *db.ModuleRecord) bool {
	return r.now().Sub(rec.LastHeartbeat) > r.config.StalenessThreshold
}

// applyStaleness lazily corrects a stale active/degraded record down to
// inactive, returning the corrected view. Pinned records are reported as-is.
// Every read path (Get, Find, Sweep) funnels through here; this write-on-read
// side effect is part of the query contract.
func (r *Registry) applyStaleness(ctx context.Context, rec *db.ModuleRecord) (*db.ModuleRecord, bool) {
	current := ModuleStatus(rec.Status)
	if current != StatusActive && current != StatusDegraded {
		return rec, false
	}
	if rec.StatusPinned || !r.isStale(rec) {
		return rec, false
	}

	inactive := string(StatusInactive)
	updateCtx, cancel := r.storeCtx(ctx)
	err := r.store.UpdateFields(updateCtx, rec.ModuleID, db.FieldUpdates{Status: &inactive}, &rec.Revision)
	cancel()
	if err != nil {
		if errors.Is(err, db.ErrConflict) || errors.Is(err, db.ErrNotFound) {
			// Someone else moved the record first; a fresh read wins, and
			// the concurrent writer was either a later heartbeat (module is
			// alive after all) or another staleness correction.
			if fresh, getErr := r.getRecord(ctx, rec.ModuleID); getErr == nil {
				return fresh, false
			}
			return rec, false
		}
		slog.Error(fmt.Sprintf("%s - staleness update failed for module_id=%s: %v", stalenessLogPrefix, rec.ModuleID, err))
		return rec, false
	}

	r.publishChange(ctx, &events.ModuleChangedEvent{
		ModuleID:       rec.ModuleID,
		Name:           rec.Name,
		Change:         events.ChangeStatus,
		PreviousStatus: string(current),
		NewStatus:      inactive,
		Reason:         "heartbeat stale",
		Revision:       rec.Revision + 1,
	})
	slog.Info(fmt.Sprintf("%s - module_id=%s went stale: %s -> inactive", stalenessLogPrefix, rec.ModuleID, current))

	rec.Status = inactive
	rec.Revision++
	return rec, true
}

// Sweep evaluates staleness across the whole registry. It is invoked
// periodically by the server's scheduler and exposed as a CLI command.
func (r *Registry) Sweep(ctx context.Context) (*SweepOutput, error) {
	if err := r.requireStore(); err != nil {
		return nil, err
	}

	records, err := r.scanRecords(ctx, db.ScanFilter{})
	if err != nil {
		return nil, storeError(err, "")
	}

	transitioned := 0
	for i := range records {
		if _, changed := r.applyStaleness(ctx, &records[i]); changed {
			transitioned++
		}
	}

	slog.Info(fmt.Sprintf("%s - sweep scanned=%d transitioned=%d", stalenessLogPrefix, len(records), transitioned))
	return &SweepOutput{Scanned: len(records), Transitioned: transitioned}, nil
}

// RecordProbe records one health-check probe result reported by an external
// prober. Enough consecutive failures move the module toward error; a pass
// resets the counter.
func (r *Registry) RecordProbe(ctx context.Context, input *RecordProbeInput) (*ModuleMetadata, error) {
	slog.Debug(fmt.Sprintf("%s - module_id=%s healthy=%v", stalenessLogPrefix, input.ModuleID, input.Healthy))

	if err := r.requireStore(); err != nil {
		return nil, err
	}
	if input.ModuleID == "" {
		return nil, &RegistryError{Code: "INVALID_ARGUMENT", Message: "moduleId is required"}
	}

	var lastErr error
	for attempt := 0; attempt < r.config.CASRetries; attempt++ {
		rec, err := r.getRecord(ctx, input.ModuleID)
		if err != nil {
			return nil, storeError(err, input.ModuleID)
		}

		updates := db.FieldUpdates{}
		current := ModuleStatus(rec.Status)
		var previous ModuleStatus
		failed := false

		if input.Healthy {
			if rec.ProbeFailures != 0 {
				zero := 0
				updates.ProbeFailures = &zero
			}
		} else {
			failures := rec.ProbeFailures + 1
			updates.ProbeFailures = &failures
			if failures >= r.config.FailuresToError && !rec.StatusPinned &&
				current != StatusError && canTransition(current, StatusError) {
				errStatus := string(StatusError)
				updates.Status = &errStatus
				previous = current
				failed = true
			}
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

		if failed {
			r.publishChange(ctx, &events.ModuleChangedEvent{
				ModuleID:       rec.ModuleID,
				Name:           rec.Name,
				Change:         events.ChangeStatus,
				PreviousStatus: string(previous),
				NewStatus:      string(StatusError),
				Reason:         fmt.Sprintf("%d consecutive failed health probes", *updates.ProbeFailures),
				Revision:       rec.Revision + 1,
			})
			slog.Warn(fmt.Sprintf("%s - module_id=%s moved to error after %d failed probes", stalenessLogPrefix, rec.ModuleID, *updates.ProbeFailures))
		}

		applyUpdates(rec, updates)
		return recordToMetadata(rec), nil
	}
	return nil, storeError(lastErr, input.ModuleID)
}
