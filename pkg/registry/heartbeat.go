package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/morezero/module-registry/pkg/db"
	"github.com/morezero/module-registry/pkg/events"
)

const heartbeatLogPrefix = "registry:heartbeat"

// Heartbeat records a liveness report. last_heartbeat moves forward only
// (monotonic under concurrent reports); metrics samples blend into the stored
// values with an exponential moving average. A module sitting in inactive or
// error status self-heals back to active unless an administrator pinned it.
//
// The operation is idempotent, so both transient store failures and
// conflicting concurrent writes are retried internally up to the configured
// bounds.
func (r *Registry) Heartbeat(ctx context.Context, input *HeartbeatInput) (*ModuleMetadata, error) {
	slog.Debug(fmt.Sprintf("%s - module_id=%s", heartbeatLogPrefix, input.ModuleID))

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

		now := r.now()
		updates := db.FieldUpdates{}
		heartbeatAt := rec.LastHeartbeat
		if now.After(heartbeatAt) {
			heartbeatAt = now
			updates.LastHeartbeat = &heartbeatAt
		}

		if input.Metrics != nil {
			if input.Metrics.SuccessRate != nil && (*input.Metrics.SuccessRate < 0 || *input.Metrics.SuccessRate > 1) {
				return nil, &RegistryError{Code: "INVALID_ARGUMENT", Message: "successRate must be between 0.0 and 1.0"}
			}
			updates.LatencyMs = blendEMA(rec.LatencyMs, input.Metrics.LatencyMs, r.config.EMAWeight)
			updates.SuccessRate = blendEMA(rec.SuccessRate, input.Metrics.SuccessRate, r.config.EMAWeight)
			updates.Throughput = blendEMA(rec.Throughput, input.Metrics.Throughput, r.config.EMAWeight)
		}

		if rec.ProbeFailures != 0 {
			zero := 0
			updates.ProbeFailures = &zero
		}

		previousStatus := ModuleStatus(rec.Status)
		healed := false
		if (previousStatus == StatusInactive || previousStatus == StatusError) && !rec.StatusPinned {
			active := string(StatusActive)
			updates.Status = &active
			healed = true
		}

		// The write is idempotent under the revision guard, so transient
		// store failures are retried in place like reads are.
		err = r.retryTransient(ctx, func(callCtx context.Context) error {
			return r.store.UpdateFields(callCtx, rec.ModuleID, updates, &rec.Revision)
		})
		if err != nil {
			if errors.Is(err, db.ErrConflict) {
				lastErr = err
				continue
			}
			return nil, storeError(err, input.ModuleID)
		}

		if healed {
			r.publishChange(ctx, &events.ModuleChangedEvent{
				ModuleID:       rec.ModuleID,
				Name:           rec.Name,
				Change:         events.ChangeStatus,
				PreviousStatus: string(previousStatus),
				NewStatus:      string(StatusActive),
				Reason:         "heartbeat self-healing",
				Revision:       rec.Revision + 1,
			})
			slog.Info(fmt.Sprintf("%s - module_id=%s self-healed %s -> active", heartbeatLogPrefix, rec.ModuleID, previousStatus))
		}

		applyUpdates(rec, updates)
		return recordToMetadata(rec), nil
	}
	return nil, storeError(lastErr, input.ModuleID)
}

// blendEMA blends a new sample into the prior with the given weight.
// An absent sample leaves the prior untouched; an absent prior adopts the
// sample rather than blending against a default.
func blendEMA(prior, sample *float64, weight float64) *float64 {
	if sample == nil {
		return nil
	}
	if prior == nil {
		v := *sample
		return &v
	}
	v := weight**sample + (1-weight)**prior
	return &v
}

// applyUpdates mirrors a successful UpdateFields onto a local record copy so
// the caller gets the post-write view without a second read.
func applyUpdates(rec *db.ModuleRecord, updates db.FieldUpdates) {
	if updates.Status != nil {
		rec.Status = *updates.Status
	}
	if updates.StatusPinned != nil {
		rec.StatusPinned = *updates.StatusPinned
	}
	if updates.LastHeartbeat != nil {
		rec.LastHeartbeat = *updates.LastHeartbeat
	}
	if updates.LatencyMs != nil {
		rec.LatencyMs = updates.LatencyMs
	}
	if updates.SuccessRate != nil {
		rec.SuccessRate = updates.SuccessRate
	}
	if updates.Throughput != nil {
		rec.Throughput = updates.Throughput
	}
	if updates.ProbeFailures != nil {
		rec.ProbeFailures = *updates.ProbeFailures
	}
	if updates.Capabilities != nil {
		rec.Capabilities = *updates.Capabilities
	}
	if updates.Interfaces != nil {
		rec.Interfaces = *updates.Interfaces
	}
	if updates.Dependencies != nil {
		rec.Dependencies = *updates.Dependencies
	}
	if updates.Tags != nil {
		rec.Tags = *updates.Tags
	}
	if updates.HealthCheckEndpoint != nil {
		rec.HealthCheckEndpoint = updates.HealthCheckEndpoint
	}
	if updates.MemoryMB != nil {
		rec.MemoryMB = updates.MemoryMB
	}
	if updates.CPUCores != nil {
		rec.CPUCores = updates.CPUCores
	}
	if !updates.IsEmpty() {
		rec.Revision++
	}
}
