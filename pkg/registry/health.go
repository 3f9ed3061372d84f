package registry

import (
	"context"
	"errors"
	"time"

	"github.com/morezero/module-registry/pkg/db"
)

// Health checks the registry service health. The store is probed with a
// cheap point read; a not-found answer still proves the store is reachable.
func (r *Registry) Health(ctx context.Context) *HealthOutput {
	storeOk := true

	if r.store == nil {
		storeOk = false
	} else {
		probeCtx, cancel := r.storeCtx(ctx)
		_, err := r.store.Get(probeCtx, "health-probe")
		cancel()
		if err != nil && !errors.Is(err, db.ErrNotFound) {
			storeOk = false
		}
	}

	status := "healthy"
	if !storeOk {
		status = "unhealthy"
	}

	return &HealthOutput{
		Status: status,
		Checks: HealthChecks{
			Store: storeOk,
		},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}
