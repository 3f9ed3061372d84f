package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/morezero/module-registry/pkg/db"
	"github.com/morezero/module-registry/pkg/events"
)

const (
	defaultStalenessThreshold = 90 * time.Second
	defaultEMAWeight          = 0.3
	defaultFailuresToError    = 3
	defaultStoreTimeout       = 5 * time.Second
	defaultCASRetries         = 3
	defaultTransientRetries   = 2
	transientRetryBaseDelay   = 50 * time.Millisecond
)

// Config holds registry policy configuration.
type Config struct {
	// StalenessThreshold is how long a module may go without a heartbeat
	// before it is considered stale.
	StalenessThreshold time.Duration
	// EMAWeight is the weight given to a new metrics sample when blending
	// it into the stored exponential moving average.
	EMAWeight float64
	// FailuresToError is how many consecutive failed health probes move a
	// module to error status.
	FailuresToError int
	// StoreTimeout bounds every store call issued by the registry.
	StoreTimeout time.Duration
	// CASRetries bounds optimistic-concurrency retries before surfacing
	// CONCURRENT_MODIFICATION.
	CASRetries int
}

// DefaultConfig returns the default registry configuration.
func DefaultConfig() Config {
	return Config{
		StalenessThreshold: defaultStalenessThreshold,
		EMAWeight:          defaultEMAWeight,
		FailuresToError:    defaultFailuresToError,
		StoreTimeout:       defaultStoreTimeout,
		CASRetries:         defaultCASRetries,
	}
}

// Registry is the module registry service containing all business logic
// methods. It is stateless between calls; the Store is the source of truth.
type Registry struct {
	store     db.Store
	publisher events.EventPublisher
	config    Config
	now       func() time.Time
}

// NewRegistryParams holds parameters for NewRegistry.
type NewRegistryParams struct {
	Store     db.Store
	Publisher events.EventPublisher
	Config    Config
	// Now overrides the clock, for tests. Defaults to time.Now in UTC.
	Now func() time.Time
}

// NewRegistry creates a new Registry instance.
func NewRegistry(params NewRegistryParams) *Registry {
	cfg := params.Config
	if cfg.StalenessThreshold <= 0 {
		cfg.StalenessThreshold = defaultStalenessThreshold
	}
	if cfg.EMAWeight <= 0 || cfg.EMAWeight > 1 {
		cfg.EMAWeight = defaultEMAWeight
	}
	if cfg.FailuresToError <= 0 {
		cfg.FailuresToError = defaultFailuresToError
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = defaultStoreTimeout
	}
	if cfg.CASRetries <= 0 {
		cfg.CASRetries = defaultCASRetries
	}

	pub := params.Publisher
	if pub == nil {
		pub = &events.NoOpPublisher{}
	}

	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	return &Registry{
		store:     params.Store,
		publisher: pub,
		config:    cfg,
		now:       now,
	}
}

// requireStore returns an error if the store is not configured (e.g. in tests with nil store).
func (r *Registry) requireStore() *RegistryError {
	if r.store == nil {
		return &RegistryError{Code: "INTERNAL_ERROR", Message: "store not configured"}
	}
	return nil
}

// storeCtx derives a store-call context bounded by the configured timeout.
func (r *Registry) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.config.StoreTimeout)
}

// getRecord reads one record, retrying transient failures with bounded backoff.
func (r *Registry) getRecord(ctx context.Context, moduleID string) (*db.ModuleRecord, error) {
	var rec *db.ModuleRecord
	err := r.retryTransient(ctx, func(callCtx context.Context) error {
		var err error
		rec, err = r.store.Get(callCtx, moduleID)
		return err
	})
	return rec, err
}

// scanRecords scans the store, retrying transient failures with bounded backoff.
func (r *Registry) scanRecords(ctx context.Context, filter db.ScanFilter) ([]db.ModuleRecord, error) {
	var records []db.ModuleRecord
	err := r.retryTransient(ctx, func(callCtx context.Context) error {
		var err error
		records, err = r.store.Scan(callCtx, filter)
		return err
	})
	return records, err
}

// retryTransient runs one store call with bounded backoff on transient
// failures. Only safe for idempotent calls: every read, plus writes whose
// re-application changes nothing (heartbeat's revision-guarded UpdateFields).
func (r *Registry) retryTransient(ctx context.Context, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= defaultTransientRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(transientRetryBaseDelay << (attempt - 1)):
			}
		}
		callCtx, cancel := r.storeCtx(ctx)
		err := fn(callCtx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if !isTransient(err) {
			return err
		}
	}
	return lastErr
}

// isTransient reports whether a store error is worth retrying: timeouts and
// availability problems, not business outcomes like not-found or conflict.
func isTransient(err error) bool {
	if errors.Is(err, db.ErrNotFound) || errors.Is(err, db.ErrConflict) || errors.Is(err, db.ErrDuplicate) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return true
}

// storeError maps a store failure onto the registry error taxonomy.
func storeError(err error, moduleID string) *RegistryError {
	switch {
	case errors.Is(err, db.ErrNotFound):
		return &RegistryError{Code: "MODULE_NOT_FOUND", Message: "module not found", Details: moduleID}
	case errors.Is(err, db.ErrConflict):
		return &RegistryError{Code: "CONCURRENT_MODIFICATION", Message: "concurrent modification detected", Details: moduleID}
	case errors.Is(err, context.DeadlineExceeded):
		return &RegistryError{Code: "STORE_TIMEOUT", Message: "store call timed out", Details: moduleID}
	case errors.Is(err, context.Canceled):
		return &RegistryError{Code: "STORE_UNAVAILABLE", Message: "store call cancelled", Details: moduleID}
	default:
		return &RegistryError{Code: "STORE_UNAVAILABLE", Message: err.Error(), Details: moduleID}
	}
}

// publishChange sends a change event. Publish failures are logged, not
// surfaced: the registry operation has already committed.
func (r *Registry) publishChange(ctx context.Context, event *events.ModuleChangedEvent) {
	if event.Timestamp == "" {
		event.Timestamp = r.now().Format(time.RFC3339)
	}
	if err := r.publisher.PublishChanged(ctx, event); err != nil {
		slog.Error(fmt.Sprintf("registry:registry - PublishChanged failed: %v", err))
	}
}
