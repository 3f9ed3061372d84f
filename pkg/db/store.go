package db

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors returned by Store implementations.
var (
	// ErrNotFound is returned when no record exists for the given module id.
	ErrNotFound = errors.New("db: module not found")
	// ErrDuplicate is returned by Put when a record with the same module id exists.
	ErrDuplicate = errors.New("db: module id already exists")
	// ErrConflict is returned by UpdateFields when the expected revision does not match.
	ErrConflict = errors.New("db: revision conflict")
)

// FieldUpdates describes a partial update to a module record.
// Nil fields are left unchanged. Every applied update increments Revision.
type FieldUpdates struct {
	Status              *string
	StatusPinned        *bool
	LastHeartbeat       *time.Time
	LatencyMs           *float64
	SuccessRate         *float64
	Throughput          *float64
	ProbeFailures       *int
	Capabilities        *[]Capability
	Interfaces          *[]Interface
	Dependencies        *[]string
	Tags                *[]string
	HealthCheckEndpoint *string
	MemoryMB            *int
	CPUCores            *float64
}

// IsEmpty reports whether no field is set.
func (u FieldUpdates) IsEmpty() bool {
	return u.Status == nil && u.StatusPinned == nil && u.LastHeartbeat == nil &&
		u.LatencyMs == nil && u.SuccessRate == nil && u.Throughput == nil &&
		u.ProbeFailures == nil && u.Capabilities == nil && u.Interfaces == nil &&
		u.Dependencies == nil && u.Tags == nil && u.HealthCheckEndpoint == nil &&
		u.MemoryMB == nil && u.CPUCores == nil
}

// ScanFilter narrows a Scan to records matching all set fields.
// Finer-grained filtering (capability version ranges, metric thresholds)
// happens in the registry layer.
type ScanFilter struct {
	ModuleType string
	Statuses   []string
	Tag        string
}

// Store is the persistence contract the registry depends on. The registry
// holds no module state in process memory; a Store implementation is the
// durable source of truth and is constructed explicitly and passed in.
//
// Scan results are ordered by module id so query output is deterministic
// for a given store state.
type Store interface {
	// Put persists a new record. Fails with ErrDuplicate if the module id exists.
	Put(ctx context.Context, record *ModuleRecord) error
	// Get returns the record for moduleID, or ErrNotFound.
	Get(ctx context.Context, moduleID string) (*ModuleRecord, error)
	// UpdateFields applies a partial update. When expectedRevision is non-nil
	// the update only applies if the stored revision matches; otherwise it
	// fails with ErrConflict. Fails with ErrNotFound for unknown ids.
	UpdateFields(ctx context.Context, moduleID string, updates FieldUpdates, expectedRevision *int) error
	// Delete removes the record, or returns ErrNotFound.
	Delete(ctx context.Context, moduleID string) error
	// Scan returns all records matching the filter, ordered by module id.
	Scan(ctx context.Context, filter ScanFilter) ([]ModuleRecord, error)
}
