package db

import (
	"context"
	"sort"
	"sync"
)

// MemStore is an in-memory Store implementation guarded by a mutex.
// It backs unit tests and single-process deployments without Postgres,
// with the same revision-based optimistic concurrency as Repository.
type MemStore struct {
	mu      sync.RWMutex
	records map[string]*ModuleRecord
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{records: make(map[string]*ModuleRecord)}
}

// Put inserts a new module record. Fails with ErrDuplicate on an existing module id.
func (s *MemStore) Put(ctx context.Context, record *ModuleRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[record.ModuleID]; ok {
		return ErrDuplicate
	}
	s.records[record.ModuleID] = record.Clone()
	return nil
}

// Get returns a copy of the record for moduleID, or ErrNotFound.
func (s *MemStore) Get(ctx context.Context, moduleID string) (*ModuleRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[moduleID]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

// UpdateFields applies a partial update, incrementing revision.
func (s *MemStore) UpdateFields(ctx context.Context, moduleID string, updates FieldUpdates, expectedRevision *int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if updates.IsEmpty() {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[moduleID]
	if !ok {
		return ErrNotFound
	}
	if expectedRevision != nil && rec.Revision != *expectedRevision {
		return ErrConflict
	}

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
		rec.LatencyMs = cloneFloat(updates.LatencyMs)
	}
	if updates.SuccessRate != nil {
		rec.SuccessRate = cloneFloat(updates.SuccessRate)
	}
	if updates.Throughput != nil {
		rec.Throughput = cloneFloat(updates.Throughput)
	}
	if updates.ProbeFailures != nil {
		rec.ProbeFailures = *updates.ProbeFailures
	}
	if updates.Capabilities != nil {
		rec.Capabilities = append([]Capability(nil), *updates.Capabilities...)
	}
	if updates.Interfaces != nil {
		rec.Interfaces = append([]Interface(nil), *updates.Interfaces...)
	}
	if updates.Dependencies != nil {
		rec.Dependencies = append([]string(nil), *updates.Dependencies...)
	}
	if updates.Tags != nil {
		rec.Tags = append([]string(nil), *updates.Tags...)
	}
	if updates.HealthCheckEndpoint != nil {
		v := *updates.HealthCheckEndpoint
		rec.HealthCheckEndpoint = &v
	}
	if updates.MemoryMB != nil {
		v := *updates.MemoryMB
		rec.MemoryMB = &v
	}
	if updates.CPUCores != nil {
		rec.CPUCores = cloneFloat(updates.CPUCores)
	}
	rec.Revision++
	return nil
}

// Delete removes the record for moduleID, or returns ErrNotFound.
func (s *MemStore) Delete(ctx context.Context, moduleID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[moduleID]; !ok {
		return ErrNotFound
	}
	delete(s.records, moduleID)
	return nil
}

// Scan returns copies of all records matching the filter, ordered by module id.
func (s *MemStore) Scan(ctx context.Context, filter ScanFilter) ([]ModuleRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var records []ModuleRecord
	for _, rec := range s.records {
		if filter.ModuleType != "" && rec.ModuleType != filter.ModuleType {
			continue
		}
		if len(filter.Statuses) > 0 && !containsString(filter.Statuses, rec.Status) {
			continue
		}
		if filter.Tag != "" && !containsString(rec.Tags, filter.Tag) {
			continue
		}
		records = append(records, *rec.Clone())
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].ModuleID < records[j].ModuleID
	})
	return records, nil
}

func containsString(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
