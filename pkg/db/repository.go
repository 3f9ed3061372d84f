package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const repoLogPrefix = "db:repository"

const moduleColumns = `module_id, name, version, module_type, status,
	       capabilities, interfaces, dependencies, tags,
	       latency_ms, success_rate, throughput,
	       discovered_at, last_heartbeat, health_check_endpoint,
	       memory_mb, cpu_cores, status_pinned, probe_failures, revision`

// Repository is the Postgres-backed Store implementation.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new Repository with the given connection pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Put inserts a new module record. Fails with ErrDuplicate on an existing module id.
func (r *Repository) Put(ctx context.Context, record *ModuleRecord) error {
	slog.Debug(fmt.Sprintf("%s - Put module_id=%s name=%s", repoLogPrefix, record.ModuleID, record.Name))

	capsJSON, err := json.Marshal(record.Capabilities)
	if err != nil {
		return fmt.Errorf("%s - encode capabilities: %w", repoLogPrefix, err)
	}
	ifacesJSON, err := json.Marshal(record.Interfaces)
	if err != nil {
		return fmt.Errorf("%s - encode interfaces: %w", repoLogPrefix, err)
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO modules (module_id, name, version, module_type, status,
		        capabilities, interfaces, dependencies, tags,
		        latency_ms, success_rate, throughput,
		        discovered_at, last_heartbeat, health_check_endpoint,
		        memory_mb, cpu_cores, status_pinned, probe_failures, revision)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`,
		record.ModuleID, record.Name, record.Version, record.ModuleType, record.Status,
		capsJSON, ifacesJSON, record.Dependencies, record.Tags,
		record.LatencyMs, record.SuccessRate, record.Throughput,
		record.DiscoveredAt, record.LastHeartbeat, record.HealthCheckEndpoint,
		record.MemoryMB, record.CPUCores, record.StatusPinned, record.ProbeFailures, record.Revision)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicate
		}
		return fmt.Errorf("%s - Put failed: %w", repoLogPrefix, err)
	}
	return nil
}

// Get returns the record for moduleID, or ErrNotFound.
func (r *Repository) Get(ctx context.Context, moduleID string) (*ModuleRecord, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+moduleColumns+`
		 FROM modules
		 WHERE module_id = $1
		 LIMIT 1`, moduleID)

	rec, err := scanModule(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%s - Get failed: %w", repoLogPrefix, err)
	}
	return rec, nil
}

// UpdateFields applies a partial update, incrementing revision. When
// expectedRevision is set, a mismatched stored revision yields ErrConflict.
func (r *Repository) UpdateFields(ctx context.Context, moduleID string, updates FieldUpdates, expectedRevision *int) error {
	if updates.IsEmpty() {
		return nil
	}

	set := "revision = revision + 1"
	args := []interface{}{}
	argIdx := 1

	addSet := func(column string, value interface{}) {
		set += fmt.Sprintf(", %s = $%d", column, argIdx)
		args = append(args, value)
		argIdx++
	}

	if updates.Status != nil {
		addSet("status", *updates.Status)
	}
	if updates.StatusPinned != nil {
		addSet("status_pinned", *updates.StatusPinned)
	}
	if updates.LastHeartbeat != nil {
		addSet("last_heartbeat", *updates.LastHeartbeat)
	}
	if updates.LatencyMs != nil {
		addSet("latency_ms", *updates.LatencyMs)
	}
	if updates.SuccessRate != nil {
		addSet("success_rate", *updates.SuccessRate)
	}
	if updates.Throughput != nil {
		addSet("throughput", *updates.Throughput)
	}
	if updates.ProbeFailures != nil {
		addSet("probe_failures", *updates.ProbeFailures)
	}
	if updates.Capabilities != nil {
		capsJSON, err := json.Marshal(*updates.Capabilities)
		if err != nil {
			return fmt.Errorf("%s - encode capabilities: %w", repoLogPrefix, err)
		}
		addSet("capabilities", capsJSON)
	}
	if updates.Interfaces != nil {
		ifacesJSON, err := json.Marshal(*updates.Interfaces)
		if err != nil {
			return fmt.Errorf("%s - encode interfaces: %w", repoLogPrefix, err)
		}
		addSet("interfaces", ifacesJSON)
	}
	if updates.Dependencies != nil {
		addSet("dependencies", *updates.Dependencies)
	}
	if updates.Tags != nil {
		addSet("tags", *updates.Tags)
	}
	if updates.HealthCheckEndpoint != nil {
		addSet("health_check_endpoint", *updates.HealthCheckEndpoint)
	}
	if updates.MemoryMB != nil {
		addSet("memory_mb", *updates.MemoryMB)
	}
	if updates.CPUCores != nil {
		addSet("cpu_cores", *updates.CPUCores)
	}

	query := fmt.Sprintf("UPDATE modules SET %s WHERE module_id = $%d", set, argIdx)
	args = append(args, moduleID)
	argIdx++
	if expectedRevision != nil {
		query += fmt.Sprintf(" AND revision = $%d", argIdx)
		args = append(args, *expectedRevision)
	}

	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s - UpdateFields failed: %w", repoLogPrefix, err)
	}
	if tag.RowsAffected() == 0 {
		if expectedRevision == nil {
			return ErrNotFound
		}
		// Distinguish a missing record from a revision mismatch.
		var exists bool
		if err := r.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM modules WHERE module_id = $1)`, moduleID).Scan(&exists); err != nil {
			return fmt.Errorf("%s - UpdateFields existence check failed: %w", repoLogPrefix, err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrConflict
	}
	return nil
}

// Delete removes the record for moduleID, or returns ErrNotFound.
func (r *Repository) Delete(ctx context.Context, moduleID string) error {
	slog.Debug(fmt.Sprintf("%s - Delete module_id=%s", repoLogPrefix, moduleID))

	tag, err := r.pool.Exec(ctx, `DELETE FROM modules WHERE module_id = $1`, moduleID)
	if err != nil {
		return fmt.Errorf("%s - Delete failed: %w", repoLogPrefix, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Scan returns all records matching the filter, ordered by module id.
func (r *Repository) Scan(ctx context.Context, filter ScanFilter) ([]ModuleRecord, error) {
	query := `SELECT ` + moduleColumns + ` FROM modules WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if filter.ModuleType != "" {
		query += fmt.Sprintf(` AND module_type = $%d`, argIdx)
		args = append(args, filter.ModuleType)
		argIdx++
	}
	if len(filter.Statuses) > 0 {
		query += fmt.Sprintf(` AND status = ANY($%d)`, argIdx)
		args = append(args, filter.Statuses)
		argIdx++
	}
	if filter.Tag != "" {
		query += fmt.Sprintf(` AND $%d = ANY(tags)`, argIdx)
		args = append(args, filter.Tag)
		argIdx++
	}
	query += ` ORDER BY module_id`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s - Scan query failed: %w", repoLogPrefix, err)
	}
	defer rows.Close()

	var records []ModuleRecord
	for rows.Next() {
		rec, err := scanModule(rows)
		if err != nil {
			return nil, fmt.Errorf("%s - Scan row failed: %w", repoLogPrefix, err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s - Scan rows failed: %w", repoLogPrefix, err)
	}
	return records, nil
}

// rowScanner abstracts pgx.Row and pgx.Rows for scanModule.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanModule(row rowScanner) (*ModuleRecord, error) {
	var m ModuleRecord
	var capsJSON, ifacesJSON []byte
	if err := row.Scan(
		&m.ModuleID, &m.Name, &m.Version, &m.ModuleType, &m.Status,
		&capsJSON, &ifacesJSON, &m.Dependencies, &m.Tags,
		&m.LatencyMs, &m.SuccessRate, &m.Throughput,
		&m.DiscoveredAt, &m.LastHeartbeat, &m.HealthCheckEndpoint,
		&m.MemoryMB, &m.CPUCores, &m.StatusPinned, &m.ProbeFailures, &m.Revision,
	); err != nil {
		return nil, err
	}
	if len(capsJSON) > 0 {
		if err := json.Unmarshal(capsJSON, &m.Capabilities); err != nil {
			return nil, fmt.Errorf("%s - decode capabilities: %w", repoLogPrefix, err)
		}
	}
	if len(ifacesJSON) > 0 {
		if err := json.Unmarshal(ifacesJSON, &m.Interfaces); err != nil {
			return nil, fmt.Errorf("%s - decode interfaces: %w", repoLogPrefix, err)
		}
	}
	return &m, nil
}
