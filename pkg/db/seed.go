// Package db provides file-based seeding of well-known modules.
package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"
)

const seedLogPrefix = "db:seed"

// SeedModule is one entry in a seed file: a module the deployment expects to
// exist before anything registers dynamically (e.g. the orchestrator itself).
type SeedModule struct {
	ModuleID            string       `json:"module_id"`
	Name                string       `json:"name"`
	Version             string       `json:"version"`
	ModuleType          string       `json:"module_type"`
	Capabilities        []Capability `json:"capabilities,omitempty"`
	Interfaces          []Interface  `json:"interfaces,omitempty"`
	Dependencies        []string     `json:"dependencies,omitempty"`
	Tags                []string     `json:"tags,omitempty"`
	HealthCheckEndpoint *string      `json:"health_check_endpoint,omitempty"`
	MemoryMB            *int         `json:"memory_mb,omitempty"`
	CPUCores            *float64     `json:"cpu_cores,omitempty"`
}

// SeedModules loads a JSON array of seed modules from seedFilePath and inserts
// any that are not already present. Idempotent: existing module ids are left
// untouched. Seeded modules start active with last_heartbeat = discovered_at = now.
//
// The whole file is rejected when an entry depends on a module known neither
// to the store nor to the batch, or when the batch would introduce a
// dependency cycle. Seeding bypasses the registry's per-operation checks, so
// the graph invariants are enforced here before any write.
func SeedModules(ctx context.Context, store Store, seedFilePath string) error {
	if seedFilePath == "" {
		return nil
	}
	slog.Info(fmt.Sprintf("%s - seeding from %s", seedLogPrefix, seedFilePath))

	data, err := os.ReadFile(seedFilePath)
	if err != nil {
		return fmt.Errorf("%s - read seed file: %w", seedLogPrefix, err)
	}

	var entries []SeedModule
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("%s - decode seed file: %w", seedLogPrefix, err)
	}

	seeds := make([]SeedModule, 0, len(entries))
	for _, seed := range entries {
		if seed.ModuleID == "" || seed.Name == "" || seed.ModuleType == "" {
			slog.Warn(fmt.Sprintf("%s - skip seed entry missing module_id, name or module_type", seedLogPrefix))
			continue
		}
		seeds = append(seeds, seed)
	}

	existing, err := store.Scan(ctx, ScanFilter{})
	if err != nil {
		return fmt.Errorf("%s - scan existing modules: %w", seedLogPrefix, err)
	}
	if err := validateSeedGraph(existing, seeds); err != nil {
		return err
	}

	now := time.Now().UTC()
	seeded := 0
	for _, seed := range seeds {
		record := &ModuleRecord{
			ModuleID:            seed.ModuleID,
			Name:                seed.Name,
			Version:             seed.Version,
			ModuleType:          seed.ModuleType,
			Status:              "active",
			Capabilities:        seed.Capabilities,
			Interfaces:          seed.Interfaces,
			Dependencies:        seed.Dependencies,
			Tags:                seed.Tags,
			DiscoveredAt:        now,
			LastHeartbeat:       now,
			HealthCheckEndpoint: seed.HealthCheckEndpoint,
			MemoryMB:            seed.MemoryMB,
			CPUCores:            seed.CPUCores,
		}
		if err := store.Put(ctx, record); err != nil {
			if errors.Is(err, ErrDuplicate) {
				continue
			}
			return fmt.Errorf("%s - seed module %s: %w", seedLogPrefix, seed.ModuleID, err)
		}
		seeded++
	}

	slog.Info(fmt.Sprintf("%s - Seeded %d modules (%d entries in file)", seedLogPrefix, seeded, len(entries)))
	return nil
}

// validateSeedGraph checks the batch against the dependency invariants the
// registry enforces on registration: every dependency must resolve against
// the store or the batch itself, and the combined graph must stay acyclic.
// For a module id present in both, the stored record's edges win because the
// duplicate Put is skipped.
func validateSeedGraph(existing []ModuleRecord, seeds []SeedModule) error {
	edges := make(map[string][]string, len(existing)+len(seeds))
	for _, rec := range existing {
		edges[rec.ModuleID] = rec.Dependencies
	}
	for _, seed := range seeds {
		if _, ok := edges[seed.ModuleID]; ok {
			continue
		}
		edges[seed.ModuleID] = seed.Dependencies
	}

	for _, seed := range seeds {
		for _, dep := range seed.Dependencies {
			if _, ok := edges[dep]; !ok {
				return fmt.Errorf("%s - seed module %s depends on unknown module %s", seedLogPrefix, seed.ModuleID, dep)
			}
		}
	}

	const (
		unvisited = iota
		visiting
		settled
	)
	state := make(map[string]int, len(edges))
	var visit func(id string) []string
	visit = func(id string) []string {
		switch state[id] {
		case visiting:
			return []string{id}
		case settled:
			return nil
		}
		state[id] = visiting
		for _, dep := range edges[id] {
			if cycle := visit(dep); cycle != nil {
				return append(cycle, id)
			}
		}
		state[id] = settled
		return nil
	}
	for id := range edges {
		if cycle := visit(id); cycle != nil {
			return fmt.Errorf("%s - seed file introduces a dependency cycle: %v", seedLogPrefix, cycle)
		}
	}
	return nil
}
