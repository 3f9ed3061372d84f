package registry

import (
	"sort"

	"github.com/morezero/module-registry/pkg/db"
)

// recordToMetadata converts a store record into the API view.
func recordToMetadata(rec *db.ModuleRecord) *ModuleMetadata {
	return &ModuleMetadata{
		ModuleID:            rec.ModuleID,
		Name:                rec.Name,
		Version:             rec.Version,
		ModuleType:          ModuleType(rec.ModuleType),
		Status:              ModuleStatus(rec.Status),
		Capabilities:        dbCapsToCaps(rec.Capabilities),
		Interfaces:          dbIfacesToIfaces(rec.Interfaces),
		Dependencies:        append([]string(nil), rec.Dependencies...),
		Tags:                append([]string(nil), rec.Tags...),
		LatencyMs:           rec.LatencyMs,
		SuccessRate:         rec.SuccessRate,
		Throughput:          rec.Throughput,
		DiscoveredAt:        rec.DiscoveredAt,
		LastHeartbeat:       rec.LastHeartbeat,
		HealthCheckEndpoint: rec.HealthCheckEndpoint,
		MemoryMB:            rec.MemoryMB,
		CPUCores:            rec.CPUCores,
		StatusPinned:        rec.StatusPinned,
		Revision:            rec.Revision,
	}
}

func dbCapsToCaps(in []db.Capability) []ModuleCapability {
	out := make([]ModuleCapability, len(in))
	for i, c := range in {
		out[i] = ModuleCapability{
			Name:        c.Name,
			Version:     c.Version,
			Description: c.Description,
			Parameters:  c.Parameters,
		}
	}
	return out
}

func capsToDBCaps(in []ModuleCapability) []db.Capability {
	out := make([]db.Capability, len(in))
	for i, c := range in {
		out[i] = db.Capability{
			Name:        c.Name,
			Version:     c.Version,
			Description: c.Description,
			Parameters:  c.Parameters,
		}
	}
	return out
}

func dbIfacesToIfaces(in []db.Interface) []ModuleInterface {
	out := make([]ModuleInterface, len(in))
	for i, iface := range in {
		out[i] = ModuleInterface{
			Protocol:               iface.Protocol,
			Endpoint:               iface.Endpoint,
			AuthenticationRequired: iface.AuthenticationRequired,
			RateLimit:              iface.RateLimit,
			TimeoutSeconds:         iface.TimeoutSeconds,
		}
	}
	return out
}

func ifacesToDBIfaces(in []ModuleInterface) []db.Interface {
	out := make([]db.Interface, len(in))
	for i, iface := range in {
		out[i] = db.Interface{
			Protocol:               iface.Protocol,
			Endpoint:               iface.Endpoint,
			AuthenticationRequired: iface.AuthenticationRequired,
			RateLimit:              iface.RateLimit,
			TimeoutSeconds:         iface.TimeoutSeconds,
		}
	}
	return out
}

// normalizeSet deduplicates and sorts a string slice, dropping empty values.
// Dependencies and tags have set semantics; normalized form keeps store
// contents deterministic.
func normalizeSet(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
