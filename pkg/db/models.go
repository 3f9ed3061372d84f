package db

import "time"

// Capability is one declared capability of a module, stored as jsonb.
type Capability struct {
	Name        string                 `json:"name"`
	Version     string                 `json:"version"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

// Interface is one declared network interface of a module, stored as jsonb.
type Interface struct {
	Protocol               string `json:"protocol"`
	Endpoint               string `json:"endpoint"`
	AuthenticationRequired bool   `json:"authentication_required"`
	RateLimit              *int   `json:"rate_limit,omitempty"`
	TimeoutSeconds         int    `json:"timeout_seconds"`
}

// ModuleRecord represents a row in the modules table.
// Revision is incremented on every update and backs optimistic concurrency.
type ModuleRecord struct {
	ModuleID            string       `json:"module_id"`
	Name                string       `json:"name"`
	Version             string       `json:"version"`
	ModuleType          string       `json:"module_type"`
	Status              string       `json:"status"`
	Capabilities        []Capability `json:"capabilities"`
	Interfaces          []Interface  `json:"interfaces"`
	Dependencies        []string     `json:"dependencies"`
	Tags                []string     `json:"tags"`
	LatencyMs           *float64     `json:"latency_ms,omitempty"`
	SuccessRate         *float64     `json:"success_rate,omitempty"`
	Throughput          *float64     `json:"throughput,omitempty"`
	DiscoveredAt        time.Time    `json:"discovered_at"`
	LastHeartbeat       time.Time    `json:"last_heartbeat"`
	HealthCheckEndpoint *string      `json:"health_check_endpoint,omitempty"`
	MemoryMB            *int         `json:"memory_mb,omitempty"`
	CPUCores            *float64     `json:"cpu_cores,omitempty"`
	StatusPinned        bool         `json:"status_pinned"`
	ProbeFailures       int          `json:"probe_failures"`
	Revision            int          `json:"revision"`
}

// Clone returns a deep copy of the record.
func (m *ModuleRecord) Clone() *ModuleRecord {
	out := *m
	out.Capabilities = make([]Capability, len(m.Capabilities))
	for i, c := range m.Capabilities {
		out.Capabilities[i] = c
		if c.Parameters != nil {
			params := make(map[string]interface{}, len(c.Parameters))
			for k, v := range c.Parameters {
				params[k] = v
			}
			out.Capabilities[i].Parameters = params
		}
	}
	out.Interfaces = append([]Interface(nil), m.Interfaces...)
	for i, iface := range m.Interfaces {
		if iface.RateLimit != nil {
			v := *iface.RateLimit
			out.Interfaces[i].RateLimit = &v
		}
	}
	out.Dependencies = append([]string(nil), m.Dependencies...)
	out.Tags = append([]string(nil), m.Tags...)
	out.LatencyMs = cloneFloat(m.LatencyMs)
	out.SuccessRate = cloneFloat(m.SuccessRate)
	out.Throughput = cloneFloat(m.Throughput)
	out.CPUCores = cloneFloat(m.CPUCores)
	if m.HealthCheckEndpoint != nil {
		v := *m.HealthCheckEndpoint
		out.HealthCheckEndpoint = &v
	}
	if m.MemoryMB != nil {
		v := *m.MemoryMB
		out.MemoryMB = &v
	}
	return &out
}

// HasDependency reports whether the record lists moduleID as a dependency.
func (m *ModuleRecord) HasDependency(moduleID string) bool {
	for _, dep := range m.Dependencies {
		if dep == moduleID {
			return true
		}
	}
	return false
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}
