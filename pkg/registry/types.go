// Package registry implements the core module registry business logic:
// registration, heartbeats, status transitions, staleness detection,
// discovery queries and dependency validation.
package registry

import (
	"fmt"
	"time"
)

// ModuleStatus is the registry's current belief about a module's health,
// distinct from raw heartbeat recency.
type ModuleStatus string

// The closed set of module statuses.
const (
	StatusActive   ModuleStatus = "active"
	StatusInactive ModuleStatus = "inactive"
	StatusDegraded ModuleStatus = "degraded"
	StatusError    ModuleStatus = "error"
)

// ParseStatus parses a status string, rejecting values outside the closed set.
func ParseStatus(s string) (ModuleStatus, error) {
	switch ModuleStatus(s) {
	case StatusActive, StatusInactive, StatusDegraded, StatusError:
		return ModuleStatus(s), nil
	}
	return "", fmt.Errorf("unknown module status %q", s)
}

// ModuleType classifies a module for filtering and discovery; it carries no behavior.
type ModuleType string

// The closed set of module types.
const (
	TypeDataProcessor ModuleType = "data_processor"
	TypeMLModel       ModuleType = "ml_model"
	TypeAPIGateway    ModuleType = "api_gateway"
	TypeStorage       ModuleType = "storage"
	TypeAnalytics     ModuleType = "analytics"
	TypeOrchestrator  ModuleType = "orchestrator"
	TypeCustom        ModuleType = "custom"
)

// ParseModuleType parses a module type string, rejecting values outside the closed set.
func ParseModuleType(s string) (ModuleType, error) {
	switch ModuleType(s) {
	case TypeDataProcessor, TypeMLModel, TypeAPIGateway, TypeStorage,
		TypeAnalytics, TypeOrchestrator, TypeCustom:
		return ModuleType(s), nil
	}
	return "", fmt.Errorf("unknown module type %q", s)
}

// ModuleCapability is one thing a module can do. Two capabilities with the
// same name but different versions are distinct. The declared order is kept
// as-is for display.
type ModuleCapability struct {
	Name        string                 `json:"name"`
	Version     string                 `json:"version"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

// ModuleInterface describes one way to reach a module. RateLimit is the
// maximum requests per minute by convention. A zero TimeoutSeconds on input
// is replaced with the 30 second default at registration.
type ModuleInterface struct {
	Protocol               string `json:"protocol"`
	Endpoint               string `json:"endpoint"`
	AuthenticationRequired bool   `json:"authentication_required"`
	RateLimit              *int   `json:"rate_limit,omitempty"`
	TimeoutSeconds         int    `json:"timeout_seconds"`
}

// ModuleMetadata is the full registry view of one module.
type ModuleMetadata struct {
	ModuleID            string             `json:"module_id"`
	Name                string             `json:"name"`
	Version             string             `json:"version"`
	ModuleType          ModuleType         `json:"module_type"`
	Status              ModuleStatus       `json:"status"`
	Capabilities        []ModuleCapability `json:"capabilities"`
	Interfaces          []ModuleInterface  `json:"interfaces"`
	Dependencies        []string           `json:"dependencies"`
	Tags                []string           `json:"tags"`
	LatencyMs           *float64           `json:"latency_ms,omitempty"`
	SuccessRate         *float64           `json:"success_rate,omitempty"`
	Throughput          *float64           `json:"throughput,omitempty"`
	DiscoveredAt        time.Time          `json:"discovered_at"`
	LastHeartbeat       time.Time          `json:"last_heartbeat"`
	HealthCheckEndpoint *string            `json:"health_check_endpoint,omitempty"`
	MemoryMB            *int               `json:"memory_mb,omitempty"`
	CPUCores            *float64           `json:"cpu_cores,omitempty"`
	StatusPinned        bool               `json:"status_pinned"`
	Revision            int                `json:"revision"`
}

// RegisterInput holds parameters for the register method.
type RegisterInput struct {
	Name                string             `json:"name"`
	Version             string             `json:"version"`
	ModuleType          string             `json:"moduleType"`
	Capabilities        []ModuleCapability `json:"capabilities,omitempty"`
	Interfaces          []ModuleInterface  `json:"interfaces,omitempty"`
	Dependencies        []string           `json:"dependencies,omitempty"`
	Tags                []string           `json:"tags,omitempty"`
	HealthCheckEndpoint string             `json:"healthCheckEndpoint,omitempty"`
	MemoryMB            *int               `json:"memoryMb,omitempty"`
	CPUCores            *float64           `json:"cpuCores,omitempty"`
}

// MetricsSample is one raw performance report attached to a heartbeat.
// Samples are blended into the stored metrics with an exponential moving
// average; a sample against an absent prior value is adopted as-is.
type MetricsSample struct {
	LatencyMs   *float64 `json:"latencyMs,omitempty"`
	SuccessRate *float64 `json:"successRate,omitempty"`
	Throughput  *float64 `json:"throughput,omitempty"`
}

// HeartbeatInput holds parameters for the heartbeat method.
type HeartbeatInput struct {
	ModuleID string         `json:"moduleId"`
	Metrics  *MetricsSample `json:"metrics,omitempty"`
}

// SetStatusInput holds parameters for the setStatus method. Pin, when set,
// pins (true) or unpins (false) the status against heartbeat self-healing
// and staleness transitions.
type SetStatusInput struct {
	ModuleID string `json:"moduleId"`
	Status   string `json:"status"`
	Reason   string `json:"reason,omitempty"`
	Pin      *bool  `json:"pin,omitempty"`
}

// RecordProbeInput reports one health-check probe result observed by an
// external prober.
type RecordProbeInput struct {
	ModuleID string `json:"moduleId"`
	Healthy  bool   `json:"healthy"`
}

// FindInput is a conjunction of discovery filters; zero values mean "no filter".
type FindInput struct {
	ModuleType     string   `json:"moduleType,omitempty"`
	Statuses       []string `json:"statuses,omitempty"`
	Capability     string   `json:"capability,omitempty"`
	VersionRange   string   `json:"versionRange,omitempty"`
	Tag            string   `json:"tag,omitempty"`
	MinSuccessRate *float64 `json:"minSuccessRate,omitempty"`
}

// UpdateInput holds a module's self-edit of its declared records.
// Nil fields are left unchanged; metrics and timestamps are not editable here.
type UpdateInput struct {
	ModuleID            string              `json:"moduleId"`
	Capabilities        *[]ModuleCapability `json:"capabilities,omitempty"`
	Interfaces          *[]ModuleInterface  `json:"interfaces,omitempty"`
	Dependencies        *[]string           `json:"dependencies,omitempty"`
	Tags                *[]string           `json:"tags,omitempty"`
	HealthCheckEndpoint *string             `json:"healthCheckEndpoint,omitempty"`
	MemoryMB            *int                `json:"memoryMb,omitempty"`
	CPUCores            *float64            `json:"cpuCores,omitempty"`
}

// DeregisterInput holds parameters for the deregister method.
type DeregisterInput struct {
	ModuleID string `json:"moduleId"`
	Force    bool   `json:"force,omitempty"`
}

// DeregisterOutput holds the result of the deregister method. Dependents is
// only populated on a forced removal, listing modules left with a dangling
// dependency for external reconciliation.
type DeregisterOutput struct {
	ModuleID   string   `json:"moduleId"`
	Dependents []string `json:"dependents,omitempty"`
}

// SweepOutput holds the result of a staleness sweep.
type SweepOutput struct {
	Scanned      int `json:"scanned"`
	Transitioned int `json:"transitioned"`
}

// HealthOutput holds the result of the health method.
type HealthOutput struct {
	Status    string       `json:"status"`
	Checks    HealthChecks `json:"checks"`
	Timestamp string       `json:"timestamp"`
}

// HealthChecks holds individual health check results.
type HealthChecks struct {
	Store bool `json:"store"`
}

// RegistryError is a structured error from the registry.
type RegistryError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func (e *RegistryError) Error() string {
	return e.Code + ": " + e.Message
}

// NewRegistryError creates a new RegistryError.
func NewRegistryError(code, message string) *RegistryError {
	return &RegistryError{Code: code, Message: message}
}
