package registry

import (
	"fmt"
	"strings"

	"github.com/morezero/module-registry/pkg/semver"
)

const defaultInterfaceTimeoutSeconds = 30

// validateCapabilities checks every capability and returns normalized copies
// (empty version replaced with the 1.0.0 default). Declaration order is
// preserved for display. Validation happens before any store write.
func validateCapabilities(caps []ModuleCapability) ([]ModuleCapability, *RegistryError) {
	out := make([]ModuleCapability, len(caps))
	for i, c := range caps {
		if strings.TrimSpace(c.Name) == "" {
			return nil, &RegistryError{
				Code:    "INVALID_CAPABILITY",
				Message: fmt.Sprintf("capability at index %d has no name", i),
			}
		}
		c.Version = semver.NormalizeVersion(c.Version)
		if err := semver.ValidateVersion(c.Version); err != nil {
			return nil, &RegistryError{
				Code:    "INVALID_CAPABILITY",
				Message: fmt.Sprintf("capability %q version %q is not a semantic version", c.Name, c.Version),
				Details: c.Name,
			}
		}
		out[i] = c
	}
	return out, nil
}

// validateInterfaces checks every interface and returns normalized copies
// (zero timeout replaced with the 30 second default).
func validateInterfaces(ifaces []ModuleInterface) ([]ModuleInterface, *RegistryError) {
	out := make([]ModuleInterface, len(ifaces))
	for i, iface := range ifaces {
		if strings.TrimSpace(iface.Protocol) == "" {
			return nil, &RegistryError{
				Code:    "INVALID_INTERFACE",
				Message: fmt.Sprintf("interface at index %d has no protocol", i),
			}
		}
		if strings.TrimSpace(iface.Endpoint) == "" {
			return nil, &RegistryError{
				Code:    "INVALID_INTERFACE",
				Message: fmt.Sprintf("interface at index %d has no endpoint", i),
				Details: iface.Protocol,
			}
		}
		if iface.TimeoutSeconds < 0 {
			return nil, &RegistryError{
				Code:    "INVALID_INTERFACE",
				Message: fmt.Sprintf("interface %q timeout_seconds %d is negative", iface.Endpoint, iface.TimeoutSeconds),
				Details: iface.Endpoint,
			}
		}
		if iface.RateLimit != nil && *iface.RateLimit <= 0 {
			return nil, &RegistryError{
				Code:    "INVALID_INTERFACE",
				Message: fmt.Sprintf("interface %q rate_limit must be positive", iface.Endpoint),
				Details: iface.Endpoint,
			}
		}
		if iface.TimeoutSeconds == 0 {
			iface.TimeoutSeconds = defaultInterfaceTimeoutSeconds
		}
		out[i] = iface
	}
	return out, nil
}

// validateRegisterInput checks the non-graph parts of a registration.
// Dependency existence and acyclicity are checked against a store snapshot
// by the register operation itself.
func validateRegisterInput(input *RegisterInput) (*RegisterInput, *RegistryError) {
	if strings.TrimSpace(input.Name) == "" {
		return nil, &RegistryError{Code: "INVALID_ARGUMENT", Message: "name is required"}
	}
	if _, err := ParseModuleType(input.ModuleType); err != nil {
		return nil, &RegistryError{Code: "INVALID_ARGUMENT", Message: err.Error()}
	}
	if input.MemoryMB != nil && *input.MemoryMB <= 0 {
		return nil, &RegistryError{Code: "INVALID_ARGUMENT", Message: "memory_mb must be positive"}
	}
	if input.CPUCores != nil && *input.CPUCores <= 0 {
		return nil, &RegistryError{Code: "INVALID_ARGUMENT", Message: "cpu_cores must be positive"}
	}

	normalized := *input
	caps, regErr := validateCapabilities(input.Capabilities)
	if regErr != nil {
		return nil, regErr
	}
	normalized.Capabilities = caps

	ifaces, regErr := validateInterfaces(input.Interfaces)
	if regErr != nil {
		return nil, regErr
	}
	normalized.Interfaces = ifaces

	normalized.Dependencies = normalizeSet(input.Dependencies)
	normalized.Tags = normalizeSet(input.Tags)
	return &normalized, nil
}
