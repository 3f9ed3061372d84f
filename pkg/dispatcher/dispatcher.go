package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/morezero/module-registry/pkg/registry"
)

const logPrefix = "dispatcher:dispatch"

// Dispatcher routes COMMS requests to registry methods.
type Dispatcher struct {
	registry *registry.Registry
}

// NewDispatcher creates a new Dispatcher.
func NewDispatcher(reg *registry.Registry) *Dispatcher {
	return &Dispatcher{registry: reg}
}

// Dispatch routes a request to the appropriate registry method and returns a response.
func (d *Dispatcher) Dispatch(ctx context.Context, req *RegistryRequest) *RegistryResponse {
	callerID := "system"
	if req.Ctx != nil && req.Ctx.CallerID != "" {
		callerID = req.Ctx.CallerID
	}
	slog.Debug(fmt.Sprintf("%s - method=%s id=%s caller=%s", logPrefix, req.Method, req.ID, callerID))

	switch req.Method {
	case "register":
		return d.handleRegister(ctx, req)
	case "heartbeat":
		return d.handleHeartbeat(ctx, req)
	case "setStatus":
		return d.handleSetStatus(ctx, req)
	case "recordProbe":
		return d.handleRecordProbe(ctx, req)
	case "find":
		return d.handleFind(ctx, req)
	case "get":
		return d.handleGet(ctx, req)
	case "update":
		return d.handleUpdate(ctx, req)
	case "deregister":
		return d.handleDeregister(ctx, req)
	case "sweep":
		return d.handleSweep(ctx, req)
	case "health":
		return d.handleHealth(ctx, req)
	default:
		return &RegistryResponse{
			ID: req.ID,
			Ok: false,
			Error: &ErrorDetail{
				Code:      "METHOD_NOT_FOUND",
				Message:   fmt.Sprintf("Unknown method: %s", req.Method),
				Retryable: false,
			},
		}
	}
}

func (d *Dispatcher) handleRegister(ctx context.Context, req *RegistryRequest) *RegistryResponse {
	var input registry.RegisterInput
	if err := json.Unmarshal(req.Params, &input); err != nil {
		return errorResponse(req.ID, "INVALID_ARGUMENT", "Failed to parse register params", false)
	}

	result, err := d.registry.Register(ctx, &input)
	if err != nil {
		return registryErrorToResponse(req.ID, err)
	}
	return &RegistryResponse{ID: req.ID, Ok: true, Result: result}
}

func (d *Dispatcher) handleHeartbeat(ctx context.Context, req *RegistryRequest) *RegistryResponse {
	var input registry.HeartbeatInput
	if err := json.Unmarshal(req.Params, &input); err != nil {
		return errorResponse(req.ID, "INVALID_ARGUMENT", "Failed to parse heartbeat params", false)
	}

	result, err := d.registry.Heartbeat(ctx, &input)
	if err != nil {
		return registryErrorToResponse(req.ID, err)
	}
	return &RegistryResponse{ID: req.ID, Ok: true, Result: result}
}

func (d *Dispatcher) handleSetStatus(ctx context.Context, req *RegistryRequest) *RegistryResponse {
	var input registry.SetStatusInput
	if err := json.Unmarshal(req.Params, &input); err != nil {
		return errorResponse(req.ID, "INVALID_ARGUMENT", "Failed to parse setStatus params", false)
	}

	result, err := d.registry.SetStatus(ctx, &input)
	if err != nil {
		return registryErrorToResponse(req.ID, err)
	}
	return &RegistryResponse{ID: req.ID, Ok: true, Result: result}
}

func (d *Dispatcher) handleRecordProbe(ctx context.Context, req *RegistryRequest) *RegistryResponse {
	var input registry.RecordProbeInput
	if err := json.Unmarshal(req.Params, &input); err != nil {
		return errorResponse(req.ID, "INVALID_ARGUMENT", "Failed to parse recordProbe params", false)
	}

	result, err := d.registry.RecordProbe(ctx, &input)
	if err != nil {
		return registryErrorToResponse(req.ID, err)
	}
	return &RegistryResponse{ID: req.ID, Ok: true, Result: result}
}

func (d *Dispatcher) handleFind(ctx context.Context, req *RegistryRequest) *RegistryResponse {
	var input registry.FindInput
	if err := json.Unmarshal(req.Params, &input); err != nil {
		return errorResponse(req.ID, "INVALID_ARGUMENT", "Failed to parse find params", false)
	}

	result, err := d.registry.Find(ctx, &input)
	if err != nil {
		return registryErrorToResponse(req.ID, err)
	}
	return &RegistryResponse{ID: req.ID, Ok: true, Result: result}
}

func (d *Dispatcher) handleGet(ctx context.Context, req *RegistryRequest) *RegistryResponse {
	var input struct {
		ModuleID string `json:"moduleId"`
	}
	if err := json.Unmarshal(req.Params, &input); err != nil {
		return errorResponse(req.ID, "INVALID_ARGUMENT", "Failed to parse get params", false)
	}

	result, err := d.registry.Get(ctx, input.ModuleID)
	if err != nil {
		return registryErrorToResponse(req.ID, err)
	}
	return &RegistryResponse{ID: req.ID, Ok: true, Result: result}
}

func (d *Dispatcher) handleUpdate(ctx context.Context, req *RegistryRequest) *RegistryResponse {
	var input registry.UpdateInput
	if err := json.Unmarshal(req.Params, &input); err != nil {
		return errorResponse(req.ID, "INVALID_ARGUMENT", "Failed to parse update params", false)
	}

	result, err := d.registry.Update(ctx, &input)
	if err != nil {
		return registryErrorToResponse(req.ID, err)
	}
	return &RegistryResponse{ID: req.ID, Ok: true, Result: result}
}

func (d *Dispatcher) handleDeregister(ctx context.Context, req *RegistryRequest) *RegistryResponse {
	var input registry.DeregisterInput
	if err := json.Unmarshal(req.Params, &input); err != nil {
		return errorResponse(req.ID, "INVALID_ARGUMENT", "Failed to parse deregister params", false)
	}

	result, err := d.registry.Deregister(ctx, &input)
	if err != nil {
		return registryErrorToResponse(req.ID, err)
	}
	return &RegistryResponse{ID: req.ID, Ok: true, Result: result}
}

func (d *Dispatcher) handleSweep(ctx context.Context, req *RegistryRequest) *RegistryResponse {
	result, err := d.registry.Sweep(ctx)
	if err != nil {
		return registryErrorToResponse(req.ID, err)
	}
	return &RegistryResponse{ID: req.ID, Ok: true, Result: result}
}

func (d *Dispatcher) handleHealth(ctx context.Context, req *RegistryRequest) *RegistryResponse {
	result := d.registry.Health(ctx)
	return &RegistryResponse{ID: req.ID, Ok: true, Result: result}
}

// --- helpers ---

func errorResponse(id, code, message string, retryable bool) *RegistryResponse {
	return &RegistryResponse{
		ID: id,
		Ok: false,
		Error: &ErrorDetail{
			Code:      code,
			Message:   message,
			Retryable: retryable,
		},
	}
}

// retryableCodes are the failures a caller may sensibly retry verbatim:
// infrastructure trouble and lost optimistic-concurrency races.
var retryableCodes = map[string]bool{
	"INTERNAL_ERROR":          true,
	"STORE_TIMEOUT":           true,
	"STORE_UNAVAILABLE":       true,
	"CONCURRENT_MODIFICATION": true,
}

func registryErrorToResponse(id string, err error) *RegistryResponse {
	if regErr, ok := err.(*registry.RegistryError); ok {
		return &RegistryResponse{
			ID: id,
			Ok: false,
			Error: &ErrorDetail{
				Code:      regErr.Code,
				Message:   regErr.Message,
				Details:   regErr.Details,
				Retryable: retryableCodes[regErr.Code],
			},
		}
	}
	return errorResponse(id, "INTERNAL_ERROR", err.Error(), true)
}
