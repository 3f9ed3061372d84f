package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/morezero/module-registry/pkg/registry"
)

const httpLogPrefix = "server:httpapi"

// NewRouter builds the HTTP API router over the registry. healthTimeout
// bounds the store probe behind GET /health.
func NewRouter(reg *registry.Registry, healthTimeout time.Duration) http.Handler {
	api := &httpAPI{reg: reg, healthTimeout: healthTimeout}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/modules", func(r chi.Router) {
		r.Post("/", api.handleRegister)
		r.Get("/", api.handleFind)
		r.Route("/{moduleID}", func(r chi.Router) {
			r.Get("/", api.handleGet)
			r.Put("/", api.handleUpdate)
			r.Delete("/", api.handleDeregister)
			r.Post("/heartbeat", api.handleHeartbeat)
			r.Patch("/status", api.handleSetStatus)
			r.Post("/probe", api.handleRecordProbe)
		})
	})
	r.Post("/sweep", api.handleSweep)
	r.Get("/health", api.handleHealth)
	r.Get("/ready", api.handleReady)

	return r
}

type httpAPI struct {
	reg           *registry.Registry
	healthTimeout time.Duration
}

func (a *httpAPI) handleRegister(w http.ResponseWriter, r *http.Request) {
	var input registry.RegisterInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, registry.NewRegistryError("INVALID_ARGUMENT", "invalid request body"))
		return
	}
	meta, err := a.reg.Register(r.Context(), &input)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, meta)
}

func (a *httpAPI) handleFind(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	input := registry.FindInput{
		ModuleType:   q.Get("type"),
		Capability:   q.Get("capability"),
		VersionRange: q.Get("versionRange"),
		Tag:          q.Get("tag"),
	}
	if statuses := q.Get("status"); statuses != "" {
		input.Statuses = strings.Split(statuses, ",")
	}
	if raw := q.Get("minSuccessRate"); raw != "" {
		rate, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			writeError(w, registry.NewRegistryError("INVALID_ARGUMENT", "minSuccessRate must be a number"))
			return
		}
		input.MinSuccessRate = &rate
	}

	results, err := a.reg.Find(r.Context(), &input)
	if err != nil {
		writeError(w, err)
		return
	}
	if results == nil {
		results = []registry.ModuleMetadata{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"modules": results, "count": len(results)})
}

func (a *httpAPI) handleGet(w http.ResponseWriter, r *http.Request) {
	meta, err := a.reg.Get(r.Context(), chi.URLParam(r, "moduleID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (a *httpAPI) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var input registry.UpdateInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, registry.NewRegistryError("INVALID_ARGUMENT", "invalid request body"))
		return
	}
	input.ModuleID = chi.URLParam(r, "moduleID")
	meta, err := a.reg.Update(r.Context(), &input)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (a *httpAPI) handleDeregister(w http.ResponseWriter, r *http.Request) {
	input := registry.DeregisterInput{
		ModuleID: chi.URLParam(r, "moduleID"),
		Force:    r.URL.Query().Get("force") == "true",
	}
	out, err := a.reg.Deregister(r.Context(), &input)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *httpAPI) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var input registry.HeartbeatInput
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
			writeError(w, registry.NewRegistryError("INVALID_ARGUMENT", "invalid request body"))
			return
		}
	}
	input.ModuleID = chi.URLParam(r, "moduleID")
	meta, err := a.reg.Heartbeat(r.Context(), &input)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (a *httpAPI) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	var input registry.SetStatusInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, registry.NewRegistryError("INVALID_ARGUMENT", "invalid request body"))
		return
	}
	input.ModuleID = chi.URLParam(r, "moduleID")
	meta, err := a.reg.SetStatus(r.Context(), &input)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (a *httpAPI) handleRecordProbe(w http.ResponseWriter, r *http.Request) {
	var input registry.RecordProbeInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, registry.NewRegistryError("INVALID_ARGUMENT", "invalid request body"))
		return
	}
	input.ModuleID = chi.URLParam(r, "moduleID")
	meta, err := a.reg.RecordProbe(r.Context(), &input)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (a *httpAPI) handleSweep(w http.ResponseWriter, r *http.Request) {
	out, err := a.reg.Sweep(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *httpAPI) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), a.healthTimeout)
	defer cancel()
	h := a.reg.Health(ctx)
	status := http.StatusOK
	if h.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, h)
}

func (a *httpAPI) handleReady(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// httpStatusFor maps registry error codes onto HTTP status codes.
func httpStatusFor(code string) int {
	switch code {
	case "INVALID_ARGUMENT", "INVALID_CAPABILITY", "INVALID_INTERFACE":
		return http.StatusBadRequest
	case "MODULE_NOT_FOUND":
		return http.StatusNotFound
	case "DEPENDENCY_NOT_FOUND", "CYCLIC_DEPENDENCY":
		return http.StatusUnprocessableEntity
	case "INVALID_TRANSITION", "DEPENDENT_MODULES_EXIST", "CONCURRENT_MODIFICATION":
		return http.StatusConflict
	case "STORE_TIMEOUT":
		return http.StatusGatewayTimeout
	case "STORE_UNAVAILABLE":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	regErr, ok := err.(*registry.RegistryError)
	if !ok {
		regErr = registry.NewRegistryError("INTERNAL_ERROR", err.Error())
	}
	writeJSON(w, httpStatusFor(regErr.Code), map[string]interface{}{"error": regErr})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error(fmt.Sprintf("%s - response encode: %v", httpLogPrefix, err))
	}
}
