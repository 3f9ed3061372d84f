package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/morezero/module-registry/pkg/db"
	"github.com/morezero/module-registry/pkg/registry"
)

const serverTestPrefix = "server:httpapi_test"

func testRouter(t *testing.T) http.Handler {
	t.Helper()
	reg := registry.NewRegistry(registry.NewRegistryParams{Store: db.NewMemStore()})
	return NewRouter(reg, 5*time.Second)
}

func doRequest(t *testing.T, handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func registerModule(t *testing.T, handler http.Handler, body string) *registry.ModuleMetadata {
	t.Helper()
	rec := doRequest(t, handler, http.MethodPost, "/modules", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("%s - register status = %d, body = %s", serverTestPrefix, rec.Code, rec.Body.String())
	}
	var meta registry.ModuleMetadata
	if err := json.Unmarshal(rec.Body.Bytes(), &meta); err != nil {
		t.Fatalf("%s - register response decode: %v", serverTestPrefix, err)
	}
	return &meta
}

func TestHTTP_RegisterAndGet(t *testing.T) {
	handler := testRouter(t)

	meta := registerModule(t, handler, `{"name":"svc","version":"1.0.0","moduleType":"storage"}`)
	if meta.ModuleID == "" || meta.Status != registry.StatusActive {
		t.Errorf("%s - meta = %+v", serverTestPrefix, meta)
	}

	rec := doRequest(t, handler, http.MethodGet, "/modules/"+meta.ModuleID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("%s - get status = %d", serverTestPrefix, rec.Code)
	}
	var got registry.ModuleMetadata
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("%s - get response decode: %v", serverTestPrefix, err)
	}
	if got.Name != "svc" {
		t.Errorf("%s - Name = %q", serverTestPrefix, got.Name)
	}
}

func TestHTTP_RegisterInvalidBody(t *testing.T) {
	handler := testRouter(t)

	rec := doRequest(t, handler, http.MethodPost, "/modules", `{not json`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("%s - status = %d, want 400", serverTestPrefix, rec.Code)
	}

	rec = doRequest(t, handler, http.MethodPost, "/modules", `{"name":"svc","moduleType":"warehouse"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("%s - unknown type status = %d, want 400", serverTestPrefix, rec.Code)
	}
}

func TestHTTP_GetNotFound(t *testing.T) {
	handler := testRouter(t)

	rec := doRequest(t, handler, http.MethodGet, "/modules/missing", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("%s - status = %d, want 404", serverTestPrefix, rec.Code)
	}
	var envelope struct {
		Error registry.RegistryError `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("%s - error envelope decode: %v", serverTestPrefix, err)
	}
	if envelope.Error.Code != "MODULE_NOT_FOUND" {
		t.Errorf("%s - error code = %q", serverTestPrefix, envelope.Error.Code)
	}
}

func TestHTTP_Heartbeat(t *testing.T) {
	handler := testRouter(t)
	meta := registerModule(t, handler, `{"name":"svc","version":"1.0.0","moduleType":"custom"}`)

	rec := doRequest(t, handler, http.MethodPost, "/modules/"+meta.ModuleID+"/heartbeat",
		`{"metrics":{"latencyMs":42,"successRate":0.98}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("%s - heartbeat status = %d, body = %s", serverTestPrefix, rec.Code, rec.Body.String())
	}
	var got registry.ModuleMetadata
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("%s - heartbeat decode: %v", serverTestPrefix, err)
	}
	if got.LatencyMs == nil || *got.LatencyMs != 42 {
		t.Errorf("%s - LatencyMs = %v", serverTestPrefix, got.LatencyMs)
	}

	// Empty body is a plain liveness report.
	rec = doRequest(t, handler, http.MethodPost, "/modules/"+meta.ModuleID+"/heartbeat", "")
	if rec.Code != http.StatusOK {
		t.Errorf("%s - bodyless heartbeat status = %d", serverTestPrefix, rec.Code)
	}
}

func TestHTTP_SetStatus(t *testing.T) {
	handler := testRouter(t)
	meta := registerModule(t, handler, `{"name":"svc","version":"1.0.0","moduleType":"custom"}`)

	rec := doRequest(t, handler, http.MethodPatch, "/modules/"+meta.ModuleID+"/status",
		`{"status":"degraded","reason":"memory pressure"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("%s - setStatus status = %d, body = %s", serverTestPrefix, rec.Code, rec.Body.String())
	}

	// inactive -> degraded is not a legal transition.
	rec = doRequest(t, handler, http.MethodPatch, "/modules/"+meta.ModuleID+"/status", `{"status":"inactive"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("%s - setStatus status = %d", serverTestPrefix, rec.Code)
	}
	rec = doRequest(t, handler, http.MethodPatch, "/modules/"+meta.ModuleID+"/status", `{"status":"degraded"}`)
	if rec.Code != http.StatusConflict {
		t.Errorf("%s - illegal transition status = %d, want 409", serverTestPrefix, rec.Code)
	}
}

func TestHTTP_Find(t *testing.T) {
	handler := testRouter(t)
	registerModule(t, handler, `{"name":"store","version":"1.0.0","moduleType":"storage","tags":["prod"]}`)
	registerModule(t, handler, `{"name":"gw","version":"1.0.0","moduleType":"api_gateway"}`)

	rec := doRequest(t, handler, http.MethodGet, "/modules?type=storage&tag=prod", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("%s - find status = %d", serverTestPrefix, rec.Code)
	}
	var out struct {
		Modules []registry.ModuleMetadata `json:"modules"`
		Count   int                       `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("%s - find decode: %v", serverTestPrefix, err)
	}
	if out.Count != 1 || out.Modules[0].Name != "store" {
		t.Errorf("%s - find out = %+v", serverTestPrefix, out)
	}

	rec = doRequest(t, handler, http.MethodGet, "/modules?status=active,degraded", "")
	if rec.Code != http.StatusOK {
		t.Errorf("%s - multi-status find status = %d", serverTestPrefix, rec.Code)
	}

	rec = doRequest(t, handler, http.MethodGet, "/modules?minSuccessRate=abc", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("%s - bad minSuccessRate status = %d, want 400", serverTestPrefix, rec.Code)
	}
}

func TestHTTP_Deregister(t *testing.T) {
	handler := testRouter(t)
	a := registerModule(t, handler, `{"name":"a","version":"1.0.0","moduleType":"storage"}`)
	b := registerModule(t, handler, `{"name":"b","version":"1.0.0","moduleType":"storage","dependencies":["`+a.ModuleID+`"]}`)

	rec := doRequest(t, handler, http.MethodDelete, "/modules/"+a.ModuleID, "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("%s - blocked deregister status = %d, want 409", serverTestPrefix, rec.Code)
	}

	rec = doRequest(t, handler, http.MethodDelete, "/modules/"+a.ModuleID+"?force=true", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("%s - forced deregister status = %d", serverTestPrefix, rec.Code)
	}
	var out registry.DeregisterOutput
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("%s - deregister decode: %v", serverTestPrefix, err)
	}
	if len(out.Dependents) != 1 || out.Dependents[0] != b.ModuleID {
		t.Errorf("%s - Dependents = %v", serverTestPrefix, out.Dependents)
	}
}

func TestHTTP_Update(t *testing.T) {
	handler := testRouter(t)
	meta := registerModule(t, handler, `{"name":"svc","version":"1.0.0","moduleType":"storage"}`)

	rec := doRequest(t, handler, http.MethodPut, "/modules/"+meta.ModuleID,
		`{"tags":["canary"],"memoryMb":256}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("%s - update status = %d, body = %s", serverTestPrefix, rec.Code, rec.Body.String())
	}
	var got registry.ModuleMetadata
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("%s - update decode: %v", serverTestPrefix, err)
	}
	if len(got.Tags) != 1 || got.Tags[0] != "canary" {
		t.Errorf("%s - Tags = %v", serverTestPrefix, got.Tags)
	}

	// A self-dependency comes back as unprocessable.
	rec = doRequest(t, handler, http.MethodPut, "/modules/"+meta.ModuleID,
		`{"dependencies":["`+meta.ModuleID+`"]}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("%s - cyclic update status = %d, want 422", serverTestPrefix, rec.Code)
	}
}

func TestHTTP_SweepAndHealth(t *testing.T) {
	handler := testRouter(t)
	registerModule(t, handler, `{"name":"svc","version":"1.0.0","moduleType":"storage"}`)

	rec := doRequest(t, handler, http.MethodPost, "/sweep", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("%s - sweep status = %d", serverTestPrefix, rec.Code)
	}
	var out registry.SweepOutput
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("%s - sweep decode: %v", serverTestPrefix, err)
	}
	if out.Scanned != 1 {
		t.Errorf("%s - Scanned = %d", serverTestPrefix, out.Scanned)
	}

	rec = doRequest(t, handler, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Errorf("%s - health status = %d", serverTestPrefix, rec.Code)
	}

	rec = doRequest(t, handler, http.MethodGet, "/ready", "")
	if rec.Code != http.StatusOK {
		t.Errorf("%s - ready status = %d", serverTestPrefix, rec.Code)
	}
}

func TestHTTP_HealthUnhealthy(t *testing.T) {
	reg := registry.NewRegistry(registry.NewRegistryParams{})
	handler := NewRouter(reg, time.Second)

	rec := doRequest(t, handler, http.MethodGet, "/health", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("%s - health status = %d, want 503", serverTestPrefix, rec.Code)
	}
}
