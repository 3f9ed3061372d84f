//go:build integration

// Integration tests run the full dispatcher pipeline against a real
// Postgres database. They are skipped unless DATABASE_URL is set:
//
//	DATABASE_URL=postgres://... go test -tags integration ./tests/...
package tests

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	commsserver "github.com/nats-io/nats-server/v2/server"
	comms "github.com/nats-io/nats.go"

	"github.com/morezero/module-registry/pkg/db"
	"github.com/morezero/module-registry/pkg/dispatcher"
	"github.com/morezero/module-registry/pkg/events"
	"github.com/morezero/module-registry/pkg/registry"
)

const (
	integrationRegistrySubject = "mod.test.registry.integration.v1"
	integrationNatsPort        = 14241
)

type integrationEnv struct {
	nc    *comms.Conn
	ns    *commsserver.Server
	store *db.Repository
	reg   *registry.Registry
}

// setupIntegration connects to the database named by DATABASE_URL, runs
// migrations, clears the registry tables and wires a dispatcher over an
// embedded NATS server.
func setupIntegration(t *testing.T) *integrationEnv {
	t.Helper()

	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skipf("integration_test - DATABASE_URL not set, skipping")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := db.NewPool(ctx, url)
	if err != nil {
		t.Fatalf("integration_test - failed to create pool: %v", err)
	}
	t.Cleanup(pool.Close)

	migrationPath := "migrations"
	if _, statErr := os.Stat(migrationPath); os.IsNotExist(statErr) {
		migrationPath = "../migrations"
	}
	files, err := db.LoadMigrationFiles(migrationPath)
	if err != nil {
		t.Fatalf("integration_test - failed to load migrations: %v", err)
	}
	if err := db.RunMigrations(ctx, pool, files); err != nil {
		t.Fatalf("integration_test - failed to run migrations: %v", err)
	}
	if err := db.ClearRegistry(ctx, pool); err != nil {
		t.Fatalf("integration_test - failed to clear registry: %v", err)
	}

	opts := &commsserver.Options{
		Host:   "127.0.0.1",
		Port:   integrationNatsPort,
		NoLog:  true,
		NoSigs: true,
	}
	ns, err := commsserver.NewServer(opts)
	if err != nil {
		t.Fatalf("integration_test - failed to create NATS server: %v", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		t.Fatal("integration_test - NATS server failed to start")
	}

	nc, err := comms.Connect(ns.ClientURL(), comms.Timeout(5*time.Second))
	if err != nil {
		ns.Shutdown()
		t.Fatalf("integration_test - failed to connect: %v", err)
	}

	store := db.NewRepository(pool)
	reg := registry.NewRegistry(registry.NewRegistryParams{
		Store:     store,
		Publisher: events.NewCommsPublisher(nc, nil),
		Config:    registry.DefaultConfig(),
	})
	disp := dispatcher.NewDispatcher(reg)

	_, err = nc.Subscribe(integrationRegistrySubject, func(msg *comms.Msg) {
		var req dispatcher.RegistryRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			resp := &dispatcher.RegistryResponse{
				Ok: false,
				Error: &dispatcher.ErrorDetail{
					Code:    "INVALID_REQUEST",
					Message: "Failed to decode request",
				},
			}
			data, _ := json.Marshal(resp)
			msg.Respond(data)
			return
		}

		reqCtx, reqCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer reqCancel()

		resp := disp.Dispatch(reqCtx, &req)
		data, _ := json.Marshal(resp)
		msg.Respond(data)
	})
	if err != nil {
		nc.Close()
		ns.Shutdown()
		t.Fatalf("integration_test - failed to subscribe: %v", err)
	}

	t.Cleanup(func() {
		nc.Close()
		ns.Shutdown()
		ns.WaitForShutdown()
	})

	return &integrationEnv{nc: nc, ns: ns, store: store, reg: reg}
}

func sendIntegration(t *testing.T, nc *comms.Conn, req *dispatcher.RegistryRequest) *dispatcher.RegistryResponse {
	t.Helper()

	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("integration_test - failed to marshal request: %v", err)
	}

	msg, err := nc.Request(integrationRegistrySubject, data, 15*time.Second)
	if err != nil {
		t.Fatalf("integration_test - request failed: %v", err)
	}

	var resp dispatcher.RegistryResponse
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		t.Fatalf("integration_test - failed to unmarshal response: %v", err)
	}
	return &resp
}

func TestIntegration_RegisterLifecycle(t *testing.T) {
	env := setupIntegration(t)

	resp := sendIntegration(t, env.nc, &dispatcher.RegistryRequest{
		ID:     "int-reg",
		Method: "register",
		Params: json.RawMessage(`{"name":"vision","version":"1.2.0","moduleType":"ml_model","capabilities":[{"name":"classify","version":"3.0.0"}],"interfaces":[{"protocol":"grpc","endpoint":"vision:9000"}],"tags":["gpu"]}`),
	})
	if !resp.Ok {
		t.Fatalf("integration_test - register failed: %+v", resp.Error)
	}
	var meta registry.ModuleMetadata
	decodeResult(t, resp.Result, &meta)
	if meta.ModuleID == "" || meta.Status != registry.StatusActive {
		t.Fatalf("integration_test - registered meta = %+v", meta)
	}
	if len(meta.Interfaces) != 1 || meta.Interfaces[0].TimeoutSeconds != 30 {
		t.Errorf("integration_test - Interfaces = %+v", meta.Interfaces)
	}

	// The record must survive a round-trip through Postgres.
	ctx := context.Background()
	stored, err := env.store.Get(ctx, meta.ModuleID)
	if err != nil {
		t.Fatalf("integration_test - store get failed: %v", err)
	}
	if stored.Name != "vision" || len(stored.Capabilities) != 1 {
		t.Errorf("integration_test - stored = %+v", stored)
	}

	// Heartbeat with metrics persists EMA values.
	resp = sendIntegration(t, env.nc, &dispatcher.RegistryRequest{
		ID:     "int-hb",
		Method: "heartbeat",
		Params: json.RawMessage(`{"moduleId":"` + meta.ModuleID + `","metrics":{"latencyMs":40,"successRate":0.95}}`),
	})
	if !resp.Ok {
		t.Fatalf("integration_test - heartbeat failed: %+v", resp.Error)
	}
	stored, err = env.store.Get(ctx, meta.ModuleID)
	if err != nil {
		t.Fatalf("integration_test - store get failed: %v", err)
	}
	if stored.LatencyMs == nil || *stored.LatencyMs != 40 {
		t.Errorf("integration_test - LatencyMs = %v", stored.LatencyMs)
	}

	// Find by capability with a version range.
	resp = sendIntegration(t, env.nc, &dispatcher.RegistryRequest{
		ID:     "int-find",
		Method: "find",
		Params: json.RawMessage(`{"capability":"classify","versionRange":"^3.0.0"}`),
	})
	if !resp.Ok {
		t.Fatalf("integration_test - find failed: %+v", resp.Error)
	}
	var results []registry.ModuleMetadata
	decodeResult(t, resp.Result, &results)
	if len(results) != 1 || results[0].ModuleID != meta.ModuleID {
		t.Errorf("integration_test - find results = %+v", results)
	}

	// Deregister removes the row.
	resp = sendIntegration(t, env.nc, &dispatcher.RegistryRequest{
		ID:     "int-dereg",
		Method: "deregister",
		Params: json.RawMessage(`{"moduleId":"` + meta.ModuleID + `"}`),
	})
	if !resp.Ok {
		t.Fatalf("integration_test - deregister failed: %+v", resp.Error)
	}
	if _, err := env.store.Get(ctx, meta.ModuleID); err == nil {
		t.Error("integration_test - expected record to be deleted")
	}
}

func TestIntegration_StatusTransitionsPersist(t *testing.T) {
	env := setupIntegration(t)
	ctx := context.Background()

	resp := sendIntegration(t, env.nc, &dispatcher.RegistryRequest{
		ID:     "int-status-reg",
		Method: "register",
		Params: json.RawMessage(`{"name":"queue","version":"1.0.0","moduleType":"custom"}`),
	})
	if !resp.Ok {
		t.Fatalf("integration_test - register failed: %+v", resp.Error)
	}
	var meta registry.ModuleMetadata
	decodeResult(t, resp.Result, &meta)

	resp = sendIntegration(t, env.nc, &dispatcher.RegistryRequest{
		ID:     "int-status",
		Method: "setStatus",
		Params: json.RawMessage(`{"moduleId":"` + meta.ModuleID + `","status":"degraded","reason":"slow consumers"}`),
	})
	if !resp.Ok {
		t.Fatalf("integration_test - setStatus failed: %+v", resp.Error)
	}

	stored, err := env.store.Get(ctx, meta.ModuleID)
	if err != nil {
		t.Fatalf("integration_test - store get failed: %v", err)
	}
	if stored.Status != string(registry.StatusDegraded) {
		t.Errorf("integration_test - Status = %s, want degraded", stored.Status)
	}

	// Illegal transition is rejected and does not touch the row.
	resp = sendIntegration(t, env.nc, &dispatcher.RegistryRequest{
		ID:     "int-status-bad",
		Method: "setStatus",
		Params: json.RawMessage(`{"moduleId":"` + meta.ModuleID + `","status":"inactive"}`),
	})
	if !resp.Ok {
		t.Fatalf("integration_test - degraded->inactive should be legal: %+v", resp.Error)
	}
	resp = sendIntegration(t, env.nc, &dispatcher.RegistryRequest{
		ID:     "int-status-bad2",
		Method: "setStatus",
		Params: json.RawMessage(`{"moduleId":"` + meta.ModuleID + `","status":"degraded"}`),
	})
	if resp.Ok || resp.Error.Code != "INVALID_TRANSITION" {
		t.Errorf("integration_test - expected INVALID_TRANSITION, got %+v", resp.Error)
	}

	stored, err = env.store.Get(ctx, meta.ModuleID)
	if err != nil {
		t.Fatalf("integration_test - store get failed: %v", err)
	}
	if stored.Status != string(registry.StatusInactive) {
		t.Errorf("integration_test - Status = %s, want inactive", stored.Status)
	}
}

func TestIntegration_DependencyGraphPersists(t *testing.T) {
	env := setupIntegration(t)

	resp := sendIntegration(t, env.nc, &dispatcher.RegistryRequest{
		ID:     "int-dep-a",
		Method: "register",
		Params: json.RawMessage(`{"name":"store","version":"1.0.0","moduleType":"storage"}`),
	})
	if !resp.Ok {
		t.Fatalf("integration_test - register a failed: %+v", resp.Error)
	}
	var a registry.ModuleMetadata
	decodeResult(t, resp.Result, &a)

	resp = sendIntegration(t, env.nc, &dispatcher.RegistryRequest{
		ID:     "int-dep-b",
		Method: "register",
		Params: json.RawMessage(`{"name":"api","version":"1.0.0","moduleType":"api_gateway","dependencies":["` + a.ModuleID + `"]}`),
	})
	if !resp.Ok {
		t.Fatalf("integration_test - register b failed: %+v", resp.Error)
	}
	var b registry.ModuleMetadata
	decodeResult(t, resp.Result, &b)

	// Removing the dependency target without force is blocked.
	resp = sendIntegration(t, env.nc, &dispatcher.RegistryRequest{
		ID:     "int-dep-block",
		Method: "deregister",
		Params: json.RawMessage(`{"moduleId":"` + a.ModuleID + `"}`),
	})
	if resp.Ok || resp.Error.Code != "DEPENDENT_MODULES_EXIST" {
		t.Fatalf("integration_test - expected DEPENDENT_MODULES_EXIST, got %+v", resp.Error)
	}

	// A cycle closed through update is rejected against the stored graph.
	resp = sendIntegration(t, env.nc, &dispatcher.RegistryRequest{
		ID:     "int-dep-cycle",
		Method: "update",
		Params: json.RawMessage(`{"moduleId":"` + a.ModuleID + `","dependencies":["` + b.ModuleID + `"]}`),
	})
	if resp.Ok || resp.Error.Code != "CYCLIC_DEPENDENCY" {
		t.Errorf("integration_test - expected CYCLIC_DEPENDENCY, got %+v", resp.Error)
	}
}

func TestIntegration_ConcurrentHeartbeats(t *testing.T) {
	env := setupIntegration(t)

	resp := sendIntegration(t, env.nc, &dispatcher.RegistryRequest{
		ID:     "int-conc-reg",
		Method: "register",
		Params: json.RawMessage(`{"name":"worker","version":"1.0.0","moduleType":"custom"}`),
	})
	if !resp.Ok {
		t.Fatalf("integration_test - register failed: %+v", resp.Error)
	}
	var meta registry.ModuleMetadata
	decodeResult(t, resp.Result, &meta)

	// Concurrent heartbeats exercise optimistic concurrency in the
	// repository; all of them must succeed via CAS retries.
	const workers = 8
	errCh := make(chan error, workers)
	for i := 0; i < workers; i++ {
		go func() {
			hb := sendIntegration(t, env.nc, &dispatcher.RegistryRequest{
				ID:     "int-conc-hb",
				Method: "heartbeat",
				Params: json.RawMessage(`{"moduleId":"` + meta.ModuleID + `","metrics":{"latencyMs":10,"successRate":1.0}}`),
			})
			if !hb.Ok {
				errCh <- &registry.RegistryError{Code: hb.Error.Code, Message: hb.Error.Message}
				return
			}
			errCh <- nil
		}()
	}
	for i := 0; i < workers; i++ {
		if err := <-errCh; err != nil {
			t.Errorf("integration_test - concurrent heartbeat failed: %v", err)
		}
	}

	stored, err := env.store.Get(context.Background(), meta.ModuleID)
	if err != nil {
		t.Fatalf("integration_test - store get failed: %v", err)
	}
	if stored.LatencyMs == nil || *stored.LatencyMs <= 0 {
		t.Errorf("integration_test - LatencyMs = %v", stored.LatencyMs)
	}
}

func TestIntegration_SweepAgainstDatabase(t *testing.T) {
	env := setupIntegration(t)

	resp := sendIntegration(t, env.nc, &dispatcher.RegistryRequest{
		ID:     "int-sweep-reg",
		Method: "register",
		Params: json.RawMessage(`{"name":"fresh","version":"1.0.0","moduleType":"custom"}`),
	})
	if !resp.Ok {
		t.Fatalf("integration_test - register failed: %+v", resp.Error)
	}

	resp = sendIntegration(t, env.nc, &dispatcher.RegistryRequest{
		ID:     "int-sweep",
		Method: "sweep",
		Params: json.RawMessage(`{}`),
	})
	if !resp.Ok {
		t.Fatalf("integration_test - sweep failed: %+v", resp.Error)
	}
	var out registry.SweepOutput
	decodeResult(t, resp.Result, &out)
	if out.Scanned < 1 {
		t.Errorf("integration_test - Scanned = %d, want >= 1", out.Scanned)
	}
	if out.Transitioned != 0 {
		t.Errorf("integration_test - Transitioned = %d, want 0 for fresh module", out.Transitioned)
	}
}
