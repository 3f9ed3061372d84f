package registry

import (
	"context"
	"testing"

	"github.com/morezero/module-registry/pkg/events"
)

const registerTestPrefix = "registry:register_test"

func TestRegister(t *testing.T) {
	reg, store, clock, sink := newTestRegistry(t)

	meta := mustRegister(t, reg, storageInput("storage-a"))

	if meta.ModuleID == "" {
		t.Fatalf("%s - registration must assign a module id", registerTestPrefix)
	}
	if meta.Status != StatusActive {
		t.Errorf("%s - new module status = %s, want active", registerTestPrefix, meta.Status)
	}
	if !meta.DiscoveredAt.Equal(clock.Now()) || !meta.LastHeartbeat.Equal(clock.Now()) {
		t.Errorf("%s - timestamps not set to registration time", registerTestPrefix)
	}

	rec, err := store.Get(context.Background(), meta.ModuleID)
	if err != nil {
		t.Fatalf("%s - stored record missing: %v", registerTestPrefix, err)
	}
	if rec.Name != "storage-a" {
		t.Errorf("%s - stored name = %q", registerTestPrefix, rec.Name)
	}

	all := sink.all()
	if len(all) != 1 || all[0].Change != events.ChangeRegistered {
		t.Errorf("%s - expected one registered event, got %+v", registerTestPrefix, all)
	}
}

func TestRegister_UniqueIDs(t *testing.T) {
	reg, _, _, _ := newTestRegistry(t)

	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		meta := mustRegister(t, reg, storageInput("svc"))
		if seen[meta.ModuleID] {
			t.Fatalf("%s - duplicate module id %s", registerTestPrefix, meta.ModuleID)
		}
		seen[meta.ModuleID] = true
	}
}

func TestRegister_SameNameAllowed(t *testing.T) {
	reg, _, _, _ := newTestRegistry(t)

	a := mustRegister(t, reg, storageInput("svc"))
	b := mustRegister(t, reg, storageInput("svc"))
	if a.ModuleID == b.ModuleID {
		t.Errorf("%s - two registrations of the same name must get distinct ids", registerTestPrefix)
	}
}

func TestRegister_DependencyNotFound(t *testing.T) {
	reg, _, _, sink := newTestRegistry(t)

	_, err := reg.Register(context.Background(), storageInput("svc", "no-such-module"))
	if code := regErrCode(t, err); code != "DEPENDENCY_NOT_FOUND" {
		t.Errorf("%s - Code = %s, want DEPENDENCY_NOT_FOUND", registerTestPrefix, code)
	}
	if len(sink.all()) != 0 {
		t.Errorf("%s - failed registration must not publish events", registerTestPrefix)
	}
}

func TestRegister_DependencyOnExisting(t *testing.T) {
	reg, _, _, _ := newTestRegistry(t)

	dep := mustRegister(t, reg, storageInput("dep"))
	meta := mustRegister(t, reg, storageInput("svc", dep.ModuleID))
	if len(meta.Dependencies) != 1 || meta.Dependencies[0] != dep.ModuleID {
		t.Errorf("%s - Dependencies = %v", registerTestPrefix, meta.Dependencies)
	}
}

func TestRegister_InvalidInput(t *testing.T) {
	reg, _, _, _ := newTestRegistry(t)

	_, err := reg.Register(context.Background(), &RegisterInput{Name: "", ModuleType: "storage"})
	if code := regErrCode(t, err); code != "INVALID_ARGUMENT" {
		t.Errorf("%s - empty name Code = %s, want INVALID_ARGUMENT", registerTestPrefix, code)
	}

	bad := storageInput("svc")
	bad.Capabilities = []ModuleCapability{{Name: "write", Version: "not-a-version"}}
	_, err = reg.Register(context.Background(), bad)
	if code := regErrCode(t, err); code != "INVALID_CAPABILITY" {
		t.Errorf("%s - bad capability Code = %s, want INVALID_CAPABILITY", registerTestPrefix, code)
	}
}

func TestRegister_InterfaceTimeoutDefault(t *testing.T) {
	reg, _, _, _ := newTestRegistry(t)

	input := storageInput("svc")
	input.Interfaces = []ModuleInterface{{Protocol: "http", Endpoint: "http://svc:8080"}}
	meta := mustRegister(t, reg, input)
	if meta.Interfaces[0].TimeoutSeconds != 30 {
		t.Errorf("%s - TimeoutSeconds = %d, want default 30", registerTestPrefix, meta.Interfaces[0].TimeoutSeconds)
	}
}

func TestRegister_NoStore(t *testing.T) {
	reg := NewRegistry(NewRegistryParams{})
	_, err := reg.Register(context.Background(), storageInput("svc"))
	if code := regErrCode(t, err); code != "INTERNAL_ERROR" {
		t.Errorf("%s - Code = %s, want INTERNAL_ERROR", registerTestPrefix, code)
	}
}
