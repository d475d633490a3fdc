package persistence

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/wndlink/wndlink/pkg/domain"
)

func storesUnderTest(t *testing.T) map[string]domain.KVStore {
	t.Helper()
	dir := t.TempDir()

	fileStore, err := NewFileStore(filepath.Join(dir, "store.json"))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	sqliteStore, err := OpenSQLite(filepath.Join(dir, "store.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { sqliteStore.Close() })

	return map[string]domain.KVStore{
		"memory": NewMemoryStore(),
		"file":   fileStore,
		"sqlite": sqliteStore,
	}
}

func TestStoreContract(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := store.Get("missing"); !errors.Is(err, domain.ErrKeyNotFound) {
				t.Errorf("expected ErrKeyNotFound, got %v", err)
			}

			if err := store.Set("crm_logs_WRN", `{"logs":[]}`); err != nil {
				t.Fatalf("Set: %v", err)
			}
			if err := store.Set("crm_logs_INF", "b"); err != nil {
				t.Fatalf("Set: %v", err)
			}
			if err := store.Set("crm_logs_WRN", "updated"); err != nil {
				t.Fatalf("Set overwrite: %v", err)
			}

			v, err := store.Get("crm_logs_WRN")
			if err != nil || v != "updated" {
				t.Errorf("expected updated value, got %q (%v)", v, err)
			}

			keys, err := store.Keys("crm_logs_")
			if err != nil {
				t.Fatalf("Keys: %v", err)
			}
			if len(keys) != 2 || keys[0] != "crm_logs_INF" || keys[1] != "crm_logs_WRN" {
				t.Errorf("unexpected keys %v", keys)
			}

			if err := store.Remove("crm_logs_WRN"); err != nil {
				t.Fatalf("Remove: %v", err)
			}
			if err := store.Remove("crm_logs_WRN"); err != nil {
				t.Errorf("second Remove should be a no-op, got %v", err)
			}
			if _, err := store.Get("crm_logs_WRN"); !errors.Is(err, domain.ErrKeyNotFound) {
				t.Errorf("expected removed key to be gone, got %v", err)
			}

			if err := store.Set("", "x"); !errors.Is(err, domain.ErrEmptyKey) {
				t.Errorf("expected ErrEmptyKey, got %v", err)
			}
		})
	}
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.json")
	s, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if err := s.Set("app_user_prefs", `{"dark":true}`); err != nil {
		t.Fatalf("Set: %v", err)
	}

	reopened, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	v, err := reopened.Get("app_user_prefs")
	if err != nil || v != `{"dark":true}` {
		t.Errorf("expected persisted value, got %q (%v)", v, err)
	}
}

func TestNamespaceIsolation(t *testing.T) {
	base := NewMemoryStore()
	alice := NewNamespace(base, "crm", "alice")
	bob := NewNamespace(base, "crm", "bob")
	shared := NewNamespace(base, "crm", "")

	alice.Set("logs_WRN", "a")
	bob.Set("logs_WRN", "b")
	shared.Set("version", "1")

	if v, _ := alice.Get("logs_WRN"); v != "a" {
		t.Errorf("alice sees %q", v)
	}
	if v, _ := bob.Get("logs_WRN"); v != "b" {
		t.Errorf("bob sees %q", v)
	}
	if _, err := base.Get("crm_alice_logs_WRN"); err != nil {
		t.Errorf("expected prefixed key in base store: %v", err)
	}

	keys, _ := alice.Keys("logs_")
	if len(keys) != 1 || keys[0] != "logs_WRN" {
		t.Errorf("expected stripped keys, got %v", keys)
	}
	if alice.Prefix() != "crm_alice_" || shared.Prefix() != "crm_" {
		t.Errorf("unexpected prefixes %q %q", alice.Prefix(), shared.Prefix())
	}
}

func TestOpenDrivers(t *testing.T) {
	dir := t.TempDir()
	for _, driver := range []string{"memory", "file", "sqlite"} {
		store, closeFn, err := Open(driver, filepath.Join(dir, driver+".store"))
		if err != nil {
			t.Fatalf("Open(%s): %v", driver, err)
		}
		if store == nil {
			t.Fatalf("Open(%s) returned nil store", driver)
		}
		if err := closeFn(); err != nil {
			t.Errorf("close %s: %v", driver, err)
		}
	}
	if _, _, err := Open("redis", ""); err == nil {
		t.Error("expected error for unknown driver")
	}
}
