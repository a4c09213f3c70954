//go:build integration

package statestore_test

import (
	"path/filepath"
	"testing"

	"github.com/bogwonch/maestral/internal/statestore"
)

func openStore(t *testing.T) *statestore.Store {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "state.db")
	store, err := statestore.Open(dir)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestGet_MissingKeyReturnsFalse(t *testing.T) {
	store := openStore(t)

	value, found, err := store.Get("account", "email")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if found {
		t.Fatalf("Get() found = true, want false (value %q)", value)
	}
}

func TestSetThenGet_RoundTrips(t *testing.T) {
	store := openStore(t)

	if err := store.Set("account", "email", "user@example.com"); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}

	value, found, err := store.Get("account", "email")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if !found || value != "user@example.com" {
		t.Fatalf("Get() = (%q, %v), want (%q, true)", value, found, "user@example.com")
	}
}

func TestSet_OverwritesPreviousValue(t *testing.T) {
	store := openStore(t)

	if err := store.Set("account", "email", "first@example.com"); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	if err := store.Set("account", "email", "second@example.com"); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}

	value, found, err := store.Get("account", "email")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if !found || value != "second@example.com" {
		t.Fatalf("Get() = (%q, %v), want (%q, true)", value, found, "second@example.com")
	}
}

func TestSections_AreIndependent(t *testing.T) {
	store := openStore(t)
	if err := store.Set("account", "key", "account-value"); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	if err := store.Set("changes", "key", "changes-value"); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}

	v, _, err := store.Get("account", "key")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if v != "account-value" {
		t.Fatalf("Get(account, key) = %q, want %q", v, "account-value")
	}
}

func TestDeleteSection_RemovesOnlyThatSection(t *testing.T) {
	store := openStore(t)
	if err := store.Set("account", "email", "user@example.com"); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	if err := store.Set("changes", "cursor", "abc"); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}

	if err := store.DeleteSection("account"); err != nil {
		t.Fatalf("DeleteSection() failed: %v", err)
	}

	_, found, err := store.Get("account", "email")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if found {
		t.Fatal("Get(account, email) found after DeleteSection(account), want not found")
	}

	v, found, err := store.Get("changes", "cursor")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if !found || v != "abc" {
		t.Fatalf("Get(changes, cursor) = (%q, %v), want (%q, true)", v, found, "abc")
	}
}
