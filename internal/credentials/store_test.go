//go:build integration

package credentials_test

import (
	"path/filepath"
	"testing"

	"github.com/bogwonch/maestral/internal/credentials"
	"github.com/bogwonch/maestral/pkg/remote"
)

func openStore(t *testing.T) *credentials.Store {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "creds.db")
	var key [credentials.KeySize]byte
	for i := range key {
		key[i] = byte(i)
	}
	store, err := credentials.Open(dir, key)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestLoad_EmptyStoreReturnsNilNil(t *testing.T) {
	store := openStore(t)

	cred, err := store.Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cred != nil {
		t.Fatalf("Load() = %+v, want nil", cred)
	}
}

func TestSaveThenLoad_RoundTrips(t *testing.T) {
	store := openStore(t)
	want := &remote.Credential{AccountID: "acc_1", Secret: "refresh-token-value", Kind: remote.TokenOffline}

	if err := store.Save(want); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if got == nil || *got != *want {
		t.Fatalf("Load() = %+v, want %+v", got, want)
	}
}

func TestSave_OverwritesPreviousCredential(t *testing.T) {
	store := openStore(t)

	if err := store.Save(&remote.Credential{AccountID: "acc_1", Secret: "first", Kind: remote.TokenOffline}); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	second := &remote.Credential{AccountID: "acc_2", Secret: "second", Kind: remote.TokenLegacy}
	if err := store.Save(second); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if got == nil || *got != *second {
		t.Fatalf("Load() = %+v, want %+v", got, second)
	}
}

func TestDelete_ThenLoadReturnsNilNil(t *testing.T) {
	store := openStore(t)
	if err := store.Save(&remote.Credential{AccountID: "acc_1", Secret: "x", Kind: remote.TokenOffline}); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	if err := store.Delete(); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}

	cred, err := store.Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cred != nil {
		t.Fatalf("Load() = %+v, want nil", cred)
	}
}

func TestDelete_WhenNothingStoredIsNotAnError(t *testing.T) {
	store := openStore(t)
	if err := store.Delete(); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
}

func TestLoad_WrongKeyFailsToDecrypt(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "creds.db")
	var key1 [credentials.KeySize]byte
	key1[0] = 1
	store, err := credentials.Open(dir, key1)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if err := store.Save(&remote.Credential{AccountID: "acc_1", Secret: "x", Kind: remote.TokenOffline}); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	store.Close()

	var key2 [credentials.KeySize]byte
	key2[0] = 2
	reopened, err := credentials.Open(dir, key2)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { reopened.Close() })

	if _, err := reopened.Load(); err == nil {
		t.Fatal("Load() with wrong key succeeded, want error")
	}
}
