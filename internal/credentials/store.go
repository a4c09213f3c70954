// Package credentials persists the single linked account's OAuth credential
// in an embedded key/value store, encrypted at rest.
package credentials

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	badgerdb "github.com/dgraph-io/badger/v4"
	"golang.org/x/crypto/nacl/secretbox"

	"github.com/bogwonch/maestral/pkg/remote"
)

const credentialKey = "credential"

// KeySize is the length of the secretbox key Store expects.
const KeySize = 32

// Store is a badger-backed remote.CredentialStore. The stored value is a
// secretbox-sealed JSON encoding of remote.Credential; the credential never
// touches disk unencrypted. The sealing key itself is stored unencrypted in
// a separate 0600 file (see LoadOrGenerateKey).
type Store struct {
	db  *badgerdb.DB
	key [KeySize]byte
}

// Open opens (creating if absent) a badger database rooted at dir and
// returns a Store sealing credentials with key. Callers normally derive key
// once and keep it in an OS keyring or a file with 0600 permissions; Open
// does not manage the key's own storage.
func Open(dir string, key [KeySize]byte) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create credential store dir: %w", err)
	}
	opts := badgerdb.DefaultOptions(dir).WithLogger(nil)
	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open credential store: %w", err)
	}
	return &Store{db: db, key: key}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Load returns the stored credential, or nil, nil if none is stored.
func (s *Store) Load() (*remote.Credential, error) {
	var sealed []byte
	err := s.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(credentialKey))
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			sealed = append([]byte(nil), val...)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("read credential: %w", err)
	}
	if sealed == nil {
		return nil, nil
	}

	plain, err := s.open(sealed)
	if err != nil {
		return nil, fmt.Errorf("decrypt credential: %w", err)
	}

	var cred remote.Credential
	if err := json.Unmarshal(plain, &cred); err != nil {
		return nil, fmt.Errorf("decode credential: %w", err)
	}
	return &cred, nil
}

// Save seals and persists cred, replacing whatever was previously stored.
func (s *Store) Save(cred *remote.Credential) error {
	plain, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("encode credential: %w", err)
	}
	sealed, err := s.seal(plain)
	if err != nil {
		return fmt.Errorf("encrypt credential: %w", err)
	}
	return s.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set([]byte(credentialKey), sealed)
	})
}

// Delete removes the stored credential, if any.
func (s *Store) Delete() error {
	err := s.db.Update(func(txn *badgerdb.Txn) error {
		err := txn.Delete([]byte(credentialKey))
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	return nil
}

// seal encrypts plain under s.key with a fresh random nonce, prefixed to
// the returned ciphertext.
func (s *Store) seal(plain []byte) ([]byte, error) {
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plain, &nonce, &s.key), nil
}

// open reverses seal, reading the nonce back out of the ciphertext prefix.
func (s *Store) open(sealed []byte) ([]byte, error) {
	if len(sealed) < 24 {
		return nil, errors.New("sealed credential too short")
	}
	var nonce [24]byte
	copy(nonce[:], sealed[:24])
	plain, ok := secretbox.Open(nil, sealed[24:], &nonce, &s.key)
	if !ok {
		return nil, errors.New("credential decryption failed: wrong key or corrupted data")
	}
	return plain, nil
}

// LoadOrGenerateKey reads a 32-byte sealing key from path, generating and
// persisting a new random one (0600) if the file does not yet exist.
func LoadOrGenerateKey(path string) ([KeySize]byte, error) {
	var key [KeySize]byte

	data, err := os.ReadFile(path)
	if err == nil {
		if len(data) != KeySize {
			return key, fmt.Errorf("key file %s: expected %d bytes, got %d", path, KeySize, len(data))
		}
		copy(key[:], data)
		return key, nil
	}
	if !os.IsNotExist(err) {
		return key, fmt.Errorf("read key file: %w", err)
	}

	if _, err := rand.Read(key[:]); err != nil {
		return key, fmt.Errorf("generate key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return key, fmt.Errorf("create key dir: %w", err)
	}
	if err := os.WriteFile(path, key[:], 0o600); err != nil {
		return key, fmt.Errorf("write key file: %w", err)
	}
	return key, nil
}
