// Package statestore persists small section/key facts the remote client
// layer caches between runs — account info, namespace ids, cursors.
package statestore

import (
	"errors"
	"fmt"
	"os"

	badgerdb "github.com/dgraph-io/badger/v4"
)

// Store is a badger-backed remote.StateStore. Keys are namespaced
// "<section>:<key>" to keep unrelated callers from colliding.
type Store struct {
	db *badgerdb.DB
}

// Open opens (creating if absent) a badger database rooted at dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create state store dir: %w", err)
	}
	opts := badgerdb.DefaultOptions(dir).WithLogger(nil)
	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func storeKey(section, key string) []byte {
	return []byte(section + ":" + key)
}

// Get returns the value stored under section/key, and false if nothing is
// stored there.
func (s *Store) Get(section, key string) (string, bool, error) {
	var value string
	found := false
	err := s.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(storeKey(section, key))
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			value = string(val)
			return nil
		})
	})
	if err != nil {
		return "", false, fmt.Errorf("read %s/%s: %w", section, key, err)
	}
	return value, found, nil
}

// Set stores value under section/key, replacing any previous value.
func (s *Store) Set(section, key, value string) error {
	err := s.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set(storeKey(section, key), []byte(value))
	})
	if err != nil {
		return fmt.Errorf("write %s/%s: %w", section, key, err)
	}
	return nil
}

// DeleteSection removes every key stored under section.
func (s *Store) DeleteSection(section string) error {
	prefix := []byte(section + ":")
	var keys [][]byte
	err := s.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("list section %s: %w", section, err)
	}

	return s.db.Update(func(txn *badgerdb.Txn) error {
		for _, k := range keys {
			if err := txn.Delete(k); err != nil && !errors.Is(err, badgerdb.ErrKeyNotFound) {
				return err
			}
		}
		return nil
	})
}
