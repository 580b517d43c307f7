package smt

import (
	"github.com/dgraph-io/badger/v2"
	"github.com/pkg/errors"
)

// BadgerStore is a Store backed by a github.com/dgraph-io/badger/v2
// database. A single Badger database can back both the node store and the
// value store of a Tree as long as their key spaces are disjoint (e.g. by
// using separate key prefixes), since digests and paths share the same
// width n and could otherwise collide.
//
// BadgerStore follows the transactional access pattern used throughout
// flow-dps's storage layer: every operation opens its own short-lived
// badger.Txn rather than holding one across calls.
type BadgerStore struct {
	db     *badger.DB
	prefix []byte
}

// NewBadgerStore returns a Store backed by db. prefix is prepended to
// every key, letting one database host the node store and the value
// store of the same tree under disjoint prefixes.
func NewBadgerStore(db *badger.DB, prefix []byte) *BadgerStore {
	return &BadgerStore{db: db, prefix: prefix}
}

func (s *BadgerStore) prefixed(key []byte) []byte {
	out := make([]byte, 0, len(s.prefix)+len(key))
	out = append(out, s.prefix...)
	out = append(out, key...)
	return out
}

// Get implements Store.
func (s *BadgerStore) Get(key []byte) ([]byte, error) {
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.prefixed(key))
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			value = append([]byte(nil), v...)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "badger get failed")
	}
	return value, nil
}

// Has implements Store.
func (s *BadgerStore) Has(key []byte) (bool, error) {
	var found bool
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(s.prefixed(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return false, errors.Wrap(err, "badger has failed")
	}
	return found, nil
}

// Put implements Store.
func (s *BadgerStore) Put(key, value []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(s.prefixed(key), value)
	})
	if err != nil {
		return errors.Wrap(err, "badger put failed")
	}
	return nil
}

// Delete implements Store. Deleting an absent key is not an error.
func (s *BadgerStore) Delete(key []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete(s.prefixed(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		return errors.Wrap(err, "badger delete failed")
	}
	return nil
}
