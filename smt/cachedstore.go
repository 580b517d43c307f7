package smt

import (
	lru "github.com/hashicorp/golang-lru"
)

// CachedStore is a read-through Store decorator backed by an LRU cache of
// recently seen key/value pairs. Content-addressing makes this trivially
// coherent for a node store: a digest's payload never changes meaning, so
// a cached entry can never go stale. It is most effective wrapping the
// node store, where nearby keys repeatedly re-read the same high-level
// ancestors during sidenode traversal.
type CachedStore struct {
	inner Store
	cache *lru.Cache
}

// NewCachedStore wraps inner with an LRU cache holding up to size entries.
func NewCachedStore(inner Store, size int) (*CachedStore, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &CachedStore{inner: inner, cache: cache}, nil
}

// Get implements Store.
func (s *CachedStore) Get(key []byte) ([]byte, error) {
	if v, ok := s.cache.Get(string(key)); ok {
		return v.([]byte), nil
	}
	v, err := s.inner.Get(key)
	if err != nil {
		return nil, err
	}
	s.cache.Add(string(key), v)
	return v, nil
}

// Has implements Store.
func (s *CachedStore) Has(key []byte) (bool, error) {
	if s.cache.Contains(string(key)) {
		return true, nil
	}
	return s.inner.Has(key)
}

// Put implements Store.
func (s *CachedStore) Put(key, value []byte) error {
	if err := s.inner.Put(key, value); err != nil {
		return err
	}
	s.cache.Add(string(key), value)
	return nil
}

// Delete implements Store.
func (s *CachedStore) Delete(key []byte) error {
	if err := s.inner.Delete(key); err != nil {
		return err
	}
	s.cache.Remove(string(key))
	return nil
}
