// Copyright 2024 The mqttkit-go Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package storage provides a generic key-value store interface and an
// in-memory implementation. The reference broker keeps its session registry
// here; alternative backends can be swapped in without touching the broker.
package storage

import (
	"errors"
	"sync"
)

// ErrNotFound is returned when a key is not present in the store.
var ErrNotFound = errors.New("not found")

// Store is a generic key-value store.
type Store interface {
	// Get retrieves the value for key, or ErrNotFound.
	Get(key string) (any, error)
	// Set adds or replaces the value for key.
	Set(key string, value any) error
	// Delete removes the value for key. Deleting an absent key is not an
	// error.
	Delete(key string) error
	// Range calls fn for each entry until fn returns false. The iteration
	// order is unspecified.
	Range(fn func(key string, value any) bool)
}

// MemStore is a map-backed Store safe for concurrent use.
type MemStore struct {
	data map[string]any
	mu   sync.RWMutex
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		data: make(map[string]any),
	}
}

// Get retrieves a value under a read lock.
func (s *MemStore) Get(key string) (any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return value, nil
}

// Set adds or replaces a value under the write lock.
func (s *MemStore) Set(key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

// Delete removes a value under the write lock.
func (s *MemStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

// Range iterates over a snapshot of the entries so fn may call back into the
// store without deadlocking.
func (s *MemStore) Range(fn func(key string, value any) bool) {
	s.mu.RLock()
	snapshot := make(map[string]any, len(s.data))
	for k, v := range s.data {
		snapshot[k] = v
	}
	s.mu.RUnlock()

	for k, v := range snapshot {
		if !fn(k, v) {
			return
		}
	}
}
