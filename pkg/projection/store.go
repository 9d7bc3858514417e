// sparta-console - Real-time event channel and conversation correlation.
// Copyright (C) 2026 Sparta contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package projection

import (
	"context"
	"sync"
)

const (
	KeyReadMarker = "read_marker"
	KeyHidden     = "hidden"
)

// Store is a key-value store scoped by conversation id. It holds per
// conversation UI state such as read markers and hidden flags.
type Store interface {
	Get(ctx context.Context, conversationID, key string) (string, bool, error)
	Put(ctx context.Context, conversationID, key, value string) error
	Delete(ctx context.Context, conversationID, key string) error
	// Scan returns every conversation id holding key, with its value.
	Scan(ctx context.Context, key string) (map[string]string, error)
	// Rename moves all keys of a conversation to a new id. Keys already
	// present under newID win.
	Rename(ctx context.Context, oldID, newID string) error
}

// MemoryStore is a Store that lives only as long as the process.
type MemoryStore struct {
	lock sync.RWMutex
	data map[string]map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]map[string]string)}
}

func (s *MemoryStore) Get(_ context.Context, conversationID, key string) (string, bool, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	v, ok := s.data[conversationID][key]
	return v, ok, nil
}

func (s *MemoryStore) Put(_ context.Context, conversationID, key, value string) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	m, ok := s.data[conversationID]
	if !ok {
		m = make(map[string]string)
		s.data[conversationID] = m
	}
	m[key] = value
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, conversationID, key string) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	delete(s.data[conversationID], key)
	if len(s.data[conversationID]) == 0 {
		delete(s.data, conversationID)
	}
	return nil
}

func (s *MemoryStore) Scan(_ context.Context, key string) (map[string]string, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	out := make(map[string]string)
	for id, m := range s.data {
		if v, ok := m[key]; ok {
			out[id] = v
		}
	}
	return out, nil
}

func (s *MemoryStore) Rename(_ context.Context, oldID, newID string) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	old, ok := s.data[oldID]
	if !ok || oldID == newID {
		return nil
	}
	dst, ok := s.data[newID]
	if !ok {
		dst = make(map[string]string, len(old))
		s.data[newID] = dst
	}
	for k, v := range old {
		if _, exists := dst[k]; !exists {
			dst[k] = v
		}
	}
	delete(s.data, oldID)
	return nil
}
