package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/poiesic/docstream/services"
)

// MockObjectStore is an in-memory test double for services.ObjectStore.
type MockObjectStore struct {
	mu      sync.RWMutex
	objects map[string][]byte

	// PutFunc is called by Put if set.
	PutFunc func(ctx context.Context, key string, data []byte) (string, error)

	// GetFunc is called by Get if set.
	GetFunc func(ctx context.Context, location string) ([]byte, error)
}

// NewMockObjectStore creates an empty in-memory object store.
func NewMockObjectStore() *MockObjectStore {
	return &MockObjectStore{objects: make(map[string][]byte)}
}

// Put stores data in memory under a mem:// location.
func (m *MockObjectStore) Put(ctx context.Context, key string, data []byte) (string, error) {
	if m.PutFunc != nil {
		return m.PutFunc(ctx, key, data)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	location := "mem://" + key
	buf := make([]byte, len(data))
	copy(buf, data)
	m.objects[location] = buf
	return location, nil
}

// Get retrieves data stored at location.
func (m *MockObjectStore) Get(ctx context.Context, location string) ([]byte, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, location)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[location]
	if !ok {
		return nil, services.NewPermanent("fetch", fmt.Errorf("%w: %s", services.ErrMalformedInput, location))
	}
	return data, nil
}

// Len returns the number of stored objects.
func (m *MockObjectStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
