package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dwsmith1983/gtfsload/internal/source"
)

var _ source.Store = (*MockSource)(nil)

// MockSource is an in-memory object store.
type MockSource struct {
	mu      sync.Mutex
	objects map[string]mockObject
	moves   [][2]string
	deletes []string

	ListErr error
	// ReadErr and MoveErr fail individual objects by name.
	ReadErr map[string]error
	MoveErr map[string]error
}

type mockObject struct {
	data     []byte
	updated  time.Time
	metadata map[string]string
}

// NewMockSource creates an empty MockSource.
func NewMockSource() *MockSource {
	return &MockSource{
		objects: make(map[string]mockObject),
		ReadErr: make(map[string]error),
		MoveErr: make(map[string]error),
	}
}

// Put stores an object.
func (m *MockSource) Put(name string, data []byte, updated time.Time, metadata map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[name] = mockObject{data: data, updated: updated, metadata: metadata}
}

// List returns objects under prefix, oldest first.
func (m *MockSource) List(_ context.Context, prefix string, limit int) ([]source.Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	var out []source.Object
	for name, o := range m.objects {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		out = append(out, source.Object{
			Name:     name,
			Updated:  o.updated,
			Size:     int64(len(o.data)),
			Metadata: o.metadata,
		})
	}
	return source.SortAndLimit(out, limit), nil
}

// Read returns an object's bytes.
func (m *MockSource) Read(_ context.Context, name string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ReadErr[name]; err != nil {
		return nil, err
	}
	o, ok := m.objects[name]
	if !ok {
		return nil, fmt.Errorf("object %s not found", name)
	}
	return o.data, nil
}

// Delete removes an object.
func (m *MockSource) Delete(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, name)
	m.deletes = append(m.deletes, name)
	return nil
}

// Move renames an object.
func (m *MockSource) Move(_ context.Context, src, dst string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.MoveErr[src]; err != nil {
		return err
	}
	o, ok := m.objects[src]
	if !ok {
		return fmt.Errorf("object %s not found", src)
	}
	m.objects[dst] = o
	delete(m.objects, src)
	m.moves = append(m.moves, [2]string{src, dst})
	return nil
}

// Has reports whether an object exists.
func (m *MockSource) Has(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[name]
	return ok
}

// Moves returns every (src, dst) pair moved so far.
func (m *MockSource) Moves() [][2]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][2]string(nil), m.moves...)
}

// Deletes returns every deleted object name.
func (m *MockSource) Deletes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.deletes...)
}
