// Package testutil provides shared test helpers: temporary stores and
// canned records.
package testutil

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/starford/qrhub/internal/apperr"
	"github.com/starford/qrhub/internal/models"
	"github.com/starford/qrhub/internal/storage"
)

// TestFS creates a file-backed provider in a temp directory.
func TestFS(t *testing.T) *storage.FS {
	t.Helper()
	store, err := storage.NewFS(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return store
}

// TestSQLite creates a temporary SQLite provider that is closed on cleanup.
func TestSQLite(t *testing.T) *storage.SQLite {
	t.Helper()
	db, err := storage.OpenSQLite(filepath.Join(t.TempDir(), "qrhub-test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// ErrInjected is returned by a MemStore with Fail set.
var ErrInjected = errors.New("injected storage failure")

// MemStore is an in-memory storage.Provider. Setting Fail makes Put and
// Delete return ErrInjected.
type MemStore struct {
	mu   sync.Mutex
	data map[string][]byte
	Fail bool
	Puts int
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{data: make(map[string][]byte)}
}

func (m *MemStore) Get(key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *MemStore) Put(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail {
		return ErrInjected
	}
	m.Puts++
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *MemStore) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail {
		return ErrInjected
	}
	delete(m.data, key)
	return nil
}

func (m *MemStore) Close() error { return nil }

// Record returns a valid text record whose id and timestamp derive from n.
func Record(n int) models.Record {
	return models.Record{
		ID:        fmt.Sprintf("rec-%02d", n),
		Kind:      models.KindText,
		Content:   fmt.Sprintf("item %d", n),
		Timestamp: 1_700_000_000_000 + int64(n),
		QRDataURL: "data:image/png;base64,AAAA",
	}
}
