// Package history keeps the ordered list of generated QR records and mirrors
// it to a storage.Provider.
//
// The in-memory list is the source of truth. After every mutation the whole
// list is serialised and written back, so the mirror only diverges if the
// process dies between the two steps.
package history

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/qrhub/internal/apperr"
	"github.com/starford/qrhub/internal/models"
	"github.com/starford/qrhub/internal/storage"
)

// RetentionBound is the maximum number of records kept.
const RetentionBound = 10

// DefaultKey is the storage key holding the serialised list.
const DefaultKey = "qrHistory"

// Store owns the newest-first record list.
type Store struct {
	mu      sync.RWMutex
	records []models.Record
	mirror  storage.Provider
	key     string
	limit   int
}

// New creates an empty store mirrored to key in p.
func New(p storage.Provider, key string) *Store {
	if key == "" {
		key = DefaultKey
	}
	return &Store{mirror: p, key: key, limit: RetentionBound}
}

// Load replaces the in-memory list with the persisted mirror. A missing key
// yields an empty list. Malformed data leaves the list empty and returns an
// error wrapping apperr.ErrCorrupt.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = nil
	data, err := s.mirror.Get(s.key)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("history: load: %w", err)
	}
	records, err := decode(data)
	if err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrCorrupt, err)
	}
	s.records = truncate(records, s.limit)
	return nil
}

// Append prepends r, drops records beyond the retention bound and persists.
func (s *Store) Append(r models.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make([]models.Record, 0, len(s.records)+1)
	next = append(next, r)
	next = append(next, s.records...)
	s.records = truncate(next, s.limit)
	return s.persist()
}

// Clear empties the list and removes the stored mirror.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = nil
	if err := s.mirror.Delete(s.key); err != nil {
		return fmt.Errorf("history: clear: %w", err)
	}
	return nil
}

// Import replaces the list with the records in data, which must be a JSON
// array of well-formed records. On rejection the list is left untouched and
// the error wraps apperr.ErrInvalidImport.
func (s *Store) Import(data []byte) error {
	records, err := decode(data)
	if err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrInvalidImport, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = truncate(records, s.limit)
	return s.persist()
}

// Export returns the current list as a pretty-printed JSON array.
func (s *Store) Export() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out, err := json.MarshalIndent(nonNil(s.records), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("history: export: %w", err)
	}
	return out, nil
}

// List returns a copy of the records, newest first.
func (s *Store) List() []models.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Record{}, s.records...)
}

// Get returns the record with id.
func (s *Store) Get(id string) (models.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.records {
		if r.ID == id {
			return r, true
		}
	}
	return models.Record{}, false
}

// Len returns the number of records held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// persist writes the list to the mirror. Caller must hold mu.
func (s *Store) persist() error {
	data, err := json.Marshal(nonNil(s.records))
	if err != nil {
		return fmt.Errorf("history: encode: %w", err)
	}
	if err := s.mirror.Put(s.key, data); err != nil {
		return fmt.Errorf("history: persist: %w", err)
	}
	return nil
}

// decode parses a JSON array of records and validates each one.
func decode(data []byte) ([]models.Record, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, errors.New("expected a JSON array")
	}
	var records []models.Record
	if err := json.Unmarshal(trimmed, &records); err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(records))
	for i := range records {
		if err := validateRecord(&records[i]); err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		if _, dup := seen[records[i].ID]; dup {
			return nil, fmt.Errorf("record %d: duplicate id %q", i, records[i].ID)
		}
		seen[records[i].ID] = struct{}{}
	}
	return records, nil
}

func validateRecord(r *models.Record) error {
	return validation.ValidateStruct(r,
		validation.Field(&r.ID, validation.Required),
		validation.Field(&r.Kind, validation.Required, validation.By(func(v any) error {
			if k, _ := v.(models.Kind); !k.Valid() {
				return errors.New("unknown kind")
			}
			return nil
		})),
		validation.Field(&r.Timestamp, validation.Min(int64(0))),
	)
}

func truncate(records []models.Record, limit int) []models.Record {
	if len(records) > limit {
		return records[:limit]
	}
	return records
}

func nonNil(records []models.Record) []models.Record {
	if records == nil {
		return []models.Record{}
	}
	return records
}
