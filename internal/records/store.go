// Package records persists clinical records as one JSON collection in the
// local key/value store.
package records

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"medivoice/internal/domain"
)

// StorageKey is the collection key inside the key/value store.
const StorageKey = "medivoice_records_v1"

// SchemaVersion is the envelope version written by Save and Delete.
const SchemaVersion = 1

// ErrUnsupportedSchema is returned for collections written by a newer build.
var ErrUnsupportedSchema = errors.New("records were written by a newer version")

// KV is the persistence boundary used by Store.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key string, value string) error
}

type envelope struct {
	SchemaVersion int                     `json:"schemaVersion"`
	Records       []domain.ClinicalRecord `json:"records"`
}

// Store is the local record collection. Writes rewrite the whole collection.
type Store struct {
	kv  KV
	now func() time.Time

	mu sync.Mutex
}

// NewStore builds a record store over kv.
func NewStore(kv KV) *Store {
	return &Store{kv: kv, now: time.Now}
}

// NewRecord wraps a note result into a record stamped with now.
func NewRecord(patient domain.Patient, result domain.NoteResult, now time.Time) domain.ClinicalRecord {
	return domain.ClinicalRecord{
		ID:      strconv.FormatInt(now.UnixMilli(), 10),
		Date:    now,
		Patient: patient,
		Data:    result,
	}
}

// Save prepends record to the collection. A missing or colliding ID is
// replaced with a fresh timestamp-derived one.
func (s *Store) Save(ctx context.Context, record domain.ClinicalRecord) (domain.ClinicalRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.load(ctx)
	if err != nil {
		return domain.ClinicalRecord{}, err
	}

	if record.Date.IsZero() {
		record.Date = s.now()
	}
	if record.ID == "" {
		record.ID = strconv.FormatInt(record.Date.UnixMilli(), 10)
	}
	record.ID = uniqueID(record.ID, existing)
	if record.Data.Transcript == nil {
		record.Data.Transcript = []domain.TranscriptTurn{}
	}

	updated := make([]domain.ClinicalRecord, 0, len(existing)+1)
	updated = append(updated, record)
	updated = append(updated, existing...)
	if err := s.store(ctx, updated); err != nil {
		return domain.ClinicalRecord{}, err
	}
	return record, nil
}

// List returns every record, newest first.
func (s *Store) List(ctx context.Context) ([]domain.ClinicalRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx)
}

// Get looks a record up by ID.
func (s *Store) Get(ctx context.Context, id string) (domain.ClinicalRecord, bool, error) {
	list, err := s.List(ctx)
	if err != nil {
		return domain.ClinicalRecord{}, false, err
	}
	for _, record := range list {
		if record.ID == id {
			return record, true, nil
		}
	}
	return domain.ClinicalRecord{}, false, nil
}

// Delete removes the record with id. Unknown IDs are ignored.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.load(ctx)
	if err != nil {
		return err
	}
	filtered := existing[:0]
	for _, record := range existing {
		if record.ID != id {
			filtered = append(filtered, record)
		}
	}
	return s.store(ctx, filtered)
}

// Search matches query case-insensitively against patient name, patient ID
// and the subjective section. A blank query returns all records.
func (s *Store) Search(ctx context.Context, query string) ([]domain.ClinicalRecord, error) {
	list, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(query) == "" {
		return list, nil
	}

	q := strings.ToLower(query)
	matches := make([]domain.ClinicalRecord, 0, len(list))
	for _, record := range list {
		if strings.Contains(strings.ToLower(record.Patient.Name), q) ||
			strings.Contains(strings.ToLower(record.Patient.ID), q) ||
			strings.Contains(strings.ToLower(record.Data.SOAP.S), q) {
			matches = append(matches, record)
		}
	}
	return matches, nil
}

func (s *Store) load(ctx context.Context) ([]domain.ClinicalRecord, error) {
	raw, ok, err := s.kv.Get(ctx, StorageKey)
	if err != nil {
		return nil, fmt.Errorf("load records: %w", err)
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return []domain.ClinicalRecord{}, nil
	}
	list, err := decode([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("decode records: %w", err)
	}
	return list, nil
}

func (s *Store) store(ctx context.Context, list []domain.ClinicalRecord) error {
	if list == nil {
		list = []domain.ClinicalRecord{}
	}
	raw, err := json.Marshal(envelope{SchemaVersion: SchemaVersion, Records: list})
	if err != nil {
		return fmt.Errorf("encode records: %w", err)
	}
	if err := s.kv.Set(ctx, StorageKey, string(raw)); err != nil {
		return fmt.Errorf("store records: %w", err)
	}
	return nil
}

func uniqueID(id string, existing []domain.ClinicalRecord) string {
	taken := make(map[string]struct{}, len(existing))
	for _, record := range existing {
		taken[record.ID] = struct{}{}
	}
	if _, ok := taken[id]; !ok {
		return id
	}

	if n, err := strconv.ParseInt(id, 10, 64); err == nil {
		for {
			n++
			candidate := strconv.FormatInt(n, 10)
			if _, ok := taken[candidate]; !ok {
				return candidate
			}
		}
	}
	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s-%d", id, i)
		if _, ok := taken[candidate]; !ok {
			return candidate
		}
	}
}
