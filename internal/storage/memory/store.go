// Package memory implements the transmission journal in process memory
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rdehuyss/oxalis/internal/storage"
)

// Store implements storage.TransmissionStore with a map
type Store struct {
	mu      sync.RWMutex
	records map[string]*storage.TransmissionRecord
	now     func() time.Time
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		records: make(map[string]*storage.TransmissionRecord),
		now:     time.Now,
	}
}

var _ storage.TransmissionStore = (*Store)(nil)

func (s *Store) Save(ctx context.Context, rec *storage.TransmissionRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	now := s.now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	cp := *rec
	s.mu.Lock()
	s.records[rec.MessageID] = &cp
	s.mu.Unlock()
	return nil
}

func (s *Store) Get(ctx context.Context, messageID string) (*storage.TransmissionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[messageID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *Store) UpdateStatus(ctx context.Context, messageID string, status storage.TransmissionStatus, lastError string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[messageID]
	if !ok {
		return storage.ErrNotFound
	}
	rec.Status = status
	rec.LastError = lastError
	rec.UpdatedAt = s.now()
	return nil
}

func (s *Store) List(ctx context.Context, filter *storage.TransmissionFilter) ([]*storage.TransmissionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	out := make([]*storage.TransmissionRecord, 0, len(s.records))
	for _, rec := range s.records {
		if filter.Matches(rec) {
			cp := *rec
			out = append(out, &cp)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].MessageID < out[j].MessageID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	if filter != nil {
		if filter.Offset > 0 {
			if filter.Offset >= len(out) {
				return []*storage.TransmissionRecord{}, nil
			}
			out = out[filter.Offset:]
		}
		if filter.Limit > 0 && filter.Limit < len(out) {
			out = out[:filter.Limit]
		}
	}
	return out, nil
}

// Ping always succeeds
func (s *Store) Ping(ctx context.Context) error {
	return nil
}

// Close discards all records
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	s.records = make(map[string]*storage.TransmissionRecord)
	s.mu.Unlock()
	return nil
}
