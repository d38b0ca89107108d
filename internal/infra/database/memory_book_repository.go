package database

import (
	"context"
	"sort"
	"sync"

	"library_notification_bot/internal/domain/book"
)

// MemoryBookRepository is an in-process implementation of
// book.Repository with the same compare-and-swap semantics and
// sentinel errors as the Postgres adapter. Used by tests and for local
// runs without a database.
type MemoryBookRepository struct {
	mu      sync.RWMutex
	records map[string]*book.Record
}

func NewMemoryBookRepository() *MemoryBookRepository {
	return &MemoryBookRepository{records: make(map[string]*book.Record)}
}

func (r *MemoryBookRepository) Create(_ context.Context, rec *book.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[rec.ID]; ok {
		return ErrDuplicateBookID
	}
	rec.Version = 1
	r.records[rec.ID] = rec.Clone()
	return nil
}

func (r *MemoryBookRepository) GetByID(_ context.Context, id string) (*book.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, ErrBookNotFound
	}
	return rec.Clone(), nil
}

func (r *MemoryBookRepository) CompareAndSwap(_ context.Context, expectedVersion int64, rec *book.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.records[rec.ID]
	if !ok {
		return ErrBookNotFound
	}
	if stored.Version != expectedVersion {
		return ErrVersionConflict
	}
	next := rec.Clone()
	next.Version = expectedVersion + 1
	r.records[rec.ID] = next
	rec.Version = next.Version
	return nil
}

func (r *MemoryBookRepository) ListAll(_ context.Context) ([]*book.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*book.Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
