package database

import (
	"context"
	"sync"
	"testing"

	"library_notification_bot/internal/domain/book"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRepo_CreateAndGet(t *testing.T) {
	repo := NewMemoryBookRepository()
	ctx := context.Background()

	rec := &book.Record{ID: "b1", Title: "Dune", TotalCopies: 2}
	require.NoError(t, repo.Create(ctx, rec))
	assert.Equal(t, int64(1), rec.Version)

	assert.ErrorIs(t, repo.Create(ctx, &book.Record{ID: "b1"}), ErrDuplicateBookID)

	got, err := repo.GetByID(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, "Dune", got.Title)

	_, err = repo.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, ErrBookNotFound)
}

func TestMemoryRepo_CompareAndSwap(t *testing.T) {
	repo := NewMemoryBookRepository()
	ctx := context.Background()

	rec := &book.Record{ID: "b1", Title: "Dune", TotalCopies: 2}
	require.NoError(t, repo.Create(ctx, rec))

	updated := rec.Clone()
	updated.Loans = []book.Loan{{UserID: "u1"}}
	require.NoError(t, repo.CompareAndSwap(ctx, 1, updated))
	assert.Equal(t, int64(2), updated.Version)

	// A writer holding the old version loses.
	stale := rec.Clone()
	assert.ErrorIs(t, repo.CompareAndSwap(ctx, 1, stale), ErrVersionConflict)

	assert.ErrorIs(t, repo.CompareAndSwap(ctx, 1, &book.Record{ID: "missing"}), ErrBookNotFound)
}

// Two librarians racing to assign the last copy: exactly one
// compare-and-swap wins per version.
func TestMemoryRepo_ConcurrentSwaps(t *testing.T) {
	repo := NewMemoryBookRepository()
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, &book.Record{ID: "b1", Title: "Dune", TotalCopies: 1}))

	const writers = 20
	var wins, losses int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, err := repo.GetByID(ctx, "b1")
			if err != nil {
				return
			}
			err = repo.CompareAndSwap(ctx, 1, rec)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
			} else {
				losses++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, writers-1, losses)
}
