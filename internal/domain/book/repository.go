package book

import "context"

// Repository defines the operations for persisting and retrieving
// book records. Mutations go through CompareAndSwap so the pure ledger
// transforms can be applied as an optimistic transaction.
type Repository interface {
	Create(ctx context.Context, rec *Record) error
	GetByID(ctx context.Context, id string) (*Record, error)
	// CompareAndSwap persists rec only if the stored version still
	// equals expectedVersion, bumping the version on success.
	CompareAndSwap(ctx context.Context, expectedVersion int64, rec *Record) error
	ListAll(ctx context.Context) ([]*Record, error)
}
