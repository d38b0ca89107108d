// internal/infra/database/postgres_book_repository.go
package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"library_notification_bot/internal/domain/book"

	jsoniter "github.com/json-iterator/go"
)

// Custom errors specific to the book repository.
var ErrBookNotFound = fmt.Errorf("book record not found")
var ErrDuplicateBookID = fmt.Errorf("book record with this id already exists")

// ErrVersionConflict signals that a compare-and-swap lost the race: the
// stored version moved on since the record was read. Callers re-read
// and retry the whole operation.
var ErrVersionConflict = fmt.Errorf("book record version conflict, no rows were affected")

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// PostgresBookRepository stores each book as a JSONB document keyed by
// book id, with a version column for optimistic concurrency. Ledger
// transforms stay pure; this adapter owns durability.
type PostgresBookRepository struct {
	db *sql.DB
}

func NewPostgresBookRepository(db *sql.DB) *PostgresBookRepository {
	return &PostgresBookRepository{db: db}
}

func (r *PostgresBookRepository) Create(ctx context.Context, rec *book.Record) error {
	doc, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("error marshaling book record %s: %w", rec.ID, err)
	}

	query := `INSERT INTO book_records (id, version, doc, updated_at)
               VALUES ($1, 1, $2, NOW())`
	if _, err := r.db.ExecContext(ctx, query, rec.ID, doc); err != nil {
		if strings.Contains(err.Error(), "book_records_pkey") {
			return ErrDuplicateBookID
		}
		return fmt.Errorf("error creating book record: %w", err)
	}
	rec.Version = 1
	return nil
}

func (r *PostgresBookRepository) GetByID(ctx context.Context, id string) (*book.Record, error) {
	query := `SELECT version, doc FROM book_records WHERE id = $1`
	var version int64
	var doc []byte
	err := r.db.QueryRowContext(ctx, query, id).Scan(&version, &doc)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrBookNotFound
		}
		return nil, fmt.Errorf("error getting book record by ID: %w", err)
	}
	return unmarshalRecord(id, version, doc)
}

// CompareAndSwap writes rec only if the stored version is still
// expectedVersion. Zero rows affected means another writer got there
// first (or the record is gone).
func (r *PostgresBookRepository) CompareAndSwap(ctx context.Context, expectedVersion int64, rec *book.Record) error {
	doc, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("error marshaling book record %s: %w", rec.ID, err)
	}

	query := `UPDATE book_records
               SET doc = $1, version = version + 1, updated_at = NOW()
               WHERE id = $2 AND version = $3`
	result, err := r.db.ExecContext(ctx, query, doc, rec.ID, expectedVersion)
	if err != nil {
		return fmt.Errorf("error updating book record: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error reading rows affected: %w", err)
	}
	if rows == 0 {
		// Distinguish a lost race from a missing record.
		var exists bool
		if err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM book_records WHERE id = $1)`, rec.ID).Scan(&exists); err != nil {
			return fmt.Errorf("error checking book record existence: %w", err)
		}
		if !exists {
			return ErrBookNotFound
		}
		return ErrVersionConflict
	}

	rec.Version = expectedVersion + 1
	return nil
}

func (r *PostgresBookRepository) ListAll(ctx context.Context) ([]*book.Record, error) {
	query := `SELECT id, version, doc FROM book_records ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("error querying book records: %w", err)
	}
	defer rows.Close()

	records := make([]*book.Record, 0)
	for rows.Next() {
		var id string
		var version int64
		var doc []byte
		if err := rows.Scan(&id, &version, &doc); err != nil {
			return nil, fmt.Errorf("error scanning book record row: %w", err)
		}
		rec, err := unmarshalRecord(id, version, doc)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating book record rows: %w", err)
	}
	return records, nil
}

func unmarshalRecord(id string, version int64, doc []byte) (*book.Record, error) {
	rec := book.Record{}
	if err := json.Unmarshal(doc, &rec); err != nil {
		return nil, fmt.Errorf("error unmarshaling book record %s: %w", id, err)
	}
	rec.ID = id
	rec.Version = version
	return &rec, nil
}
