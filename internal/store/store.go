package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/nhle/mailwatch/internal/model"
)

// ErrNotFound is returned by Get when no record exists for the id.
var ErrNotFound = errors.New("record not found")

// PersistenceError reports a failed operation against the dedup store.
type PersistenceError struct {
	Op  string
	ID  string
	Err error
}

func (e *PersistenceError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.ID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsPersistenceError reports whether err (or any error in its chain) is a
// PersistenceError.
func IsPersistenceError(err error) bool {
	var pErr *PersistenceError
	return errors.As(err, &pErr)
}

// DedupStore records which message ids have already been delivered.
// A record is permanent. Uniqueness of id is enforced by the backend.
type DedupStore interface {
	// IsProcessed reports whether id has a record.
	IsProcessed(ctx context.Context, id string) (bool, error)

	// MarkProcessed records id. Marking an id twice is a no-op.
	MarkProcessed(ctx context.Context, id string) error

	// Get returns the record for id, or ErrNotFound.
	Get(ctx context.Context, id string) (*model.ProcessedRecord, error)

	// Count returns the number of recorded ids.
	Count(ctx context.Context) (int, error)

	Close() error
}
