package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/spigell/fit-analyzer/internal/apperr"
)

var (
	// ErrNotFound is returned for unknown tokens.
	ErrNotFound = apperr.New(apperr.KindNotFound, "job not found")
	// ErrExists is returned by Create when the token is taken.
	ErrExists = apperr.New(apperr.KindConflict, "job already exists")
	// ErrVersionMismatch is returned by CompareAndSwap when the record changed.
	ErrVersionMismatch = errors.New("job version mismatch")
)

const maxUpdateAttempts = 32

// Store keeps job records keyed by token. Writes replace whole records so
// readers never observe a partial update. Every write bumps Version and
// stamps UpdatedAt on the stored copy.
type Store interface {
	Create(ctx context.Context, job *Job) error
	Get(ctx context.Context, token string) (*Job, error)
	Replace(ctx context.Context, job *Job) error
	CompareAndSwap(ctx context.Context, expected int64, job *Job) error
}

// Update applies fn to the current record and stores it with
// CompareAndSwap, retrying when a concurrent writer got there first.
// Returning an error from fn aborts the update.
func Update(ctx context.Context, store Store, token string, fn func(*Job) error) (*Job, error) {
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		current, err := store.Get(ctx, token)
		if err != nil {
			return nil, err
		}

		version := current.Version
		if err := fn(current); err != nil {
			return nil, err
		}

		err = store.CompareAndSwap(ctx, version, current)
		if errors.Is(err, ErrVersionMismatch) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return current, nil
	}
	return nil, apperr.Wrap(apperr.KindInternal, "job update contention", ErrVersionMismatch)
}

func stamp(job *Job, now time.Time) {
	job.Version++
	job.UpdatedAt = now
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
}
