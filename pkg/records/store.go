package records

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dyluth/agora/pkg/fault"
)

// Store is the record store contract shared by the Redis and SQLite adapters.
type Store interface {
	// Add writes rec, assigning an id when empty and stamping CreatedAtMs when zero.
	// Writing an existing id overwrites it, re-indexes it and bumps its version.
	// Overwriting a record of a different kind is rejected with fault.ErrInvalidArgument.
	// rec.ID and rec.Version are updated in place. Returns the stored id.
	Add(ctx context.Context, rec *Record) (string, error)

	// Get returns the record with the given id, or a fault.ErrNotFound error.
	Get(ctx context.Context, id string) (*Record, error)

	// Search returns every record matching q ordered by (CreatedAtMs, ID).
	Search(ctx context.Context, q Query) ([]*Record, error)

	// Replace overwrites rec only if the stored version equals expectedVersion.
	// Returns fault.ErrConflict on a lost race and fault.ErrNotFound if the record is gone.
	// CreatedAtMs is preserved from the stored record.
	Replace(ctx context.Context, rec *Record, expectedVersion int64) error

	Ping(ctx context.Context) error
	Close() error
}

// DefaultOpTimeout bounds a single store operation when no timeout is configured.
const DefaultOpTimeout = 5 * time.Second

type options struct {
	opTimeout time.Duration
}

// Option configures a store adapter.
type Option func(*options)

// WithOpTimeout sets the per-operation timeout. Non-positive values are ignored.
func WithOpTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.opTimeout = d
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{opTimeout: DefaultOpTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// IsNotFound reports whether err means the requested record does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, fault.ErrNotFound) || errors.Is(err, redis.Nil)
}

func prepareAdd(op string, rec *Record) error {
	if rec == nil {
		return fault.InvalidArgument(op, "record cannot be nil")
	}
	if rec.ID == "" {
		rec.ID = newID()
	}
	if rec.CreatedAtMs == 0 {
		rec.CreatedAtMs = time.Now().UnixMilli()
	}
	if rec.Labels == nil {
		rec.Labels = map[string]string{}
	}
	if rec.Tags == nil {
		rec.Tags = []string{}
	}
	return fault.Invalid(op, rec.Validate())
}

// checkOverwrite rejects an Add that would replace a record of another kind.
func checkOverwrite(op string, old, rec *Record) error {
	if old.Kind != rec.Kind {
		return fault.InvalidArgument(op, "record %q already holds a %s", rec.ID, old.Kind)
	}
	return nil
}
