// Package records implements the optional finalized-transcript store
// referenced, but left external, by spec.md §1 ("an append(record)
// sink the session pipeline calls on completion; implementation is
// out of scope"). original_source/backend/app/models/transcription.py
// and database.py show the real system persists every finalized
// transcript to SQL, so this package supplies a concrete, optional
// implementation of that sink rather than just the interface.
package records

import (
	"context"
	"time"
)

// Record is one finalized transcript.
type Record struct {
	Text      string
	Engine    string
	CreatedAt time.Time
}

// Store appends a finalized Record. Implementations must be safe for
// concurrent use; the session pipeline calls Append once, synchronously,
// at the end of a session that did not abort, and only logs a failure.
type Store interface {
	Append(ctx context.Context, rec Record) error
}
