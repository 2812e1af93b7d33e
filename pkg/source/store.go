// Package source talks to the live time-series store. The core never
// constructs retention logic itself: it asks the store for the annotated
// record stream of one retirement period and, after a successful transfer,
// asks it to delete the same records by predicate.
package source

import (
	"context"
	"io"
	"time"
)

// Store is the query/delete surface the workflow depends on.
type Store interface {
	// Query returns the annotated CSV stream of all points whose
	// retirement tag equals period. The caller closes the stream.
	Query(ctx context.Context, period string) (io.ReadCloser, error)

	// Delete removes all points matching predicate within [start, stop].
	Delete(ctx context.Context, predicate string, start, stop time.Time) error
}
