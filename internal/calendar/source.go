// Package calendar defines the read-only calendar store the coordinator
// synchronizes from.
package calendar

import (
	"context"
	"time"

	"nextmeet/internal/model"
)

// Source is a locally queryable, read-only calendar store.
type Source interface {
	// AuthorizationStatus returns the current permission level without
	// prompting or probing.
	AuthorizationStatus() model.AuthStatus

	// RequestFullAccess asks for read access. It reports whether access was
	// granted; an error means the request itself could not be completed.
	RequestFullAccess(ctx context.Context) (bool, error)

	// FetchEvents returns every event whose interval intersects
	// [start, end), in a stable source order.
	FetchEvents(ctx context.Context, start, end time.Time) ([]model.RawEvent, error)
}
