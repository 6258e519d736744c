package coordinator

import "errors"

var (
	// ErrAccessDenied is returned by Refresh when calendar read access has
	// not been granted.
	ErrAccessDenied = errors.New("calendar access denied")
	// ErrFetchFailed matches every FetchError.
	ErrFetchFailed = errors.New("calendar fetch failed")
	// ErrInvalidEvent is reserved for malformed source data.
	ErrInvalidEvent = errors.New("invalid calendar event")
	// ErrRefreshInProgress is returned by Refresh while another refresh runs.
	ErrRefreshInProgress = errors.New("refresh already in progress")
	// ErrStopped is returned by commands once Run has exited.
	ErrStopped = errors.New("coordinator stopped")
)

// FetchError wraps a failure of the calendar source query.
type FetchError struct {
	Err error
}

func (e *FetchError) Error() string {
	return "calendar fetch failed: " + e.Err.Error()
}

func (e *FetchError) Unwrap() []error {
	return []error{ErrFetchFailed, e.Err}
}
