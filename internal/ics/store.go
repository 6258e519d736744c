package ics

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	appLog "nextmeet/internal/log"
	"nextmeet/internal/model"
)

// Store is a read-only calendar backed by ICS subscriptions. Access is
// "granted" once at least one subscription can be read.
type Store struct {
	sources []Source
	fetcher *Fetcher
	loc     *time.Location

	mu     sync.Mutex
	status model.AuthStatus
}

// NewStore creates a Store over sources. Times are reported in loc.
func NewStore(sources []Source, fetcher *Fetcher, loc *time.Location) *Store {
	if fetcher == nil {
		fetcher = NewFetcher("")
	}
	if loc == nil {
		loc = time.Local
	}
	s := &Store{
		sources: append([]Source(nil), sources...),
		fetcher: fetcher,
		loc:     loc,
		status:  model.AuthUndetermined,
	}
	if len(s.sources) == 0 {
		s.status = model.AuthRestricted
	}
	return s
}

// AuthorizationStatus returns the last known access level without probing.
func (s *Store) AuthorizationStatus() model.AuthStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Store) setStatus(st model.AuthStatus) {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
}

// RequestFullAccess probes every subscription. Access is granted if any of
// them is readable and denied if all of them refused with 401/403. Any other
// combination of failures is returned as an error and leaves the status
// unchanged.
func (s *Store) RequestFullAccess(ctx context.Context) (bool, error) {
	if len(s.sources) == 0 {
		s.setStatus(model.AuthRestricted)
		return false, nil
	}

	var errs []error
	refused := 0
	for _, src := range s.sources {
		_, err := s.fetcher.FetchOne(ctx, src)
		if err == nil {
			s.setStatus(model.AuthFullAccess)
			return true, nil
		}
		if isUnauthorized(err) {
			refused++
		}
		errs = append(errs, fmt.Errorf("%s: %w", src.ID, err))
	}

	if refused == len(s.sources) {
		s.setStatus(model.AuthDenied)
		return false, nil
	}
	return false, errors.Join(errs...)
}

// FetchEvents fetches, parses and expands every subscription into raw
// events intersecting [start, end). Individual subscription failures are
// logged; the call only fails when no subscription could be read.
func (s *Store) FetchEvents(ctx context.Context, start, end time.Time) ([]model.RawEvent, error) {
	if len(s.sources) == 0 {
		return nil, nil
	}

	var (
		parsed  []ParsedEvent
		errs    []error
		refused int
		ok      int
	)
	for _, src := range s.sources {
		res, err := s.fetcher.FetchOne(ctx, src)
		if err != nil {
			if isUnauthorized(err) {
				refused++
			}
			appLog.Error("ics source fetch failed", err, "id", src.ID, "url", appLog.RedactURL(src.URL))
			errs = append(errs, fmt.Errorf("%s: %w", src.ID, err))
			continue
		}
		evs, err := ParseICS(src, res.Body)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", src.ID, err))
			continue
		}
		ok++
		parsed = append(parsed, evs...)
	}

	if ok == 0 {
		if refused == len(s.sources) {
			s.setStatus(model.AuthDenied)
		}
		return nil, errors.Join(errs...)
	}

	res, err := ExpandOccurrences(parsed, ExpandConfig{
		DisplayLocation: s.loc,
		RangeStart:      start,
		RangeEnd:        end,
	})
	if err != nil {
		return nil, err
	}
	return res.Events, nil
}

func isUnauthorized(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Unauthorized()
}
