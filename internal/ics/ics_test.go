package ics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nextmeet/internal/model"
)

const fixture = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//nextmeet//test//EN
X-WR-CALNAME:Work
BEGIN:VEVENT
UID:standup@example.com
SUMMARY:Standup
DTSTART:20240311T090000Z
DTEND:20240311T091500Z
RRULE:FREQ=DAILY;COUNT=10
EXDATE:20240314T090000Z
LOCATION:https://zoom.us/j/111
END:VEVENT
BEGIN:VEVENT
UID:standup@example.com
RECURRENCE-ID:20240315T090000Z
SUMMARY:Standup (moved)
DTSTART:20240315T100000Z
DTEND:20240315T101500Z
LOCATION:https://zoom.us/j/111
END:VEVENT
BEGIN:VEVENT
UID:standup@example.com
RECURRENCE-ID:20240316T090000Z
STATUS:CANCELLED
DTSTART:20240316T090000Z
DTEND:20240316T091500Z
END:VEVENT
BEGIN:VEVENT
UID:review@example.com
SUMMARY:Design review
DTSTART:20240315T140000Z
DTEND:20240315T150000Z
X-GOOGLE-CONFERENCE:https://meet.google.com/abc-defg-hij
URL:https://example.com/event
ORGANIZER;CN=Ada Lovelace:mailto:ada@example.com
ATTENDEE;CN=Bob:mailto:bob@example.com
ATTENDEE;CN=Carol:mailto:carol@example.com
DESCRIPTION:Agenda
END:VEVENT
BEGIN:VEVENT
UID:gone@example.com
SUMMARY:Cancelled sync
STATUS:CANCELLED
DTSTART:20240315T160000Z
DTEND:20240315T170000Z
END:VEVENT
END:VCALENDAR
`

func fixtureBody() []byte {
	return []byte(strings.ReplaceAll(fixture, "\n", "\r\n"))
}

func TestParseICS(t *testing.T) {
	src := Source{ID: "work", Name: "Fallback", URL: "https://example.com/work.ics"}
	events, err := ParseICS(src, fixtureBody())
	require.NoError(t, err)
	require.Len(t, events, 5)

	review := events[3]
	assert.Equal(t, "review@example.com", review.UID)
	assert.Equal(t, "Design review", review.Summary)
	assert.Equal(t, "https://meet.google.com/abc-defg-hij", review.Conference)
	assert.Equal(t, "https://example.com/event", review.URL)
	assert.Equal(t, "Ada Lovelace", review.OrganizerName)
	assert.Equal(t, "ada@example.com", review.OrganizerEmail)
	assert.Equal(t, []model.Attendee{
		{Name: "Bob", Email: "bob@example.com"},
		{Name: "Carol", Email: "carol@example.com"},
	}, review.Attendees)
	assert.Equal(t, "Work", review.CalendarName)
	assert.Equal(t, time.Date(2024, 3, 15, 14, 0, 0, 0, time.UTC), review.Start.UTC())

	assert.True(t, events[2].IsOverride)
	assert.True(t, events[2].Cancelled())
	assert.True(t, events[4].Cancelled())
	assert.Len(t, events[0].ExDates, 1)
}

func TestParseICSDurationWithoutDTEND(t *testing.T) {
	body := strings.ReplaceAll(`BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//nextmeet//test//EN
BEGIN:VEVENT
UID:planning@example.com
SUMMARY:Planning
DTSTART:20240315T130000Z
DURATION:PT1H30M
LOCATION:https://zoom.us/j/42
END:VEVENT
END:VCALENDAR
`, "\n", "\r\n")

	events, err := ParseICS(Source{ID: "work"}, []byte(body))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, time.Date(2024, 3, 15, 14, 30, 0, 0, time.UTC), events[0].End.UTC())
}

func TestAddICSDuration(t *testing.T) {
	base := time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)
	cases := []struct {
		in   string
		want time.Time
	}{
		{"PT15M", base.Add(15 * time.Minute)},
		{"PT1H30M", base.Add(90 * time.Minute)},
		{"PT45S", base.Add(45 * time.Second)},
		{"P1D", base.AddDate(0, 0, 1)},
		{"P1DT2H", base.AddDate(0, 0, 1).Add(2 * time.Hour)},
		{"P2W", base.AddDate(0, 0, 14)},
		{"+PT1H", base.Add(time.Hour)},
		{"-PT1H", base.Add(-time.Hour)},
	}
	for _, tc := range cases {
		got, err := addICSDuration(base, tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}

	for _, bad := range []string{"", "P", "PT", "1H", "PT1D", "P1H", "PT1H2", "PTH"} {
		_, err := addICSDuration(base, bad)
		assert.Error(t, err, bad)
	}
}

func TestParseICSEmpty(t *testing.T) {
	_, err := ParseICS(Source{ID: "x"}, nil)
	assert.Error(t, err)
}

func TestExpandOccurrences(t *testing.T) {
	events, err := ParseICS(Source{ID: "work"}, fixtureBody())
	require.NoError(t, err)

	res, err := ExpandOccurrences(events, ExpandConfig{
		DisplayLocation: time.UTC,
		RangeStart:      time.Date(2024, 3, 14, 0, 0, 0, 0, time.UTC),
		RangeEnd:        time.Date(2024, 3, 17, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Len(t, res.Events, 2)

	moved := res.Events[0]
	assert.Equal(t, "standup@example.com/20240315T090000Z", moved.ID)
	assert.Equal(t, "Standup (moved)", moved.Title)
	assert.Equal(t, time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC), moved.Start)
	assert.Equal(t, "https://zoom.us/j/111", moved.Location)

	review := res.Events[1]
	assert.Equal(t, "review@example.com", review.ID)
	assert.Equal(t, "https://meet.google.com/abc-defg-hij", review.VirtualConferenceURL)
	assert.Equal(t, "Agenda", review.Notes)
	assert.Equal(t, 2, review.AttendeeCount)
}

func TestExpandOccurrencesRejectsInvertedRange(t *testing.T) {
	now := time.Now()
	_, err := ExpandOccurrences(nil, ExpandConfig{RangeStart: now, RangeEnd: now.Add(-time.Hour)})
	assert.Error(t, err)
}

func TestExpandIncludesOccurrenceRunningIntoWindow(t *testing.T) {
	start := time.Date(2024, 3, 10, 23, 0, 0, 0, time.UTC)
	ev := ParsedEvent{
		Source:   Source{ID: "s"},
		UID:      "late@example.com",
		Start:    start,
		End:      start.Add(2 * time.Hour),
		RawRRule: "FREQ=DAILY",
	}
	res, err := ExpandOccurrences([]ParsedEvent{ev}, ExpandConfig{
		DisplayLocation: time.UTC,
		RangeStart:      time.Date(2024, 3, 12, 0, 0, 0, 0, time.UTC),
		RangeEnd:        time.Date(2024, 3, 12, 12, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Len(t, res.Events, 1)
	assert.Equal(t, time.Date(2024, 3, 11, 23, 0, 0, 0, time.UTC), res.Events[0].Start)
}

func TestOverlaps(t *testing.T) {
	ws := time.Date(2024, 3, 14, 0, 0, 0, 0, time.UTC)
	we := ws.Add(72 * time.Hour)

	cases := []struct {
		name       string
		start, end time.Time
		want       bool
	}{
		{"inside", ws.Add(time.Hour), ws.Add(2 * time.Hour), true},
		{"ends at window start", ws.Add(-time.Hour), ws, false},
		{"starts at window end", we, we.Add(time.Hour), false},
		{"spans window", ws.Add(-time.Hour), we.Add(time.Hour), true},
		{"zero length at start", ws, ws, true},
		{"zero length at end", we, we, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, overlaps(tc.start, tc.end, ws, we))
		})
	}
}

func TestFetcherUsesETag(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write(fixtureBody())
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir(), WithRetry(0, time.Millisecond))
	src := Source{ID: "work", URL: srv.URL + "/work.ics"}

	first, err := f.FetchOne(context.Background(), src)
	require.NoError(t, err)
	assert.False(t, first.FromCache)

	second, err := f.FetchOne(context.Background(), src)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, first.Body, second.Body)
	assert.EqualValues(t, 2, atomic.LoadInt32(&hits))
}

func TestFetcherRecoversFromMissingCacheBody(t *testing.T) {
	var conditional atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"v1"` {
			conditional.Store(true)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write(fixtureBody())
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir(), WithRetry(0, time.Millisecond))
	src := Source{ID: "work", URL: srv.URL + "/work.ics"}
	_, err := f.FetchOne(context.Background(), src)
	require.NoError(t, err)

	cachePath, err := f.cachePathForURL(src.URL)
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(cachePath, "body.ics")))

	res, err := f.FetchOne(context.Background(), src)
	require.NoError(t, err)
	assert.False(t, res.FromCache)
	assert.Equal(t, fixtureBody(), res.Body)
	assert.False(t, conditional.Load(), "validators sent without a cached body")
}

func TestFetcherRetriesServerErrors(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write(fixtureBody())
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir(), WithRetry(2, time.Millisecond))
	res, err := f.FetchOne(context.Background(), Source{ID: "work", URL: srv.URL})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Body)
	assert.EqualValues(t, 3, atomic.LoadInt32(&hits))
}

func TestFetcherFallsBackToCache(t *testing.T) {
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write(fixtureBody())
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir(), WithRetry(0, time.Millisecond))
	src := Source{ID: "work", URL: srv.URL}
	_, err := f.FetchOne(context.Background(), src)
	require.NoError(t, err)

	fail.Store(true)
	res, err := f.FetchOne(context.Background(), src)
	require.NoError(t, err)
	assert.True(t, res.FromCache)
}

func TestFetcherUnauthorizedSkipsCache(t *testing.T) {
	var deny atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if deny.Load() {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		_, _ = w.Write(fixtureBody())
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir(), WithRetry(0, time.Millisecond))
	src := Source{ID: "work", URL: srv.URL}
	_, err := f.FetchOne(context.Background(), src)
	require.NoError(t, err)

	deny.Store(true)
	_, err = f.FetchOne(context.Background(), src)
	require.Error(t, err)
	assert.True(t, isUnauthorized(err))
}

func TestFetcherReadsLocalFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cal.ics")
	require.NoError(t, os.WriteFile(path, fixtureBody(), 0o600))

	f := NewFetcher(t.TempDir())
	for _, u := range []string{path, "file://" + path} {
		res, err := f.FetchOne(context.Background(), Source{ID: "local", URL: u})
		require.NoError(t, err, u)
		assert.Equal(t, fixtureBody(), res.Body)
	}
}

func statusServer(t *testing.T, codes map[string]int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if code, ok := codes[r.URL.Path]; ok {
			w.WriteHeader(code)
			return
		}
		_, _ = w.Write(fixtureBody())
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestStore(t *testing.T, srv *httptest.Server, paths ...string) *Store {
	t.Helper()
	var sources []Source
	for _, p := range paths {
		sources = append(sources, Source{ID: p, URL: srv.URL + p})
	}
	return NewStore(sources, NewFetcher(t.TempDir(), WithRetry(0, time.Millisecond)), time.UTC)
}

func TestStoreRequestFullAccess(t *testing.T) {
	srv := statusServer(t, map[string]int{
		"/denied":  http.StatusForbidden,
		"/login":   http.StatusUnauthorized,
		"/missing": http.StatusNotFound,
	})

	t.Run("granted when any source readable", func(t *testing.T) {
		s := newTestStore(t, srv, "/denied", "/ok")
		assert.Equal(t, model.AuthUndetermined, s.AuthorizationStatus())
		granted, err := s.RequestFullAccess(context.Background())
		require.NoError(t, err)
		assert.True(t, granted)
		assert.Equal(t, model.AuthFullAccess, s.AuthorizationStatus())
	})

	t.Run("denied when every source refuses", func(t *testing.T) {
		s := newTestStore(t, srv, "/denied", "/login")
		granted, err := s.RequestFullAccess(context.Background())
		require.NoError(t, err)
		assert.False(t, granted)
		assert.Equal(t, model.AuthDenied, s.AuthorizationStatus())
	})

	t.Run("error on other failures", func(t *testing.T) {
		s := newTestStore(t, srv, "/denied", "/missing")
		granted, err := s.RequestFullAccess(context.Background())
		require.Error(t, err)
		assert.False(t, granted)
		assert.Equal(t, model.AuthUndetermined, s.AuthorizationStatus())
	})

	t.Run("restricted without sources", func(t *testing.T) {
		s := NewStore(nil, nil, time.UTC)
		assert.Equal(t, model.AuthRestricted, s.AuthorizationStatus())
		granted, err := s.RequestFullAccess(context.Background())
		require.NoError(t, err)
		assert.False(t, granted)
	})
}

func TestStoreFetchEvents(t *testing.T) {
	srv := statusServer(t, map[string]int{"/missing": http.StatusNotFound})
	s := newTestStore(t, srv, "/missing", "/work")

	events, err := s.FetchEvents(context.Background(),
		time.Date(2024, 3, 14, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 17, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "Standup (moved)", events[0].Title)
	assert.Equal(t, "Design review", events[1].Title)
}

func TestStoreFetchEventsAllFailed(t *testing.T) {
	srv := statusServer(t, map[string]int{"/denied": http.StatusForbidden})
	s := newTestStore(t, srv, "/denied")

	_, err := s.FetchEvents(context.Background(), time.Now(), time.Now().Add(time.Hour))
	require.Error(t, err)
	assert.Equal(t, model.AuthDenied, s.AuthorizationStatus())
}
