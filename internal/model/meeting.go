package model

import (
	"encoding/binary"
	"time"

	"github.com/cespare/xxhash/v2"

	"nextmeet/internal/platform"
)

// Meeting is an immutable view of a calendar event that carries a video
// conference link. A new Meeting (with a new ID) is built on every refresh;
// EventID is the key that is stable across refreshes.
//
// End is not validated against Start: zero or negative durations are kept
// as reported by the source.
type Meeting struct {
	ID             string            `json:"id"`
	Title          string            `json:"title"`
	Start          time.Time         `json:"start"`
	End            time.Time         `json:"end"`
	JoinURL        string            `json:"join_url,omitempty"`
	Platform       platform.Platform `json:"platform"`
	OrganizerName  string            `json:"organizer_name,omitempty"`
	OrganizerEmail string            `json:"organizer_email,omitempty"`
	AttendeeCount  int               `json:"attendee_count"`
	Attendees      []Attendee        `json:"attendees,omitempty"`
	CalendarName   string            `json:"calendar_name"`
	EventID        string            `json:"event_id"`
}

// Equal compares every field except the attendee list; AttendeeCount is
// compared instead. Times compare by instant.
func (m Meeting) Equal(o Meeting) bool {
	return m.ID == o.ID &&
		m.Title == o.Title &&
		m.Start.Equal(o.Start) &&
		m.End.Equal(o.End) &&
		m.JoinURL == o.JoinURL &&
		m.Platform == o.Platform &&
		m.OrganizerName == o.OrganizerName &&
		m.OrganizerEmail == o.OrganizerEmail &&
		m.AttendeeCount == o.AttendeeCount &&
		m.CalendarName == o.CalendarName &&
		m.EventID == o.EventID
}

// Hash is consistent with Equal: meetings that are Equal hash identically.
func (m Meeting) Hash() uint64 {
	d := xxhash.New()
	var buf [8]byte
	writeInt := func(v int64) {
		binary.LittleEndian.PutUint64(buf[:], uint64(v))
		_, _ = d.Write(buf[:])
	}
	writeString := func(s string) {
		writeInt(int64(len(s)))
		_, _ = d.WriteString(s)
	}

	writeString(m.ID)
	writeString(m.Title)
	writeInt(m.Start.UnixNano())
	writeInt(m.End.UnixNano())
	writeString(m.JoinURL)
	writeInt(int64(m.Platform))
	writeString(m.OrganizerName)
	writeString(m.OrganizerEmail)
	writeInt(int64(m.AttendeeCount))
	writeString(m.CalendarName)
	writeString(m.EventID)
	return d.Sum64()
}

// Duration is End - Start and may be zero or negative.
func (m Meeting) Duration() time.Duration {
	return m.End.Sub(m.Start)
}

// InProgress reports whether now falls within [Start, End).
func (m Meeting) InProgress(now time.Time) bool {
	return !now.Before(m.Start) && now.Before(m.End)
}

// StartsWithin reports whether the meeting starts in (now, now+d].
func (m Meeting) StartsWithin(now time.Time, d time.Duration) bool {
	return m.Start.After(now) && !m.Start.After(now.Add(d))
}
