// Package meeting turns raw calendar events into Meeting records.
package meeting

import (
	"strings"

	"github.com/google/uuid"

	"nextmeet/internal/extract"
	"nextmeet/internal/model"
)

// UntitledTitle replaces an empty event title.
const UntitledTitle = "Untitled Meeting"

// Builder maps raw events to meetings. NewID generates the record identity;
// it is called once per built record.
type Builder struct {
	NewID func() string
}

// NewBuilder returns a Builder that assigns random UUIDs.
func NewBuilder() Builder {
	return Builder{NewID: uuid.NewString}
}

var defaultBuilder = NewBuilder()

// Build is NewBuilder().Build(ev).
func Build(ev model.RawEvent) (model.Meeting, bool) {
	return defaultBuilder.Build(ev)
}

// Build returns the meeting for ev, or false when none of the event's text
// fields carries a valid meeting link. Such events are simply not meetings.
func (b Builder) Build(ev model.RawEvent) (model.Meeting, bool) {
	match, ok := extract.URLWithPlatform(extract.Fields{
		VirtualConferenceURL: ev.VirtualConferenceURL,
		URL:                  ev.URL,
		Location:             ev.Location,
		Notes:                ev.Notes,
	})
	if !ok {
		return model.Meeting{}, false
	}

	newID := b.NewID
	if newID == nil {
		newID = uuid.NewString
	}

	title := ev.Title
	if strings.TrimSpace(title) == "" {
		title = UntitledTitle
	}

	count := ev.AttendeeCount
	if count == 0 {
		count = len(ev.Attendees)
	}

	var attendees []model.Attendee
	if len(ev.Attendees) > 0 {
		attendees = make([]model.Attendee, len(ev.Attendees))
		copy(attendees, ev.Attendees)
	}

	return model.Meeting{
		ID:             newID(),
		Title:          title,
		Start:          ev.Start,
		End:            ev.End,
		JoinURL:        match.URL,
		Platform:       match.Platform,
		OrganizerName:  ev.OrganizerName,
		OrganizerEmail: ev.OrganizerEmail,
		AttendeeCount:  count,
		Attendees:      attendees,
		CalendarName:   ev.CalendarName,
		EventID:        ev.ID,
	}, true
}
