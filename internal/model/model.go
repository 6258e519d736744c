package model

import "time"

// Attendee is a single meeting participant as reported by the calendar source.
type Attendee struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// RawEvent is a calendar event as handed over by a calendar source, before
// any meeting link extraction.
//
// The four text fields are scanned for meeting links in the order
// VirtualConferenceURL, URL, Location, Notes. VirtualConferenceURL is only
// populated by sources that carry a dedicated conference property.
type RawEvent struct {
	// ID is the stable source identifier of this event (or occurrence, for
	// recurring events). It survives refreshes.
	ID string

	Title string
	Start time.Time
	End   time.Time

	OrganizerName  string
	OrganizerEmail string

	// AttendeeCount is the number of invitees reported by the source. It may
	// exceed len(Attendees) when the source only exposes a partial list.
	AttendeeCount int
	Attendees     []Attendee

	CalendarName string

	VirtualConferenceURL string
	URL                  string
	Location             string
	Notes                string
}
