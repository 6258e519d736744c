package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "nextmeet/internal/log"
	"nextmeet/internal/model"
)

// ParsedEvent is the normalized representation of a VEVENT as produced
// by the ICS parser. Recurrence expansion will operate on this type.
type ParsedEvent struct {
	Source Source

	UID    string
	Seq    int
	Status string

	Summary     string
	Description string
	Location    string
	URL         string
	Conference  string

	OrganizerName  string
	OrganizerEmail string
	Attendees      []model.Attendee
	CalendarName   string

	Start  time.Time
	End    time.Time
	AllDay bool

	RawRRule   string
	ExDates    []time.Time
	Recurrence *time.Time // RECURRENCE-ID (if present) in event's own timezone
	IsOverride bool       // true if this VEVENT is an override for a recurring instance
}

// Cancelled reports whether the event carries STATUS:CANCELLED.
func (ev ParsedEvent) Cancelled() bool {
	return strings.EqualFold(ev.Status, "CANCELLED")
}

// ParseICS parses a single ICS payload into a list of ParsedEvent.
//
//   - It relies on the underlying library's VTIMEZONE/TZID handling to
//     construct proper time.Time values (with Location set).
//   - It detects all-day events by inspecting the DTSTART value format.
//   - It records RRULE/EXDATE/RECURRENCE-ID but does not expand recurrences;
//     expansion is done in expand.go.
func ParseICS(src Source, body []byte) ([]ParsedEvent, error) {
	if len(body) == 0 {
		return nil, errors.New("empty ICS body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		appLog.Error("ics parse failed", err, "id", src.ID, "url", appLog.RedactURL(src.URL))
		return nil, err
	}

	calName := src.Name
	for _, p := range cal.CalendarProperties {
		if strings.EqualFold(p.IANAToken, "X-WR-CALNAME") && strings.TrimSpace(p.Value) != "" {
			calName = strings.TrimSpace(p.Value)
			break
		}
	}

	events := make([]ParsedEvent, 0)

	for _, comp := range cal.Events() {
		ev, perr := parseVEvent(src, comp)
		if perr != nil {
			// Log and skip this event, but keep parsing others.
			appLog.Error("ics vevent parse failed", perr, "id", src.ID, "url", appLog.RedactURL(src.URL))
			continue
		}
		ev.CalendarName = calName
		events = append(events, ev)
	}

	appLog.Debug("ics parse completed", "id", src.ID, "event_count", len(events))
	return events, nil
}

func parseVEvent(src Source, ve *ical.VEvent) (ParsedEvent, error) {
	var out ParsedEvent
	out.Source = src

	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || uidProp.Value == "" {
		return out, errors.New("missing UID")
	}
	out.UID = uidProp.Value

	if seqProp := ve.GetProperty(ical.ComponentPropertySequence); seqProp != nil {
		if n, err := strconv.Atoi(strings.TrimSpace(seqProp.Value)); err == nil {
			out.Seq = n
		}
	}

	out.Status = propValue(ve, ical.ComponentPropertyStatus)
	out.Summary = propValue(ve, ical.ComponentPropertySummary)
	out.Description = propValue(ve, ical.ComponentPropertyDescription)
	out.Location = propValue(ve, ical.ComponentPropertyLocation)
	out.URL = propValue(ve, "URL")

	// Google exports the Meet link as X-GOOGLE-CONFERENCE; RFC 7986 feeds
	// use CONFERENCE.
	out.Conference = propValue(ve, "X-GOOGLE-CONFERENCE")
	if out.Conference == "" {
		out.Conference = propValue(ve, "CONFERENCE")
	}

	if p := ve.GetProperty(ical.ComponentPropertyOrganizer); p != nil {
		out.OrganizerName = param(p.ICalParameters, "CN")
		out.OrganizerEmail = mailto(p.Value)
	}
	for _, p := range ve.GetProperties(ical.ComponentPropertyAttendee) {
		out.Attendees = append(out.Attendees, model.Attendee{
			Name:  param(p.ICalParameters, "CN"),
			Email: mailto(p.Value),
		})
	}

	start, err := ve.GetStartAt()
	if err != nil {
		return out, err
	}
	out.Start = start

	allDay := false
	if dtStartProp := ve.GetProperty(ical.ComponentPropertyDtStart); dtStartProp != nil {
		if strings.EqualFold(param(dtStartProp.ICalParameters, "VALUE"), "DATE") {
			allDay = true
		}
		if !strings.Contains(dtStartProp.Value, "T") {
			allDay = true
		}
	}
	out.AllDay = allDay

	end, err := ve.GetEndAt()
	switch {
	case err == nil && !end.IsZero():
		out.End = end
	case propValue(ve, "DURATION") != "":
		out.End, err = addICSDuration(start, propValue(ve, "DURATION"))
		if err != nil {
			return out, err
		}
	case allDay:
		out.End = start.AddDate(0, 0, 1)
	default:
		out.End = start
	}

	if rruleProp := ve.GetProperty(ical.ComponentPropertyRrule); rruleProp != nil {
		out.RawRRule = rruleProp.Value
	}

	// EXDATE can appear multiple times, each with a comma separated list.
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		tzid := param(p.ICalParameters, "TZID")
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if t, err := parseICSTime(part, tzid, start.Location()); err == nil {
				out.ExDates = append(out.ExDates, t)
			}
		}
	}

	if ridProp := ve.GetProperty("RECURRENCE-ID"); ridProp != nil {
		tzid := param(ridProp.ICalParameters, "TZID")
		if t, err := parseICSTime(ridProp.Value, tzid, start.Location()); err == nil {
			out.Recurrence = &t
			out.IsOverride = true
		}
	}

	return out, nil
}

func propValue(ve *ical.VEvent, name ical.ComponentProperty) string {
	if p := ve.GetProperty(name); p != nil {
		return strings.TrimSpace(p.Value)
	}
	return ""
}

func param(params map[string][]string, key string) string {
	if vs, ok := params[key]; ok && len(vs) > 0 {
		return strings.Trim(vs[0], `"`)
	}
	return ""
}

func mailto(v string) string {
	v = strings.TrimSpace(v)
	if len(v) >= 7 && strings.EqualFold(v[:7], "mailto:") {
		return v[7:]
	}
	return v
}

// parseICSTime parses a basic ICS date/date-time string. Floating values are
// read in the TZID location when one is given and loadable, otherwise in
// fallback.
func parseICSTime(v, tzid string, fallback *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}

	// UTC form, e.g., 20250101T090000Z
	if strings.HasSuffix(v, "Z") {
		const layout = "20060102T150405Z"
		return time.Parse(layout, v)
	}

	loc := fallback
	if loc == nil {
		loc = time.Local
	}
	if tzid != "" {
		if l, err := time.LoadLocation(tzid); err == nil {
			loc = l
		}
	}

	// Local date-time, e.g., 20250101T090000
	if strings.Contains(v, "T") {
		const layout = "20060102T150405"
		return time.ParseInLocation(layout, v, loc)
	}

	// Date-only (all-day), e.g., 20250101
	const layoutDate = "20060102"
	return time.ParseInLocation(layoutDate, v, loc)
}

// addICSDuration adds an RFC 5545 DURATION value such as "PT1H30M", "P1D"
// or "P2W" to t. Days and weeks are calendar days, not 24h blocks.
func addICSDuration(t time.Time, v string) (time.Time, error) {
	s := strings.ToUpper(strings.TrimSpace(v))
	sign := 1
	switch {
	case strings.HasPrefix(s, "-"):
		sign = -1
		s = s[1:]
	case strings.HasPrefix(s, "+"):
		s = s[1:]
	}
	if !strings.HasPrefix(s, "P") || len(s) < 3 {
		return t, fmt.Errorf("invalid duration %q", v)
	}
	s = s[1:]

	var days int
	var clock time.Duration
	inTime := false
	num := ""
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			num += string(r)
			continue
		case r == 'T' && !inTime && num == "":
			inTime = true
			continue
		}
		if num == "" {
			return t, fmt.Errorf("invalid duration %q", v)
		}
		n, err := strconv.Atoi(num)
		if err != nil {
			return t, fmt.Errorf("invalid duration %q: %w", v, err)
		}
		num = ""
		switch {
		case r == 'W' && !inTime:
			days += 7 * n
		case r == 'D' && !inTime:
			days += n
		case r == 'H' && inTime:
			clock += time.Duration(n) * time.Hour
		case r == 'M' && inTime:
			clock += time.Duration(n) * time.Minute
		case r == 'S' && inTime:
			clock += time.Duration(n) * time.Second
		default:
			return t, fmt.Errorf("invalid duration %q", v)
		}
	}
	if num != "" {
		return t, fmt.Errorf("invalid duration %q", v)
	}
	return t.AddDate(0, 0, sign*days).Add(time.Duration(sign) * clock), nil
}
