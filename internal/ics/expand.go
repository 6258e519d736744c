package ics

import (
	"errors"
	"time"

	"github.com/teambition/rrule-go"

	appLog "nextmeet/internal/log"
	"nextmeet/internal/model"
)

const (
	defaultMaxOccurrencesPerEvent = 5000
)

// ExpandConfig controls how recurrence expansion is performed.
type ExpandConfig struct {
	// DisplayLocation is the timezone to which all occurrences will be converted.
	// If nil, time.Local is used.
	DisplayLocation *time.Location

	// RangeStart / RangeEnd define the half-open window [RangeStart, RangeEnd)
	// an occurrence must intersect.
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerEvent is a safety cap to avoid infinite or extremely
	// large expansions. If zero, defaultMaxOccurrencesPerEvent is used.
	MaxOccurrencesPerEvent int
}

// ExpandResult wraps the list of expanded events and optionally
// information about truncation.
type ExpandResult struct {
	Events []model.RawEvent
	// TruncatedEvents records UIDs that hit the MaxOccurrencesPerEvent cap.
	TruncatedEvents []string
}

type uidKey struct {
	source string
	uid    string
}

// ExpandOccurrences takes a list of ParsedEvent (typically for one or more ICS
// sources) and expands them into concrete raw events within the given time
// range. It handles:
//
//   - Single non-recurring events
//   - RRULE-based recurrence (DAILY/WEEKLY/MONTHLY/YEARLY, etc.)
//   - EXDATE for exception removal
//   - RECURRENCE-ID overrides
//   - STATUS:CANCELLED on base events and overrides
//
// Output order follows the first appearance of each UID in events, then
// occurrence start within a UID.
func ExpandOccurrences(events []ParsedEvent, cfg ExpandConfig) (ExpandResult, error) {
	var result ExpandResult

	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return result, errors.New("expand: RangeEnd is before RangeStart")
	}
	if cfg.DisplayLocation == nil {
		cfg.DisplayLocation = time.Local
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	// Group base events and overrides by source and UID.
	var order []uidKey
	baseByUID := make(map[uidKey][]ParsedEvent)
	overridesByUID := make(map[uidKey][]ParsedEvent)

	for _, ev := range events {
		k := uidKey{source: ev.Source.ID, uid: ev.UID}
		if ev.IsOverride && ev.Recurrence != nil {
			overridesByUID[k] = append(overridesByUID[k], ev)
			continue
		}
		if _, seen := baseByUID[k]; !seen {
			order = append(order, k)
		}
		baseByUID[k] = append(baseByUID[k], ev)
	}

	out := make([]model.RawEvent, 0)

	for _, k := range order {
		ov := overridesByUID[k]
		truncated := false

		for _, ev := range baseByUID[k] {
			if ev.Cancelled() {
				continue
			}
			occ, hitCap := expandEvent(ev, ov, cfg)
			if hitCap {
				truncated = true
			}
			out = append(out, occ...)
		}

		if truncated {
			result.TruncatedEvents = append(result.TruncatedEvents, k.uid)
			appLog.Error("expand: truncated occurrences for UID due to cap",
				errors.New("max occurrences reached"),
				"uid", k.uid,
				"cap", cfg.MaxOccurrencesPerEvent,
			)
		}
	}

	result.Events = out
	return result, nil
}

func expandEvent(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) ([]model.RawEvent, bool) {
	if ev.RawRRule == "" {
		return expandSingleEvent(ev, cfg), false
	}
	return expandRecurringEvent(ev, overrides, cfg)
}

func expandSingleEvent(ev ParsedEvent, cfg ExpandConfig) []model.RawEvent {
	if !overlaps(ev.Start, ev.End, cfg.RangeStart, cfg.RangeEnd) {
		return nil
	}
	return []model.RawEvent{makeRawEvent(ev, ev.Start, ev.End, "", cfg.DisplayLocation)}
}

func expandRecurringEvent(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) ([]model.RawEvent, bool) {
	out := make([]model.RawEvent, 0)
	hitCap := false

	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		appLog.Error("expand: failed to parse RRULE", err, "uid", ev.UID, "rrule", ev.RawRRule)
		return out, false
	}

	// Ensure Dtstart is set to the event's DTSTART.
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)

	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	// Occurrences that started before the window may still run into it.
	dur := ev.End.Sub(ev.Start)
	if dur < 0 {
		dur = 0
	}
	loc := ev.Start.Location()
	occTimes := set.Between(cfg.RangeStart.Add(-dur).In(loc), cfg.RangeEnd.In(loc), true)

	if len(occTimes) > cfg.MaxOccurrencesPerEvent {
		occTimes = occTimes[:cfg.MaxOccurrencesPerEvent]
		hitCap = true
	}

	for _, occStart := range occTimes {
		var occEnd time.Time
		if ev.AllDay {
			date := time.Date(occStart.Year(), occStart.Month(), occStart.Day(), 0, 0, 0, 0, occStart.Location())
			occStart = date
			occEnd = date.AddDate(0, 0, 1)
		} else {
			occEnd = occStart.Add(dur)
		}

		instance := occStart.UTC().Format("20060102T150405Z")
		base := ev
		if o, ok := findOverrideForStart(overrides, occStart); ok {
			if o.Cancelled() {
				continue
			}
			base = o
			occStart = o.Start
			occEnd = o.End
		}

		if !overlaps(occStart, occEnd, cfg.RangeStart, cfg.RangeEnd) {
			continue
		}
		out = append(out, makeRawEvent(base, occStart, occEnd, instance, cfg.DisplayLocation))
	}

	return out, hitCap
}

// findOverrideForStart finds an override event whose RECURRENCE-ID matches
// the given occurrence start with exact time equality.
func findOverrideForStart(overrides []ParsedEvent, occStart time.Time) (ParsedEvent, bool) {
	for _, ov := range overrides {
		if ov.Recurrence != nil && ov.Recurrence.Equal(occStart) {
			return ov, true
		}
	}
	return ParsedEvent{}, false
}

// makeRawEvent converts a (possibly overridden) ParsedEvent plus a concrete
// start/end into a model.RawEvent normalized into displayLoc. Recurring
// instances get the UID suffixed with the original instance start so every
// occurrence has a distinct event ID.
func makeRawEvent(ev ParsedEvent, start, end time.Time, instance string, displayLoc *time.Location) model.RawEvent {
	id := ev.UID
	if instance != "" {
		id = ev.UID + "/" + instance
	}

	var attendees []model.Attendee
	if len(ev.Attendees) > 0 {
		attendees = append(attendees, ev.Attendees...)
	}

	return model.RawEvent{
		ID:                   id,
		Title:                ev.Summary,
		Start:                start.In(displayLoc),
		End:                  end.In(displayLoc),
		OrganizerName:        ev.OrganizerName,
		OrganizerEmail:       ev.OrganizerEmail,
		AttendeeCount:        len(attendees),
		Attendees:            attendees,
		CalendarName:         ev.CalendarName,
		VirtualConferenceURL: ev.Conference,
		URL:                  ev.URL,
		Location:             ev.Location,
		Notes:                ev.Description,
	}
}

// overlaps reports whether [aStart, aEnd) intersects [bStart, bEnd).
// Zero-length events count when their instant lies inside the window.
func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	if !aStart.Before(bEnd) {
		return false
	}
	if aEnd.After(bStart) {
		return true
	}
	return !aEnd.After(aStart) && !aStart.Before(bStart)
}
