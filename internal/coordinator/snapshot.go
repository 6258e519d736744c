package coordinator

import (
	"time"

	"github.com/samber/lo"

	"nextmeet/internal/model"
)

// Snapshot is a consistent view of the coordinator's observable state.
// Meetings is shared between observers and must not be modified.
type Snapshot struct {
	Authorization      model.AuthorizationState `json:"authorization"`
	Meetings           []model.Meeting          `json:"meetings"`
	LastRefresh        time.Time                `json:"last_refresh,omitzero"`
	Refreshing         bool                     `json:"refreshing"`
	AutoRefreshEnabled bool                     `json:"auto_refresh_enabled"`
	AutoRefreshArmed   bool                     `json:"auto_refresh_armed"`

	loc *time.Location
}

// Yesterday returns the meetings starting on the calendar day before now.
func (s Snapshot) Yesterday(now time.Time) []model.Meeting {
	return s.onDay(now, -1)
}

// Today returns the meetings starting on now's calendar day.
func (s Snapshot) Today(now time.Time) []model.Meeting {
	return s.onDay(now, 0)
}

// Tomorrow returns the meetings starting on the calendar day after now.
func (s Snapshot) Tomorrow(now time.Time) []model.Meeting {
	return s.onDay(now, 1)
}

func (s Snapshot) onDay(now time.Time, offset int) []model.Meeting {
	loc := s.loc
	if loc == nil {
		loc = now.Location()
	}
	y, m, d := now.In(loc).AddDate(0, 0, offset).Date()
	return lo.Filter(s.Meetings, func(mt model.Meeting, _ int) bool {
		my, mm, md := mt.Start.In(loc).Date()
		return my == y && mm == m && md == d
	})
}

// StartOfDay returns local midnight of t's calendar day in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// RefreshWindow returns [startOfToday-1d, startOfToday+2d) for now in loc,
// covering yesterday through tomorrow.
func RefreshWindow(now time.Time, loc *time.Location) (time.Time, time.Time) {
	if loc == nil {
		loc = now.Location()
	}
	today := StartOfDay(now, loc)
	return today.AddDate(0, 0, -1), today.AddDate(0, 0, 2)
}
