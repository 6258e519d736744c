package coordinator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nextmeet/internal/model"
)

func TestRefreshWindow(t *testing.T) {
	start, end := RefreshWindow(testNow(), testLoc)
	assert.Equal(t, time.Date(2024, 3, 14, 0, 0, 0, 0, testLoc), start)
	assert.Equal(t, time.Date(2024, 3, 17, 0, 0, 0, 0, testLoc), end)

	// "now" given in another zone still anchors at the display location.
	start, _ = RefreshWindow(time.Date(2024, 3, 15, 2, 0, 0, 0, time.UTC), testLoc)
	assert.Equal(t, time.Date(2024, 3, 13, 0, 0, 0, 0, testLoc), start)
}

func TestRefreshWindowAcrossDST(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("tzdata unavailable")
	}
	start, end := RefreshWindow(time.Date(2024, 3, 10, 12, 0, 0, 0, ny), ny)
	assert.Equal(t, time.Date(2024, 3, 9, 0, 0, 0, 0, ny), start)
	assert.Equal(t, time.Date(2024, 3, 12, 0, 0, 0, 0, ny), end)
	assert.Equal(t, 71*time.Hour, end.Sub(start))
}

func TestSnapshotDaySlices(t *testing.T) {
	mk := func(id string, start time.Time) model.Meeting {
		return model.Meeting{ID: id, Start: start, End: start.Add(time.Hour)}
	}
	s := Snapshot{
		Meetings: []model.Meeting{
			mk("y", time.Date(2024, 3, 14, 23, 30, 0, 0, testLoc)),
			mk("t1", time.Date(2024, 3, 15, 0, 0, 0, 0, testLoc)),
			mk("t2", time.Date(2024, 3, 15, 23, 59, 0, 0, testLoc)),
			mk("tm", time.Date(2024, 3, 16, 8, 0, 0, 0, testLoc)),
			// 2024-03-16 03:00 UTC is still the 15th in testLoc.
			mk("t3", time.Date(2024, 3, 16, 3, 0, 0, 0, time.UTC)),
		},
		loc: testLoc,
	}

	ids := func(ms []model.Meeting) []string {
		out := make([]string, 0, len(ms))
		for _, m := range ms {
			out = append(out, m.ID)
		}
		return out
	}

	now := testNow()
	assert.Equal(t, []string{"y"}, ids(s.Yesterday(now)))
	assert.Equal(t, []string{"t1", "t2", "t3"}, ids(s.Today(now)))
	assert.Equal(t, []string{"tm"}, ids(s.Tomorrow(now)))

	total := len(s.Yesterday(now)) + len(s.Today(now)) + len(s.Tomorrow(now))
	require.Equal(t, len(s.Meetings), total)
}
