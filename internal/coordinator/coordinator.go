// Package coordinator keeps the published meeting list in sync with the
// calendar source. All state lives on a single owner goroutine started by
// Run; exported methods send commands to it.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"nextmeet/internal/calendar"
	"nextmeet/internal/lifecycle"
	appLog "nextmeet/internal/log"
	"nextmeet/internal/meeting"
	"nextmeet/internal/model"
)

// Refresh triggers, used in logs and metrics.
const (
	TriggerManual     = "manual"
	TriggerTimer      = "timer"
	TriggerWake       = "wake"
	TriggerForeground = "foreground"
	TriggerAccess     = "access"
)

// Options configures a Coordinator.
type Options struct {
	// Source is the calendar store. Required.
	Source calendar.Source
	// Timer drives auto-refresh. Defaults to NewCronTimer(DefaultInterval).
	Timer Timer
	// Location anchors the refresh window and day groupings. Defaults to time.Local.
	Location *time.Location
	// Now defaults to time.Now.
	Now func() time.Time
	// Builder maps raw events to meetings. The zero value assigns UUIDs.
	Builder meeting.Builder
	// AutoRefresh is the initial auto-refresh preference.
	AutoRefresh bool
	// Metrics may be nil.
	Metrics *Metrics
}

// state is owned by the Run goroutine.
type state struct {
	auth        model.AuthorizationState
	meetings    []model.Meeting
	lastRefresh time.Time
	refreshing  bool
	autoEnabled bool
	paused      bool
	timerArmed  bool
	waiters     []chan error
}

func (s *state) armed() bool {
	return s.autoEnabled && !s.paused
}

type refreshResult struct {
	trigger  string
	meetings []model.Meeting
	err      error
}

// Coordinator synchronizes meetings from a calendar.Source.
type Coordinator struct {
	src     calendar.Source
	timer   Timer
	loc     *time.Location
	now     func() time.Time
	builder meeting.Builder
	metrics *Metrics

	ops     chan func(context.Context)
	results chan refreshResult
	stopped chan struct{}
	running atomic.Bool

	st state

	subMu   sync.Mutex
	subs    map[int]chan Snapshot
	nextSub int
	latest  Snapshot
}

// New creates a Coordinator. The initial authorization is read from the
// source without prompting.
func New(opts Options) (*Coordinator, error) {
	if opts.Source == nil {
		return nil, errors.New("coordinator: source is required")
	}
	if opts.Timer == nil {
		opts.Timer = NewCronTimer(DefaultInterval)
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	c := &Coordinator{
		src:     opts.Source,
		timer:   opts.Timer,
		loc:     opts.Location,
		now:     opts.Now,
		builder: opts.Builder,
		metrics: opts.Metrics,
		ops:     make(chan func(context.Context)),
		results: make(chan refreshResult),
		stopped: make(chan struct{}),
		subs:    make(map[int]chan Snapshot),
	}
	c.st.auth = model.AuthState(opts.Source.AuthorizationStatus())
	c.st.meetings = []model.Meeting{}
	c.st.autoEnabled = opts.AutoRefresh
	c.latest = c.snapshot()
	return c, nil
}

// Run owns the coordinator state until ctx is done. It may be called once.
func (c *Coordinator) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return errors.New("coordinator: already running")
	}
	defer close(c.stopped)
	defer c.timer.Stop()

	c.syncTimer()
	appLog.Info("coordinator started", "auth", c.st.auth.String(), "auto_refresh", c.st.autoEnabled)

	for {
		select {
		case <-ctx.Done():
			for _, w := range c.st.waiters {
				w <- ErrStopped
			}
			appLog.Info("coordinator stopped")
			return nil
		case op := <-c.ops:
			op(ctx)
		case res := <-c.results:
			c.finishRefresh(res)
		}
	}
}

// exec runs fn on the owner goroutine and waits for it to return.
func (c *Coordinator) exec(ctx context.Context, fn func(context.Context)) error {
	done := make(chan struct{})
	op := func(runCtx context.Context) {
		defer close(done)
		fn(runCtx)
	}
	select {
	case c.ops <- op:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.stopped:
		return ErrStopped
	}
	<-done
	return nil
}

// Snapshot returns the current observable state.
func (c *Coordinator) Snapshot(ctx context.Context) (Snapshot, error) {
	var s Snapshot
	err := c.exec(ctx, func(context.Context) { s = c.snapshot() })
	return s, err
}

// Latest returns the most recently published snapshot without a round trip
// to the owner.
func (c *Coordinator) Latest() Snapshot {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	return c.latest
}

// Subscribe returns a channel that always holds the latest snapshot, and a
// function that cancels the subscription.
func (c *Coordinator) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	ch <- c.latest
	c.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.subMu.Lock()
			delete(c.subs, id)
			c.subMu.Unlock()
		})
	}
}

// RequestAccess asks the source for read access and records the outcome.
// A grant kicks off a background refresh.
func (c *Coordinator) RequestAccess(ctx context.Context) (model.AuthorizationState, error) {
	granted, err := c.src.RequestFullAccess(ctx)

	var next model.AuthorizationState
	switch {
	case err != nil:
		appLog.Error("calendar access request failed", err)
		next = model.AuthFailure(err.Error())
	case granted:
		next = model.AuthState(model.AuthFullAccess)
	default:
		status := c.src.AuthorizationStatus()
		if status == model.AuthUndetermined {
			status = model.AuthDenied
		}
		next = model.AuthState(status)
	}

	err = c.exec(ctx, func(runCtx context.Context) {
		c.st.auth = next
		c.publish()
		if next.AllowsRead() {
			c.kick(runCtx, TriggerAccess)
		}
	})
	return next, err
}

// RecheckAuthorization re-reads the source's status without prompting. If
// read access was just gained, a background refresh is started.
func (c *Coordinator) RecheckAuthorization(ctx context.Context) (model.AuthorizationState, error) {
	var out model.AuthorizationState
	err := c.exec(ctx, func(runCtx context.Context) {
		out = c.recheck(runCtx, TriggerForeground)
	})
	return out, err
}

func (c *Coordinator) recheck(ctx context.Context, trigger string) model.AuthorizationState {
	prev := c.st.auth
	next := model.AuthState(c.src.AuthorizationStatus())
	if next != prev {
		appLog.Info("calendar authorization changed", "from", prev.String(), "to", next.String())
		c.st.auth = next
		c.publish()
	}
	if next.AllowsRead() && !prev.AllowsRead() {
		c.kick(ctx, trigger)
	}
	return next
}

// Refresh fetches the refresh window and publishes the qualifying meetings.
// It fails with ErrAccessDenied without read access, ErrRefreshInProgress
// while another refresh runs, or a *FetchError. Returning because ctx ended
// does not cancel the refresh.
func (c *Coordinator) Refresh(ctx context.Context) error {
	done := make(chan error, 1)
	var startErr error
	err := c.exec(ctx, func(runCtx context.Context) {
		startErr = c.startRefresh(runCtx, TriggerManual, done)
	})
	if err != nil {
		return err
	}
	if startErr != nil {
		return startErr
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.stopped:
		return ErrStopped
	}
}

// ToggleAutoRefreshPreference flips the auto-refresh preference and clears
// any pause.
func (c *Coordinator) ToggleAutoRefreshPreference(ctx context.Context) (bool, error) {
	var enabled bool
	err := c.exec(ctx, func(context.Context) {
		c.st.autoEnabled = !c.st.autoEnabled
		c.st.paused = false
		enabled = c.st.autoEnabled
		appLog.Info("auto-refresh preference changed", "enabled", enabled)
		c.syncTimer()
		c.publish()
	})
	return enabled, err
}

// PauseAutoRefresh suspends the timer while the preference stays on.
func (c *Coordinator) PauseAutoRefresh(ctx context.Context) error {
	return c.exec(ctx, func(context.Context) { c.pause() })
}

// ResumeAutoRefresh re-arms a paused timer.
func (c *Coordinator) ResumeAutoRefresh(ctx context.Context) error {
	return c.exec(ctx, func(context.Context) { c.resume() })
}

func (c *Coordinator) pause() {
	if !c.st.autoEnabled || c.st.paused {
		return
	}
	c.st.paused = true
	c.syncTimer()
	c.publish()
}

func (c *Coordinator) resume() bool {
	if !c.st.autoEnabled || !c.st.paused {
		return false
	}
	c.st.paused = false
	c.syncTimer()
	c.publish()
	return true
}

// HandleLifecycle applies the host lifecycle policy: sleep pauses
// auto-refresh, wake resumes it and catches up, foreground re-checks
// authorization. Losing focus does not pause.
func (c *Coordinator) HandleLifecycle(ctx context.Context, ev lifecycle.Event) error {
	return c.exec(ctx, func(runCtx context.Context) {
		appLog.Debug("lifecycle event", "event", ev.String())
		switch ev {
		case lifecycle.Sleep:
			c.pause()
		case lifecycle.Wake:
			if c.resume() {
				c.kick(runCtx, TriggerWake)
			}
		case lifecycle.Foreground:
			c.recheck(runCtx, TriggerForeground)
		case lifecycle.Background:
		}
	})
}

// tick is the timer callback. It runs on the timer goroutine.
func (c *Coordinator) tick() {
	op := func(runCtx context.Context) {
		if !c.st.armed() {
			return
		}
		c.kick(runCtx, TriggerTimer)
	}
	select {
	case c.ops <- op:
	case <-c.stopped:
	}
}

// kick starts a refresh whose errors are only logged.
func (c *Coordinator) kick(ctx context.Context, trigger string) {
	if err := c.startRefresh(ctx, trigger, nil); err != nil {
		appLog.Debug("refresh skipped", "trigger", trigger, "reason", err.Error())
	}
}

// startRefresh validates preconditions, marks the coordinator as refreshing
// and fetches on a background goroutine. done, if non-nil, receives the
// outcome.
func (c *Coordinator) startRefresh(ctx context.Context, trigger string, done chan error) error {
	if !c.st.auth.AllowsRead() {
		c.metrics.attempt(trigger, "access_denied")
		return ErrAccessDenied
	}
	if c.st.refreshing {
		c.metrics.attempt(trigger, "busy")
		return ErrRefreshInProgress
	}

	c.st.refreshing = true
	if done != nil {
		c.st.waiters = append(c.st.waiters, done)
	}
	c.publish()

	start, end := RefreshWindow(c.now(), c.loc)
	appLog.Debug("refresh started", "trigger", trigger, "start", start, "end", end)

	go c.fetch(ctx, trigger, start, end)
	return nil
}

// fetch queries the source and hands the outcome back to the owner. The
// result is always delivered, even if the source panics.
func (c *Coordinator) fetch(ctx context.Context, trigger string, start, end time.Time) {
	res := refreshResult{trigger: trigger}
	began := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res.meetings = nil
			res.err = &FetchError{Err: fmt.Errorf("panic: %v", r)}
		}
		c.metrics.fetched(time.Since(began))
		select {
		case c.results <- res:
		case <-c.stopped:
		}
	}()

	events, err := c.src.FetchEvents(ctx, start, end)
	if err != nil {
		res.err = &FetchError{Err: err}
		return
	}
	res.meetings = c.buildMeetings(events)
}

func (c *Coordinator) buildMeetings(events []model.RawEvent) []model.Meeting {
	out := make([]model.Meeting, 0, len(events))
	for _, ev := range events {
		if m, ok := c.builder.Build(ev); ok {
			out = append(out, m)
		}
	}
	slices.SortStableFunc(out, func(a, b model.Meeting) int {
		return a.Start.Compare(b.Start)
	})
	return out
}

func (c *Coordinator) finishRefresh(res refreshResult) {
	c.st.refreshing = false
	if res.err != nil {
		c.metrics.attempt(res.trigger, "fetch_failed")
		appLog.Error("refresh failed", res.err, "trigger", res.trigger)
	} else {
		c.st.meetings = res.meetings
		c.st.lastRefresh = c.now()
		c.metrics.attempt(res.trigger, "ok")
		c.metrics.published(len(res.meetings))
		appLog.Info("refresh completed", "trigger", res.trigger, "meetings", len(res.meetings))
	}
	c.publish()

	for _, w := range c.st.waiters {
		w <- res.err
	}
	c.st.waiters = nil
}

func (c *Coordinator) syncTimer() {
	switch want := c.st.armed(); {
	case want && !c.st.timerArmed:
		c.timer.Arm(c.tick)
		c.st.timerArmed = true
	case !want && c.st.timerArmed:
		c.timer.Disarm()
		c.st.timerArmed = false
	}
}

func (c *Coordinator) snapshot() Snapshot {
	return Snapshot{
		Authorization:      c.st.auth,
		Meetings:           c.st.meetings,
		LastRefresh:        c.st.lastRefresh,
		Refreshing:         c.st.refreshing,
		AutoRefreshEnabled: c.st.autoEnabled,
		AutoRefreshArmed:   c.st.armed(),
		loc:                c.loc,
	}
}

// publish pushes the current snapshot to every subscriber, replacing any
// snapshot they have not consumed yet.
func (c *Coordinator) publish() {
	s := c.snapshot()
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.latest = s
	for _, ch := range c.subs {
		select {
		case <-ch:
		default:
		}
		ch <- s
	}
}
