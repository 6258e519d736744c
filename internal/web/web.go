package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"nextmeet/internal/config"
	"nextmeet/internal/coordinator"
	"nextmeet/internal/lifecycle"
	appLog "nextmeet/internal/log"
	"nextmeet/internal/model"
)

// Coordinator is the command and query surface the API exposes.
type Coordinator interface {
	Snapshot(ctx context.Context) (coordinator.Snapshot, error)
	RequestAccess(ctx context.Context) (model.AuthorizationState, error)
	Refresh(ctx context.Context) error
	ToggleAutoRefreshPreference(ctx context.Context) (bool, error)
	PauseAutoRefresh(ctx context.Context) error
	ResumeAutoRefresh(ctx context.Context) error
	HandleLifecycle(ctx context.Context, ev lifecycle.Event) error
}

// Options tunes a Server. Zero values pick defaults.
type Options struct {
	// Gatherer backs /metrics. Defaults to prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer
	// RefreshLimit bounds manual refreshes; RefreshBurst is the bucket size.
	RefreshLimit rate.Limit
	RefreshBurst int
	// Now defaults to time.Now.
	Now func() time.Time
}

// Server provides the HTTP API over a Coordinator.
type Server struct {
	cfg     *config.Config
	coord   Coordinator
	loc     *time.Location
	mux     *http.ServeMux
	limiter *rate.Limiter
	gather  prometheus.Gatherer
	now     func() time.Time
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, coord Coordinator, opts Options) *Server {
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if opts.RefreshLimit == 0 {
		opts.RefreshLimit = rate.Every(5 * time.Second)
	}
	if opts.RefreshBurst <= 0 {
		opts.RefreshBurst = 3
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	loc, err := cfg.Location()
	if err != nil {
		appLog.Error("failed to load timezone; falling back to local", err, "name", cfg.Timezone)
		loc = time.Local
	}

	s := &Server{
		cfg:     cfg,
		coord:   coord,
		loc:     loc,
		mux:     http.NewServeMux(),
		limiter: rate.NewLimiter(opts.RefreshLimit, opts.RefreshBurst),
		gather:  opts.Gatherer,
		now:     opts.Now,
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty credentials disable auth rather than locking everyone out.
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="nextmeet", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// ListenAndServe serves on cfg.Listen until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/meetings", s.handleMeetings)
	s.mux.HandleFunc("GET /api/meetings/next", s.handleNextMeeting)
	s.mux.HandleFunc("POST /api/access", s.handleAccess)
	s.mux.HandleFunc("POST /api/refresh", s.handleRefresh)
	s.mux.HandleFunc("POST /api/auto-refresh/toggle", s.handleToggle)
	s.mux.HandleFunc("POST /api/auto-refresh/pause", s.handlePause)
	s.mux.HandleFunc("POST /api/auto-refresh/resume", s.handleResume)
	s.mux.HandleFunc("POST /api/lifecycle/{event}", s.handleLifecycle)
	s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.gather, promhttp.HandlerOpts{}))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// meetingsResponse is the JSON response shape for /api/meetings.
type meetingsResponse struct {
	coordinator.Snapshot
	Yesterday       []model.Meeting `json:"yesterday"`
	Today           []model.Meeting `json:"today"`
	Tomorrow        []model.Meeting `json:"tomorrow"`
	DisplayTimeZone string          `json:"display_timezone"`
}

func (s *Server) meetingsResponse(snap coordinator.Snapshot) meetingsResponse {
	now := s.now()
	return meetingsResponse{
		Snapshot:        snap,
		Yesterday:       snap.Yesterday(now),
		Today:           snap.Today(now),
		Tomorrow:        snap.Tomorrow(now),
		DisplayTimeZone: s.loc.String(),
	}
}

func (s *Server) handleMeetings(w http.ResponseWriter, r *http.Request) {
	snap, err := s.coord.Snapshot(r.Context())
	if err != nil {
		s.writeCommandError(w, "snapshot", err)
		return
	}
	writeJSON(w, http.StatusOK, s.meetingsResponse(snap))
}

// handleNextMeeting returns the meeting in progress or the next one to
// start, or 204 when there is none.
func (s *Server) handleNextMeeting(w http.ResponseWriter, r *http.Request) {
	snap, err := s.coord.Snapshot(r.Context())
	if err != nil {
		s.writeCommandError(w, "snapshot", err)
		return
	}
	now := s.now()
	for _, m := range snap.Meetings {
		if m.InProgress(now) || m.Start.After(now) {
			writeJSON(w, http.StatusOK, m)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAccess(w http.ResponseWriter, r *http.Request) {
	st, err := s.coord.RequestAccess(r.Context())
	if err != nil {
		s.writeCommandError(w, "access", err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Authorization model.AuthorizationState `json:"authorization"`
	}{st})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow() {
		writeError(w, http.StatusTooManyRequests, "refresh rate limit exceeded")
		return
	}
	if err := s.coord.Refresh(r.Context()); err != nil {
		s.writeCommandError(w, "refresh", err)
		return
	}
	s.handleMeetings(w, r)
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	if _, err := s.coord.ToggleAutoRefreshPreference(r.Context()); err != nil {
		s.writeCommandError(w, "toggle auto-refresh", err)
		return
	}
	s.handleMeetings(w, r)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if err := s.coord.PauseAutoRefresh(r.Context()); err != nil {
		s.writeCommandError(w, "pause auto-refresh", err)
		return
	}
	s.handleMeetings(w, r)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if err := s.coord.ResumeAutoRefresh(r.Context()); err != nil {
		s.writeCommandError(w, "resume auto-refresh", err)
		return
	}
	s.handleMeetings(w, r)
}

func (s *Server) handleLifecycle(w http.ResponseWriter, r *http.Request) {
	ev, err := lifecycle.ParseEvent(r.PathValue("event"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.coord.HandleLifecycle(r.Context(), ev); err != nil {
		s.writeCommandError(w, "lifecycle", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeCommandError maps coordinator errors to HTTP statuses.
func (s *Server) writeCommandError(w http.ResponseWriter, op string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, coordinator.ErrAccessDenied):
		status = http.StatusForbidden
	case errors.Is(err, coordinator.ErrRefreshInProgress):
		status = http.StatusConflict
	case errors.Is(err, coordinator.ErrFetchFailed):
		status = http.StatusBadGateway
	case errors.Is(err, coordinator.ErrStopped),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		status = http.StatusServiceUnavailable
	}
	if status >= http.StatusInternalServerError {
		appLog.Error("api "+op+" failed", err)
	}
	writeError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
