package tracker

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"usage-telemetry-agent/internal/classify"
	"usage-telemetry-agent/internal/model"
	"usage-telemetry-agent/internal/observer"
	"usage-telemetry-agent/internal/store"
)

// Orphan policies applied to records left open by an earlier process.
const (
	OrphanDiscard = "discard"
	OrphanKeep    = "keep"
)

// Config tunes the polling state machine.
type Config struct {
	// Poll interval.
	Interval time.Duration
	// Trailing observation window handed to the foreground observer.
	Window time.Duration
	// Delay used instead of Interval once BackoffThreshold is exceeded.
	Backoff time.Duration
	// Consecutive tick failures tolerated before backing off.
	BackoffThreshold int
	// Sessions shorter than this are dropped at close. Zero-length sessions
	// are always dropped.
	MinDurationMillis int64
	// The agent's own package id, never tracked.
	SelfPackage string
	// Launcher/home-screen package patterns, never tracked.
	LauncherPatterns []string
	// OrphanDiscard or OrphanKeep.
	OrphanPolicy string
}

// activeSession is the in-memory view of one open UsageRecord. Keyed by app
// package; owned exclusively by the polling loop.
type activeSession struct {
	userID     string
	sessionID  string
	appPackage string
	appName    string
	startTime  time.Time
	storeID    int64
}

// Status is the read-only view exposed to external callers.
type Status struct {
	Tracking       bool   `json:"tracking"`
	SessionID      string `json:"sessionId,omitempty"`
	ActiveSessions int    `json:"activeSessions"`
	CurrentApp     string `json:"currentApp,omitempty"`
}

// SessionTracker polls the foreground observer on a fixed interval and drives
// each tracked application package through NONE → OPEN → CLOSED, persisting
// the transitions in the usage record store.
type SessionTracker struct {
	cfg   Config
	store store.Store
	obs   observer.ForegroundObserver
	snap  observer.ContextSnapshot
	log   zerolog.Logger

	mu        sync.Mutex
	sessions  map[string]*activeSession
	running   bool
	userID    string
	sessionID string
	cancel    context.CancelFunc
	done      chan struct{}
}

// New creates a session tracker. snap may be nil when the host has no device
// context probes.
func New(cfg Config, s store.Store, obs observer.ForegroundObserver, snap observer.ContextSnapshot, log zerolog.Logger) *SessionTracker {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 10 * time.Second
	}
	if cfg.BackoffThreshold <= 0 {
		cfg.BackoffThreshold = 5
	}
	if cfg.OrphanPolicy == "" {
		cfg.OrphanPolicy = OrphanDiscard
	}
	return &SessionTracker{
		cfg:      cfg,
		store:    s,
		obs:      obs,
		snap:     snap,
		log:      log.With().Str("component", "tracker").Logger(),
		sessions: make(map[string]*activeSession),
	}
}

// StartTracking begins the polling loop for the given user. Idempotent: a
// second call while the loop is running is a no-op. One session id is
// generated per tracking run.
func (t *SessionTracker) StartTracking(ctx context.Context, userID string) error {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return nil
	}

	sessionID := newSessionID()
	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	t.running = true
	t.userID = userID
	t.sessionID = sessionID
	t.cancel = cancel
	t.done = done
	t.mu.Unlock()

	if err := t.reconcileOrphans(ctx, userID); err != nil {
		t.log.Warn().Err(err).Msg("orphan reconciliation failed, continuing")
	}

	t.log.Info().Str("user", userID).Str("session", sessionID).Msg("tracking started")
	go t.loop(loopCtx, done, userID, sessionID)
	return nil
}

// StopTracking stops the polling loop and closes every open session. No
// further ticks run after it returns.
func (t *SessionTracker) StopTracking(ctx context.Context) {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	cancel := t.cancel
	done := t.done
	t.running = false
	t.cancel = nil
	t.done = nil
	t.mu.Unlock()

	cancel()
	<-done

	t.closeAll(ctx, time.Now())
	t.log.Info().Msg("tracking stopped")
}

// EnsureTrackingActive restarts the polling loop if it is not running.
// Hosts call this when the process regains full execution after external
// suspension (power management and the like).
func (t *SessionTracker) EnsureTrackingActive(ctx context.Context, userID string) error {
	t.mu.Lock()
	running := t.running
	t.mu.Unlock()
	if running {
		return nil
	}
	t.log.Warn().Msg("tracking loop not running, restarting")
	return t.StartTracking(ctx, userID)
}

// Status reports aggregate tracking state for diagnostics.
func (t *SessionTracker) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := Status{
		Tracking:       t.running,
		ActiveSessions: len(t.sessions),
	}
	if t.running {
		st.SessionID = t.sessionID
	}
	for pkg := range t.sessions {
		st.CurrentApp = pkg
	}
	return st
}

// loop drives ticks until the context is cancelled. Tick failures are counted
// and never terminate the loop; past the threshold the next delay switches to
// the backoff value until a tick succeeds again.
func (t *SessionTracker) loop(ctx context.Context, done chan<- struct{}, userID, sessionID string) {
	defer close(done)

	consecutiveErrors := 0
	if err := t.tick(ctx, userID, sessionID, time.Now()); err != nil && ctx.Err() == nil {
		consecutiveErrors++
		t.log.Error().Err(err).Msg("initial tick failed")
	}

	timer := time.NewTimer(t.cfg.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			if err := t.tick(ctx, userID, sessionID, time.Now()); err != nil {
				if ctx.Err() != nil {
					return
				}
				consecutiveErrors++
				t.log.Error().Err(err).Int("consecutive", consecutiveErrors).Msg("tick failed")
			} else {
				consecutiveErrors = 0
			}

			delay := t.cfg.Interval
			if consecutiveErrors > t.cfg.BackoffThreshold {
				t.log.Warn().Int("consecutive", consecutiveErrors).Dur("delay", t.cfg.Backoff).
					Msg("too many tick failures, backing off")
				delay = t.cfg.Backoff
			}
			timer.Reset(delay)
		}
	}
}

// tick resolves the current foreground app over the trailing window and
// applies the state machine: at most one package OPEN at a time, launcher and
// self packages force a close-all with no new open.
func (t *SessionTracker) tick(ctx context.Context, userID, sessionID string, now time.Time) error {
	windowStart := now.Add(-t.cfg.Window).UnixMilli()
	app, err := t.obs.Query(ctx, windowStart, now.UnixMilli())
	if err != nil {
		return fmt.Errorf("foreground query failed: %w", err)
	}

	if app == nil || app.Package == "" || t.isFiltered(app.Package) {
		t.closeAll(ctx, now)
		return nil
	}

	// Close every other open package before opening the new one, so at most
	// one record per user is ever open.
	t.mu.Lock()
	var others []string
	for pkg := range t.sessions {
		if pkg != app.Package {
			others = append(others, pkg)
		}
	}
	_, alreadyOpen := t.sessions[app.Package]
	t.mu.Unlock()

	for _, pkg := range others {
		t.closeSession(ctx, pkg, now)
	}

	if alreadyOpen {
		// Duration is computed at close; nothing to do while the app stays
		// in the foreground.
		return nil
	}

	return t.openSession(ctx, userID, sessionID, app, now)
}

// openSession inserts an open record and registers the in-memory session.
// An insert failure must not leave a phantom session behind.
func (t *SessionTracker) openSession(ctx context.Context, userID, sessionID string, app *observer.AppInfo, now time.Time) error {
	rec := &model.UsageRecord{
		UserID:      userID,
		SessionID:   sessionID,
		AppPackage:  app.Package,
		AppName:     app.Name,
		StartTime:   now,
		EndTime:     now,
		Duration:    0,
		IsActive:    true,
		IsSynced:    false,
		AppCategory: classify.Category(app.Package),
	}
	if t.snap != nil {
		snap := t.snap.Snapshot(ctx)
		rec.DeviceOrientation = snap.DeviceOrientation
		rec.BatteryLevel = snap.BatteryLevel
		rec.NetworkType = snap.NetworkType
	}

	id, err := t.store.InsertRecord(ctx, rec)
	if err != nil {
		return fmt.Errorf("failed to open session for %s: %w", app.Package, err)
	}

	t.mu.Lock()
	t.sessions[app.Package] = &activeSession{
		userID:     userID,
		sessionID:  sessionID,
		appPackage: app.Package,
		appName:    app.Name,
		startTime:  now,
		storeID:    id,
	}
	t.mu.Unlock()

	t.log.Debug().Str("app", app.Package).Int64("record", id).Msg("session opened")
	return nil
}

// closeSession transitions one open package to CLOSED.
//
// A negative duration signals a clock or state fault: the close is aborted
// and the record left untouched. A zero duration drops the session without
// persisting a closed record. A store failure on the close update still
// removes the in-memory session so the one-open-per-package invariant holds
// regardless of persistence outcome.
func (t *SessionTracker) closeSession(ctx context.Context, appPackage string, now time.Time) {
	t.mu.Lock()
	session, ok := t.sessions[appPackage]
	t.mu.Unlock()
	if !ok {
		return
	}

	duration := now.Sub(session.startTime).Milliseconds()

	if duration < 0 {
		t.log.Error().Str("app", appPackage).Int64("duration", duration).
			Msg("negative duration computed, aborting close")
		return
	}

	if duration == 0 {
		t.log.Debug().Str("app", appPackage).Msg("zero-duration session dropped")
		t.removeSession(appPackage)
		return
	}

	if t.cfg.MinDurationMillis > 0 && duration < t.cfg.MinDurationMillis {
		t.log.Debug().Str("app", appPackage).Int64("duration", duration).
			Msg("session below minimum duration, discarding")
		if err := t.store.DeleteRecords(ctx, []int64{session.storeID}); err != nil {
			t.log.Warn().Err(err).Int64("record", session.storeID).Msg("failed to discard short session")
		}
		t.removeSession(appPackage)
		return
	}

	if err := t.store.CloseRecord(ctx, session.storeID, now, duration); err != nil {
		t.log.Error().Err(err).Str("app", appPackage).Int64("record", session.storeID).
			Msg("failed to persist session close")
	} else {
		t.log.Debug().Str("app", appPackage).Int64("duration", duration).Msg("session closed")
	}
	t.removeSession(appPackage)
}

func (t *SessionTracker) removeSession(appPackage string) {
	t.mu.Lock()
	delete(t.sessions, appPackage)
	t.mu.Unlock()
}

func (t *SessionTracker) closeAll(ctx context.Context, now time.Time) {
	t.mu.Lock()
	pkgs := make([]string, 0, len(t.sessions))
	for pkg := range t.sessions {
		pkgs = append(pkgs, pkg)
	}
	t.mu.Unlock()

	for _, pkg := range pkgs {
		t.closeSession(ctx, pkg, now)
	}
}

func (t *SessionTracker) isFiltered(appPackage string) bool {
	if t.cfg.SelfPackage != "" && strings.EqualFold(appPackage, t.cfg.SelfPackage) {
		return true
	}
	return classify.IsLauncher(appPackage, t.cfg.LauncherPatterns)
}

// reconcileOrphans handles records left open by an earlier process. With the
// discard policy they are deleted outright; their true end time is unknowable
// and a guessed duration would poison the outbox.
func (t *SessionTracker) reconcileOrphans(ctx context.Context, userID string) error {
	if t.cfg.OrphanPolicy == OrphanKeep {
		return nil
	}

	orphans, err := t.store.QueryActive(ctx, userID)
	if err != nil {
		return err
	}
	if len(orphans) == 0 {
		return nil
	}

	ids := make([]int64, len(orphans))
	for i, rec := range orphans {
		ids[i] = rec.ID
	}
	if err := t.store.DeleteRecords(ctx, ids); err != nil {
		return err
	}
	t.log.Info().Int("count", len(ids)).Msg("discarded orphaned open records")
	return nil
}

func newSessionID() string {
	return fmt.Sprintf("session_%d_%s", time.Now().UnixMilli(), uuid.NewString()[:8])
}
