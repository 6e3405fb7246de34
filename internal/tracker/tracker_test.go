package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"usage-telemetry-agent/internal/model"
	"usage-telemetry-agent/internal/observer"
	"usage-telemetry-agent/internal/store"
)

const testUser = "default_user"

// stubObserver returns a settable foreground app.
type stubObserver struct {
	mu  sync.Mutex
	app *observer.AppInfo
	err error
}

func (s *stubObserver) Query(ctx context.Context, windowStart, windowEnd int64) (*observer.AppInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.app, s.err
}

func (s *stubObserver) set(app *observer.AppInfo, err error) {
	s.mu.Lock()
	s.app = app
	s.err = err
	s.mu.Unlock()
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	dsn := fmt.Sprintf("file:trackertest%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.UsageRecord{}))
	return store.NewGormStore(db)
}

func newTestTracker(t *testing.T, cfg Config) (*SessionTracker, *stubObserver, store.Store) {
	t.Helper()
	st := newTestStore(t)
	obs := &stubObserver{}
	trk := New(cfg, st, obs, observer.StaticSnapshot(observer.Snapshot{NetworkType: "wifi"}), zerolog.Nop())
	return trk, obs, st
}

func TestTick_OpensSession(t *testing.T) {
	ctx := context.Background()
	trk, obs, st := newTestTracker(t, Config{})
	obs.set(&observer.AppInfo{Package: "com.facebook.katana", Name: "Facebook"}, nil)

	now := time.Now()
	require.NoError(t, trk.tick(ctx, testUser, "session_1", now))

	status := trk.Status()
	assert.Equal(t, 1, status.ActiveSessions)
	assert.Equal(t, "com.facebook.katana", status.CurrentApp)

	records, err := st.QueryActive(ctx, testUser)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "com.facebook.katana", records[0].AppPackage)
	assert.Equal(t, "Facebook", records[0].AppName)
	assert.Equal(t, "Social", records[0].AppCategory)
	assert.Equal(t, "wifi", records[0].NetworkType)
	assert.Equal(t, "session_1", records[0].SessionID)
	assert.True(t, records[0].IsActive)
	assert.Zero(t, records[0].Duration)
}

func TestTick_SameAppIsIdempotent(t *testing.T) {
	ctx := context.Background()
	trk, obs, st := newTestTracker(t, Config{})
	obs.set(&observer.AppInfo{Package: "com.example.app"}, nil)

	now := time.Now()
	require.NoError(t, trk.tick(ctx, testUser, "session_1", now))
	require.NoError(t, trk.tick(ctx, testUser, "session_1", now.Add(10*time.Second)))

	count, err := st.CountByUser(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	assert.Equal(t, 1, trk.Status().ActiveSessions)
}

func TestTick_AppSwitchClosesPrevious(t *testing.T) {
	ctx := context.Background()
	trk, obs, st := newTestTracker(t, Config{})

	start := time.Now()
	obs.set(&observer.AppInfo{Package: "com.example.first"}, nil)
	require.NoError(t, trk.tick(ctx, testUser, "session_1", start))

	obs.set(&observer.AppInfo{Package: "com.example.second"}, nil)
	require.NoError(t, trk.tick(ctx, testUser, "session_1", start.Add(5*time.Second)))

	records, err := st.QueryByUser(ctx, testUser)
	require.NoError(t, err)
	require.Len(t, records, 2)

	byPkg := map[string]model.UsageRecord{}
	for _, rec := range records {
		byPkg[rec.AppPackage] = rec
	}

	first := byPkg["com.example.first"]
	assert.False(t, first.IsActive)
	assert.Equal(t, int64(5000), first.Duration)

	second := byPkg["com.example.second"]
	assert.True(t, second.IsActive)

	status := trk.Status()
	assert.Equal(t, 1, status.ActiveSessions)
	assert.Equal(t, "com.example.second", status.CurrentApp)
}

func TestTick_NoForegroundClosesAll(t *testing.T) {
	ctx := context.Background()
	trk, obs, st := newTestTracker(t, Config{})

	start := time.Now()
	obs.set(&observer.AppInfo{Package: "com.example.app"}, nil)
	require.NoError(t, trk.tick(ctx, testUser, "session_1", start))

	obs.set(nil, nil)
	require.NoError(t, trk.tick(ctx, testUser, "session_1", start.Add(3*time.Second)))

	assert.Zero(t, trk.Status().ActiveSessions)

	records, err := st.QueryByUser(ctx, testUser)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.False(t, records[0].IsActive)
	assert.Equal(t, int64(3000), records[0].Duration)
}

func TestTick_FilteredPackagesCloseWithoutOpening(t *testing.T) {
	testCases := []struct {
		name string
		pkg  string
	}{
		{"launcher", "com.google.android.apps.nexuslauncher"},
		{"self", "com.example.agent"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			trk, obs, st := newTestTracker(t, Config{
				SelfPackage:      "com.example.agent",
				LauncherPatterns: []string{"launcher"},
			})

			start := time.Now()
			obs.set(&observer.AppInfo{Package: "com.example.app"}, nil)
			require.NoError(t, trk.tick(ctx, testUser, "session_1", start))

			obs.set(&observer.AppInfo{Package: tc.pkg}, nil)
			require.NoError(t, trk.tick(ctx, testUser, "session_1", start.Add(2*time.Second)))

			// The previous session closed and the filtered package never opened.
			assert.Zero(t, trk.Status().ActiveSessions)
			count, err := st.CountByUser(ctx, testUser)
			require.NoError(t, err)
			assert.Equal(t, int64(1), count)
		})
	}
}

func TestTick_ObserverErrorKeepsSessions(t *testing.T) {
	ctx := context.Background()
	trk, obs, _ := newTestTracker(t, Config{})

	obs.set(&observer.AppInfo{Package: "com.example.app"}, nil)
	require.NoError(t, trk.tick(ctx, testUser, "session_1", time.Now()))

	obs.set(nil, errors.New("observer unavailable"))
	err := trk.tick(ctx, testUser, "session_1", time.Now())

	assert.Error(t, err)
	assert.Equal(t, 1, trk.Status().ActiveSessions, "a failed tick must not close sessions")
}

func TestCloseSession_ZeroDurationDropped(t *testing.T) {
	ctx := context.Background()
	trk, obs, st := newTestTracker(t, Config{})

	now := time.Now()
	obs.set(&observer.AppInfo{Package: "com.example.app"}, nil)
	require.NoError(t, trk.tick(ctx, testUser, "session_1", now))

	// Closed at the same instant it opened: no closed record is produced.
	trk.closeSession(ctx, "com.example.app", now)

	assert.Zero(t, trk.Status().ActiveSessions)

	records, err := st.QueryByUser(ctx, testUser)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, records[0].IsActive, "the open record is left as-is, not closed")
}

func TestCloseSession_NegativeDurationAborts(t *testing.T) {
	ctx := context.Background()
	trk, obs, st := newTestTracker(t, Config{})

	now := time.Now()
	obs.set(&observer.AppInfo{Package: "com.example.app"}, nil)
	require.NoError(t, trk.tick(ctx, testUser, "session_1", now))

	trk.closeSession(ctx, "com.example.app", now.Add(-time.Second))

	// Clock went backwards: both the session and the record stay untouched.
	assert.Equal(t, 1, trk.Status().ActiveSessions)
	records, err := st.QueryActive(ctx, testUser)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestCloseSession_BelowMinimumDiscarded(t *testing.T) {
	ctx := context.Background()
	trk, obs, st := newTestTracker(t, Config{MinDurationMillis: 5000})

	now := time.Now()
	obs.set(&observer.AppInfo{Package: "com.example.app"}, nil)
	require.NoError(t, trk.tick(ctx, testUser, "session_1", now))

	trk.closeSession(ctx, "com.example.app", now.Add(2*time.Second))

	assert.Zero(t, trk.Status().ActiveSessions)
	count, err := st.CountByUser(ctx, testUser)
	require.NoError(t, err)
	assert.Zero(t, count, "sessions below the minimum leave no record behind")
}

func TestStartTracking_DiscardsOrphans(t *testing.T) {
	ctx := context.Background()
	trk, obs, st := newTestTracker(t, Config{Interval: time.Hour})
	obs.set(nil, nil)

	orphan := model.UsageRecord{
		UserID: testUser, SessionID: "session_0", AppPackage: "com.example.stale",
		StartTime: time.Now().Add(-time.Hour), IsActive: true,
	}
	_, err := st.InsertRecord(ctx, &orphan)
	require.NoError(t, err)

	require.NoError(t, trk.StartTracking(ctx, testUser))
	defer trk.StopTracking(ctx)

	count, err := st.CountByUser(ctx, testUser)
	require.NoError(t, err)
	assert.Zero(t, count, "records left open by a previous run are discarded")
}

func TestStartTracking_KeepPolicy(t *testing.T) {
	ctx := context.Background()
	trk, obs, st := newTestTracker(t, Config{Interval: time.Hour, OrphanPolicy: OrphanKeep})
	obs.set(nil, nil)

	orphan := model.UsageRecord{
		UserID: testUser, SessionID: "session_0", AppPackage: "com.example.stale",
		StartTime: time.Now().Add(-time.Hour), IsActive: true,
	}
	_, err := st.InsertRecord(ctx, &orphan)
	require.NoError(t, err)

	require.NoError(t, trk.StartTracking(ctx, testUser))
	defer trk.StopTracking(ctx)

	count, err := st.CountByUser(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestStartTracking_Idempotent(t *testing.T) {
	ctx := context.Background()
	trk, obs, _ := newTestTracker(t, Config{Interval: time.Hour})
	obs.set(nil, nil)

	require.NoError(t, trk.StartTracking(ctx, testUser))
	defer trk.StopTracking(ctx)

	first := trk.Status().SessionID
	require.NotEmpty(t, first)

	// A second start while running changes nothing.
	require.NoError(t, trk.StartTracking(ctx, testUser))
	assert.Equal(t, first, trk.Status().SessionID)
}

func TestStopTracking_ClosesOpenSessions(t *testing.T) {
	ctx := context.Background()
	trk, obs, st := newTestTracker(t, Config{Interval: 20 * time.Millisecond})
	obs.set(&observer.AppInfo{Package: "com.example.app"}, nil)

	require.NoError(t, trk.StartTracking(ctx, testUser))

	require.Eventually(t, func() bool {
		return trk.Status().ActiveSessions == 1
	}, time.Second, 5*time.Millisecond)

	// Give the session measurable duration before stopping.
	time.Sleep(20 * time.Millisecond)
	trk.StopTracking(ctx)

	status := trk.Status()
	assert.False(t, status.Tracking)
	assert.Zero(t, status.ActiveSessions)

	records, err := st.QueryActive(ctx, testUser)
	require.NoError(t, err)
	assert.Empty(t, records, "no record stays open after a clean stop")

	// Stopping again is a no-op.
	trk.StopTracking(ctx)
}

func TestEnsureTrackingActive(t *testing.T) {
	ctx := context.Background()
	trk, obs, _ := newTestTracker(t, Config{Interval: time.Hour})
	obs.set(nil, nil)

	require.NoError(t, trk.EnsureTrackingActive(ctx, testUser))
	assert.True(t, trk.Status().Tracking)
	defer trk.StopTracking(ctx)

	// Running loop: the call is a no-op.
	id := trk.Status().SessionID
	require.NoError(t, trk.EnsureTrackingActive(ctx, testUser))
	assert.Equal(t, id, trk.Status().SessionID)
}

func TestNewSessionID_Format(t *testing.T) {
	id := newSessionID()
	assert.Regexp(t, `^session_\d+_[0-9a-f]{8}$`, id)
	assert.NotEqual(t, id, newSessionID())
}
