package syncer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"usage-telemetry-agent/config"
	"usage-telemetry-agent/internal/collector"
	"usage-telemetry-agent/internal/model"
	"usage-telemetry-agent/internal/store"
)

var (
	// ErrNoIdentity is returned when no study identity is configured.
	ErrNoIdentity = errors.New("no study identity configured")

	// ErrSyncInFlight is returned when a sync pass is already running.
	ErrSyncInFlight = errors.New("sync already in progress")
)

// Result describes the outcome of one sync pass.
type Result struct {
	UserID    string
	Accepted  int
	Err       error
	At        time.Time
}

// Status is a point-in-time view of the sync subsystem.
type Status struct {
	HasIdentity     bool       `json:"has_identity"`
	Identity        string     `json:"identity,omitempty"`
	LastSyncTime    *time.Time `json:"last_sync_time,omitempty"`
	AutoSyncEnabled bool       `json:"auto_sync_enabled"`
	PendingRecords  int        `json:"pending_records"`
}

// Coordinator drains the local outbox to the remote collector. A pass is
// all or nothing: only after the whole batch is accepted does any local
// state change, so a failed pass leaves every record eligible for the next
// one and a successful pass leaves none.
type Coordinator struct {
	store    store.Store
	client   collector.Client
	mapper   Mapper
	cfg      config.SyncConfig
	log      zerolog.Logger
	onResult func(Result)

	mu sync.Mutex
}

// New creates a Coordinator.
func New(st store.Store, client collector.Client, mapper Mapper, cfg config.SyncConfig, log zerolog.Logger) *Coordinator {
	return &Coordinator{
		store:  st,
		client: client,
		mapper: mapper,
		cfg:    cfg,
		log:    log.With().Str("component", "syncer").Logger(),
	}
}

// OnResult registers a callback invoked after every completed pass,
// successful or not. Must be set before the coordinator is used.
func (c *Coordinator) OnResult(fn func(Result)) {
	c.onResult = fn
}

// Sync runs one pass for the given user and returns the number of records
// the collector accepted. Returns ErrNoIdentity when no study identity is
// set and ErrSyncInFlight when another pass holds the guard.
func (c *Coordinator) Sync(ctx context.Context, userID string) (int, error) {
	identity, err := c.Identity(ctx)
	if err != nil {
		return 0, err
	}

	if !c.mu.TryLock() {
		return 0, ErrSyncInFlight
	}
	defer c.mu.Unlock()

	n, err := c.syncLocked(ctx, userID, identity)
	if c.onResult != nil {
		c.onResult(Result{UserID: userID, Accepted: n, Err: err, At: time.Now()})
	}
	return n, err
}

func (c *Coordinator) syncLocked(ctx context.Context, userID, identity string) (int, error) {
	records, err := c.pending(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("querying pending records: %w", err)
	}
	if len(records) == 0 {
		c.log.Debug().Str("user_id", userID).Msg("nothing to sync")
		return 0, nil
	}

	batch := c.mapper.ToWireBatch(records, identity)
	accepted, err := c.client.Submit(ctx, identity, batch)
	if err != nil {
		c.log.Warn().Err(err).Int("records", len(batch)).Msg("submission failed, local state unchanged")
		return 0, fmt.Errorf("submitting batch: %w", err)
	}

	ids := make([]int64, len(records))
	for i, rec := range records {
		ids[i] = rec.ID
	}
	if err := c.store.MarkSynced(ctx, ids); err != nil {
		// The collector has the batch but the local flags did not stick.
		// The next pass re-submits these rows; delivery is at least once.
		return 0, fmt.Errorf("marking records synced: %w", err)
	}

	if c.cfg.DeleteAfterSync == nil || *c.cfg.DeleteAfterSync {
		if err := c.store.DeleteSynced(ctx, userID); err != nil {
			// Marked rows are excluded from future passes either way.
			c.log.Warn().Err(err).Msg("deleting synced records failed")
		}
	}

	if err := c.store.PutSetting(ctx, model.SettingLastSyncMillis, store.FormatMillis(time.Now())); err != nil {
		c.log.Warn().Err(err).Msg("recording last sync time failed")
	}

	// The pass reports what the collector confirmed, which may be fewer
	// than what was submitted.
	c.log.Info().Str("user_id", userID).Int("submitted", len(records)).
		Int("accepted", len(accepted)).Msg("sync pass complete")
	return len(accepted), nil
}

// pending selects the records for one pass according to the configured
// strategy. The default outbox strategy lets the store pick unsynced rows;
// the window strategy re-filters the user's full history by age.
func (c *Coordinator) pending(ctx context.Context, userID string) ([]model.UsageRecord, error) {
	if c.cfg.Strategy == "window" {
		all, err := c.store.QueryByUser(ctx, userID)
		if err != nil {
			return nil, err
		}
		return FilterForSync(all, c.cfg.IncludeActive, c.cfg.MaxAgeHours, time.Now()), nil
	}
	return c.store.QueryUnsynced(ctx, userID)
}

// CheckConnectivity probes the collector's health endpoint.
func (c *Coordinator) CheckConnectivity(ctx context.Context) (bool, error) {
	status, err := c.client.HealthCheck(ctx)
	if err != nil {
		return false, err
	}
	s := strings.ToLower(status)
	return s == "up" || s == "healthy", nil
}

// Identity returns the configured study identity or ErrNoIdentity.
func (c *Coordinator) Identity(ctx context.Context) (string, error) {
	val, found, err := c.store.GetSetting(ctx, model.SettingStudyID)
	if err != nil {
		return "", fmt.Errorf("reading study identity: %w", err)
	}
	if !found || val == "" {
		return "", ErrNoIdentity
	}
	return val, nil
}

// HasIdentity reports whether a study identity is configured.
func (c *Coordinator) HasIdentity(ctx context.Context) bool {
	_, err := c.Identity(ctx)
	return err == nil
}

// SetIdentity stores the study identity.
func (c *Coordinator) SetIdentity(ctx context.Context, identity string) error {
	if identity == "" {
		return errors.New("identity must not be empty")
	}
	return c.store.PutSetting(ctx, model.SettingStudyID, identity)
}

// ClearIdentity removes the identity together with the sync bookkeeping,
// returning the agent to its unenrolled state.
func (c *Coordinator) ClearIdentity(ctx context.Context) error {
	return c.store.DeleteSettings(ctx,
		model.SettingStudyID,
		model.SettingLastSyncMillis,
		model.SettingAutoSyncEnabled,
	)
}

// SetAutoSync persists the auto sync toggle.
func (c *Coordinator) SetAutoSync(ctx context.Context, enabled bool) error {
	return c.store.PutSetting(ctx, model.SettingAutoSyncEnabled, fmt.Sprintf("%t", enabled))
}

// AutoSyncEnabled reports the persisted toggle; defaults to true when unset.
func (c *Coordinator) AutoSyncEnabled(ctx context.Context) bool {
	val, found, err := c.store.GetSetting(ctx, model.SettingAutoSyncEnabled)
	if err != nil || !found {
		return true
	}
	return val != "false"
}

// GetStatus assembles the current sync status.
func (c *Coordinator) GetStatus(ctx context.Context, userID string) (Status, error) {
	st := Status{AutoSyncEnabled: c.AutoSyncEnabled(ctx)}

	identity, err := c.Identity(ctx)
	switch {
	case err == nil:
		st.HasIdentity = true
		st.Identity = identity
	case errors.Is(err, ErrNoIdentity):
		// Unenrolled is a valid state, not an error.
	default:
		return Status{}, err
	}

	if val, found, err := c.store.GetSetting(ctx, model.SettingLastSyncMillis); err == nil && found {
		if t, err := store.ParseMillis(val); err == nil {
			st.LastSyncTime = &t
		}
	}

	pending, err := c.store.QueryUnsynced(ctx, userID)
	if err != nil {
		return Status{}, err
	}
	st.PendingRecords = len(pending)

	return st, nil
}
