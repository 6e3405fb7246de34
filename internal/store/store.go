package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"usage-telemetry-agent/internal/model"
)

// Store defines the durable storage operations the tracker and the sync
// coordinator depend on. Backed by gorm; any relational engine with the
// listed query shapes satisfies the contract.
type Store interface {
	// Record lifecycle.
	InsertRecord(ctx context.Context, rec *model.UsageRecord) (int64, error)
	CloseRecord(ctx context.Context, id int64, endTime time.Time, duration int64) error

	// Outbox protocol.
	QueryUnsynced(ctx context.Context, userID string) ([]model.UsageRecord, error)
	MarkSynced(ctx context.Context, ids []int64) error
	DeleteSynced(ctx context.Context, userID string) error
	CountSynced(ctx context.Context, userID string) (int64, error)

	// Diagnostics and recovery.
	QueryByUser(ctx context.Context, userID string) ([]model.UsageRecord, error)
	QueryActive(ctx context.Context, userID string) ([]model.UsageRecord, error)
	DeleteRecords(ctx context.Context, ids []int64) error
	CountByUser(ctx context.Context, userID string) (int64, error)
	AppSummary(ctx context.Context, userID string) ([]model.AppUsageSummary, error)

	// Keyed scalar settings (identity, last sync, auto-sync flag).
	GetSetting(ctx context.Context, key string) (string, bool, error)
	PutSetting(ctx context.Context, key, value string) error
	DeleteSettings(ctx context.Context, keys ...string) error

	// DB exposes the underlying handle for the HTTP layer and the worker pool.
	DB() *gorm.DB
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) DB() *gorm.DB {
	return s.db
}

// InsertRecord persists a new open record and returns the assigned id.
func (s *gormStore) InsertRecord(ctx context.Context, rec *model.UsageRecord) (int64, error) {
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return 0, fmt.Errorf("failed to insert usage record for %s: %w", rec.AppPackage, err)
	}
	return rec.ID, nil
}

// CloseRecord finalizes an open record: end time, duration, isActive=false.
func (s *gormStore) CloseRecord(ctx context.Context, id int64, endTime time.Time, duration int64) error {
	res := s.db.WithContext(ctx).Model(&model.UsageRecord{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"end_time":  endTime,
			"duration":  duration,
			"is_active": false,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to close usage record %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("usage record %d not found", id)
	}
	return nil
}

// QueryUnsynced returns the sync-eligible outbox: records not yet accepted by
// the collector, excluding still-open zero-duration sessions.
func (s *gormStore) QueryUnsynced(ctx context.Context, userID string) ([]model.UsageRecord, error) {
	var records []model.UsageRecord
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND is_synced = ? AND (duration > 0 OR is_active = ?)", userID, false, false).
		Order("start_time DESC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query unsynced records: %w", err)
	}
	return records, nil
}

// MarkSynced flags the given record ids as accepted by the collector.
func (s *gormStore) MarkSynced(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Model(&model.UsageRecord{}).
		Where("id IN ?", ids).
		Update("is_synced", true).Error; err != nil {
		return fmt.Errorf("failed to mark %d records synced: %w", len(ids), err)
	}
	return nil
}

// DeleteSynced prunes every synced record for the user.
func (s *gormStore) DeleteSynced(ctx context.Context, userID string) error {
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND is_synced = ?", userID, true).
		Delete(&model.UsageRecord{}).Error; err != nil {
		return fmt.Errorf("failed to delete synced records: %w", err)
	}
	return nil
}

func (s *gormStore) CountSynced(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.UsageRecord{}).
		Where("user_id = ? AND is_synced = ?", userID, true).
		Count(&count).Error
	return count, err
}

func (s *gormStore) QueryByUser(ctx context.Context, userID string) ([]model.UsageRecord, error) {
	var records []model.UsageRecord
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("start_time DESC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query records for user %s: %w", userID, err)
	}
	return records, nil
}

// QueryActive returns records still flagged open. After a restart these are
// orphans: the in-memory session set they belonged to is gone.
func (s *gormStore) QueryActive(ctx context.Context, userID string) ([]model.UsageRecord, error) {
	var records []model.UsageRecord
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND is_active = ?", userID, true).
		Order("start_time DESC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query active records: %w", err)
	}
	return records, nil
}

func (s *gormStore) DeleteRecords(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Delete(&model.UsageRecord{}, ids).Error; err != nil {
		return fmt.Errorf("failed to delete %d records: %w", len(ids), err)
	}
	return nil
}

func (s *gormStore) CountByUser(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.UsageRecord{}).
		Where("user_id = ?", userID).
		Count(&count).Error
	return count, err
}

// AppSummary aggregates closed sessions per application.
func (s *gormStore) AppSummary(ctx context.Context, userID string) ([]model.AppUsageSummary, error) {
	var rows []model.AppUsageSummary
	err := s.db.WithContext(ctx).Model(&model.UsageRecord{}).
		Select("app_package, app_name, SUM(duration) as total_duration, COUNT(*) as session_count, AVG(duration) as avg_duration").
		Where("user_id = ? AND is_active = ?", userID, false).
		Group("app_package").
		Group("app_name").
		Order("total_duration DESC").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate app usage: %w", err)
	}
	return rows, nil
}

func (s *gormStore) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var setting model.Setting
	err := s.db.WithContext(ctx).First(&setting, "key = ?", key).Error
	if err == gorm.ErrRecordNotFound {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read setting %q: %w", key, err)
	}
	return setting.Value, true, nil
}

func (s *gormStore) PutSetting(ctx context.Context, key, value string) error {
	setting := model.Setting{Key: key, Value: value}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&setting).Error
	if err != nil {
		return fmt.Errorf("failed to store setting %q: %w", key, err)
	}
	return nil
}

func (s *gormStore) DeleteSettings(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).
		Where("key IN ?", keys).
		Delete(&model.Setting{}).Error; err != nil {
		return fmt.Errorf("failed to delete settings: %w", err)
	}
	return nil
}

// FormatMillis and ParseMillis convert the last-sync timestamp setting.

func FormatMillis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func ParseMillis(v string) (time.Time, error) {
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid millisecond timestamp %q: %w", v, err)
	}
	return time.UnixMilli(ms), nil
}
