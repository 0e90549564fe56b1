package repositories

import (
	"context"
	"errors"
	"time"

	"infinite-experiment/tourdesk/internal/models/gorm"

	gormlib "gorm.io/gorm"
)

// SyncHistoryRepo records full reloads of the reconciled collections
type SyncHistoryRepo struct {
	db *gormlib.DB
}

// NewSyncHistoryRepo creates a new sync history repository
func NewSyncHistoryRepo(db *gormlib.DB) *SyncHistoryRepo {
	return &SyncHistoryRepo{db: db}
}

// RecordSync upserts the row for (event, source) with the latest outcome
func (r *SyncHistoryRepo) RecordSync(ctx context.Context, event, source string, records int, syncErr error) error {
	now := time.Now()
	errText := ""
	if syncErr != nil {
		errText = syncErr.Error()
	}

	history := gorm.SyncHistory{
		Event:      event,
		Source:     source,
		Records:    records,
		Error:      errText,
		LastSyncAt: &now,
	}

	return r.db.WithContext(ctx).
		Where("event = ? AND source = ?", event, source).
		Assign(map[string]interface{}{
			"records":      records,
			"error":        errText,
			"last_sync_at": &now,
		}).
		FirstOrCreate(&history).Error
}

// GetLastSyncTimeForEvent retrieves the most recent successful sync for an event
func (r *SyncHistoryRepo) GetLastSyncTimeForEvent(ctx context.Context, event string) (*time.Time, error) {
	var history gorm.SyncHistory

	err := r.db.WithContext(ctx).
		Where("event = ? AND error = ?", event, "").
		Order("last_sync_at DESC").
		First(&history).Error
	if err != nil {
		if errors.Is(err, gormlib.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	return history.LastSyncAt, nil
}

// List returns every history row, newest first
func (r *SyncHistoryRepo) List(ctx context.Context) ([]gorm.SyncHistory, error) {
	var rows []gorm.SyncHistory
	err := r.db.WithContext(ctx).Order("last_sync_at DESC").Find(&rows).Error
	return rows, err
}
