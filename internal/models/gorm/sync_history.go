package gorm

import "time"

// SyncHistory tracks full reloads of the reconciled collections
type SyncHistory struct {
	ID         uint       `gorm:"column:id;primaryKey;autoIncrement"`
	Event      string     `gorm:"column:event;type:varchar(50);not null;uniqueIndex:idx_sync_event_source"`
	Source     string     `gorm:"column:source;type:varchar(20);not null;uniqueIndex:idx_sync_event_source"`
	Records    int        `gorm:"column:records"`
	Error      string     `gorm:"column:error;type:text"`
	CreatedAt  time.Time  `gorm:"column:created_at;autoCreateTime"`
	LastSyncAt *time.Time `gorm:"column:last_sync_at"`
}

// TableName specifies the table name for GORM
func (SyncHistory) TableName() string {
	return "sync_history"
}
