package store

import (
	"time"
)

// Record is a stored resource row identified by its resource name and key.
type Record struct {
	ID         uint      `gorm:"primaryKey"`
	Resource   string    `gorm:"not null;uniqueIndex:idx_resource_record_key;index:idx_resource_imported_at"`
	RecordKey  string    `gorm:"not null;uniqueIndex:idx_resource_record_key"`
	Data       string    `gorm:"type:text;not null"`
	ImportedAt time.Time `gorm:"not null;index:idx_resource_imported_at"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (Record) TableName() string {
	return "records"
}

// Stats counts the records handled since the last Clear.
type Stats struct {
	Inserted int
	Updated  int
	Rejected int
}
