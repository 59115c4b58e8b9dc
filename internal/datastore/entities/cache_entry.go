package entities

import "time"

// CacheStore is a named, versioned cache store.
type CacheStore struct {
	Name      string    `gorm:"primaryKey;size:191" json:"name"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName returns the table name for GORM.
func (CacheStore) TableName() string {
	return "cache_stores"
}

// CacheEntry is one stored response snapshot. KeyHash is the SHA-256 of the
// request key so the unique index stays within MySQL key length limits.
type CacheEntry struct {
	ID         uint      `gorm:"primaryKey"`
	StoreName  string    `gorm:"size:191;not null;uniqueIndex:idx_cache_store_key,priority:1"`
	KeyHash    string    `gorm:"size:64;not null;uniqueIndex:idx_cache_store_key,priority:2"`
	Key        string    `gorm:"type:text;not null"`
	Status     int       `gorm:"not null"`
	Header     string    `gorm:"type:text"`
	Body       []byte    `gorm:"type:longblob"`
	CapturedAt time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM.
func (CacheEntry) TableName() string {
	return "cache_entries"
}
