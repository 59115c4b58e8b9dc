package entities

import "time"

// Flag reasons recorded on queue items that cannot be replayed as-is.
const (
	FlagReasonMalformed   = "malformed"
	FlagReasonAuthExpired = "auth-expired"
)

// QueueItem is a mutating request captured while offline, waiting for replay.
// Seq preserves insertion order; ID is the stable external identifier.
type QueueItem struct {
	Seq           uint       `gorm:"primaryKey;autoIncrement" json:"-"`
	ID            string     `gorm:"size:36;not null;uniqueIndex" json:"id"`
	Namespace     string     `gorm:"size:150;not null;index" json:"namespace"`
	Kind          string     `gorm:"size:100;not null" json:"kind"`
	Method        string     `gorm:"size:10;not null" json:"method"`
	URL           string     `gorm:"size:2048;not null" json:"url"`
	Payload       []byte     `gorm:"type:longblob" json:"payload"`
	AuthToken     string     `gorm:"size:4096" json:"-"`
	EnqueuedAt    time.Time  `gorm:"not null" json:"enqueued_at"`
	Attempts      int        `gorm:"not null;default:0" json:"attempts"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`
	LastError     string     `gorm:"size:1000;default:''" json:"last_error,omitempty"`
	Flagged       bool       `gorm:"not null;default:false" json:"flagged"`
	FlagReason    string     `gorm:"size:50;default:''" json:"flag_reason,omitempty"`
}

// TableName returns the table name for GORM.
func (QueueItem) TableName() string {
	return "offline_queue_items"
}
