package model

import (
	"time"
)

// AuditEvent records who did what to which entity, with before/after
// values in the metadata JSON. Append-only; consumed by an external audit
// subsystem.
type AuditEvent struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	ActorID    int64     `gorm:"index;not null" json:"actor_id"`
	Action     string    `gorm:"type:varchar(64);index;not null" json:"action"`
	EntityType string    `gorm:"type:varchar(32);not null" json:"entity_type"`
	EntityID   int64     `gorm:"index;not null" json:"entity_id"`
	Metadata   string    `gorm:"type:text" json:"metadata,omitempty"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (AuditEvent) TableName() string {
	return "audit_event"
}
