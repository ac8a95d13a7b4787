package model

import (
	"time"
)

const (
	OutboxStatusPending = "PENDING"
	OutboxStatusSent    = "SENT"
	OutboxStatusFailed  = "FAILED"
)

// Notification event types carried in outbox payloads.
const (
	EventVoucherAssigned = "voucher.assigned"
	EventVoucherRedeemed = "voucher.redeemed"
	EventVoucherExpired  = "voucher.expired"
	EventPaymentIssued   = "invoice.payment_issued"
)

// OutboxMessage is written in the same database transaction as the ledger
// mutation that produced it, then shipped to Kafka by the outbox sender.
// Delivery is best-effort and can never roll back the ledger.
type OutboxMessage struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	MessageKey string    `gorm:"type:varchar(64);not null" json:"message_key"`
	Topic      string    `gorm:"type:varchar(64);not null" json:"topic"`
	Payload    string    `gorm:"type:text;not null" json:"payload"`
	Status     string    `gorm:"type:varchar(20);index;not null;default:PENDING" json:"status"`
	RetryCount int       `gorm:"not null;default:0" json:"retry_count"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (OutboxMessage) TableName() string {
	return "outbox_message"
}
