package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	TransactionTypeRedemption = "REDEMPTION"
	TransactionTypeRefund     = "REFUND"
	TransactionTypeAdjustment = "ADJUSTMENT"
)

const (
	TransactionStatusPending   = "PENDING"
	TransactionStatusCompleted = "COMPLETED"
	TransactionStatusFailed    = "FAILED"
	TransactionStatusCancelled = "CANCELLED"
)

// VoucherTransaction is an append-only ledger entry. Amount and voucher
// linkage are immutable after creation; only status may change. The
// invoice_id stamp is set once by the aggregator and never reassigned.
type VoucherTransaction struct {
	ID              int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	ReferenceNumber string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"reference_number"`
	VoucherID       int64           `gorm:"index;not null" json:"voucher_id"`
	VendorID        int64           `gorm:"index;not null" json:"vendor_id"`
	InvoiceID       *int64          `gorm:"index" json:"invoice_id,omitempty"`
	Amount          decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	TransactionType string          `gorm:"type:varchar(20);not null" json:"transaction_type"`
	Status          string          `gorm:"type:varchar(20);index;not null" json:"status"`
	ProcessedAt     time.Time       `gorm:"not null;index" json:"processed_at"`
	Notes           string          `gorm:"type:varchar(256)" json:"notes,omitempty"`
	CreatedAt       time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
}

func (VoucherTransaction) TableName() string {
	return "voucher_transaction"
}
