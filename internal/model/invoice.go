package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	InvoiceStatusDraft     = "DRAFT"
	InvoiceStatusPending   = "PENDING"
	InvoiceStatusApproved  = "APPROVED"
	InvoiceStatusPaid      = "PAID"
	InvoiceStatusCancelled = "CANCELLED"
)

var ValidInvoiceTransitions = map[string][]string{
	InvoiceStatusDraft:    {InvoiceStatusPending, InvoiceStatusCancelled},
	InvoiceStatusPending:  {InvoiceStatusApproved, InvoiceStatusCancelled},
	InvoiceStatusApproved: {InvoiceStatusPaid, InvoiceStatusCancelled},
}

func InvoiceCanTransitionTo(currentStatus, targetStatus string) bool {
	allowedStatuses, exists := ValidInvoiceTransitions[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowedStatuses {
		if s == targetStatus {
			return true
		}
	}
	return false
}

// Invoice aggregates a vendor's completed, uninvoiced transactions over a
// contiguous window. Windows for the same vendor never overlap;
// total_amount equals the sum of the swept transactions and is immutable
// after creation.
type Invoice struct {
	ID                int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	InvoiceNumber     string          `gorm:"type:varchar(32);uniqueIndex;not null" json:"invoice_number"`
	VendorID          int64           `gorm:"index;not null" json:"vendor_id"`
	StartDate         time.Time       `gorm:"not null" json:"start_date"`
	EndDate           time.Time       `gorm:"not null" json:"end_date"`
	TotalAmount       decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"total_amount"`
	Status            string          `gorm:"type:varchar(20);index;not null" json:"status"`
	ApprovedAt        *time.Time      `json:"approved_at,omitempty"`
	PaymentRecordedAt *time.Time      `json:"payment_recorded_at,omitempty"`
	PaymentReference  string          `gorm:"type:varchar(64)" json:"payment_reference,omitempty"`
	CreatedAt         time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Invoice) TableName() string {
	return "invoice"
}
