package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	// VoucherStatusIssued is kept for rows created before issuance started
	// activating vouchers immediately. It behaves like ACTIVE for
	// cancellation and expiration, but is not redeemable.
	VoucherStatusIssued    = "ISSUED"
	VoucherStatusActive    = "ACTIVE"
	VoucherStatusRedeemed  = "REDEEMED"
	VoucherStatusExpired   = "EXPIRED"
	VoucherStatusCancelled = "CANCELLED"
)

// REDEEMED, EXPIRED and CANCELLED are terminal.
var ValidVoucherTransitions = map[string][]string{
	VoucherStatusIssued: {VoucherStatusActive, VoucherStatusExpired, VoucherStatusCancelled},
	VoucherStatusActive: {VoucherStatusRedeemed, VoucherStatusExpired, VoucherStatusCancelled},
}

func VoucherCanTransitionTo(currentStatus, targetStatus string) bool {
	allowedStatuses, exists := ValidVoucherTransitions[currentStatus]
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

// Voucher is the value-bearing entity issued against an approved
// application. Values are computed once at issuance from policy lookups and
// never recomputed; remaining_value only ever moves down, under the
// per-voucher lock.
type Voucher struct {
	ID             int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	Code           string          `gorm:"type:varchar(16);uniqueIndex;not null" json:"code"`
	ApplicationID  int64           `gorm:"uniqueIndex;not null" json:"application_id"`
	InitialValue   decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"initial_value"`
	RemainingValue decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"remaining_value"`
	Status         string          `gorm:"type:varchar(20);index;not null" json:"status"`
	IssuedAt       time.Time       `gorm:"not null" json:"issued_at"`
	LastUsedAt     *time.Time      `json:"last_used_at,omitempty"`
	VendorID       *int64          `gorm:"index" json:"vendor_id,omitempty"`
	InvoiceID      *int64          `gorm:"index" json:"invoice_id,omitempty"`
	Notes          string          `gorm:"type:text" json:"notes,omitempty"`
	Version        int             `gorm:"not null;default:0" json:"version"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Voucher) TableName() string {
	return "voucher"
}

// Expired reports whether the voucher is past its validity window. This is
// a derived predicate: the status column is only materialized to EXPIRED by
// the background sweep. validityMonths == 0 means vouchers never expire.
func (v *Voucher) Expired(validityMonths int, now time.Time) bool {
	if v.Status == VoucherStatusExpired {
		return true
	}
	if validityMonths <= 0 {
		return false
	}
	return !v.IssuedAt.AddDate(0, validityMonths, 0).After(now)
}

// Terminal reports whether the voucher can never change state again.
func (v *Voucher) Terminal() bool {
	_, ok := ValidVoucherTransitions[v.Status]
	return !ok
}
