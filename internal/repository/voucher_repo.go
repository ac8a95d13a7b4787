package repository

import (
	"context"
	"errors"
	"time"

	"voucherledger/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	ErrVoucherNotFound        = errors.New("voucher not found")
	ErrVoucherStatusInvalid   = errors.New("voucher status does not permit this transition")
	ErrInsufficientBalance    = errors.New("redemption amount exceeds remaining value")
	ErrStaleVoucher           = errors.New("voucher was modified concurrently, retry")
	ErrVoucherHasTransactions = errors.New("voucher with ledger entries cannot be deleted")
)

type VoucherRepository struct {
	db *gorm.DB
}

func NewVoucherRepository(db *gorm.DB) *VoucherRepository {
	return &VoucherRepository{db: db}
}

func (r *VoucherRepository) Create(ctx context.Context, tx *gorm.DB, voucher *model.Voucher) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(voucher).Error
}

func (r *VoucherRepository) GetByID(ctx context.Context, id int64) (*model.Voucher, error) {
	var voucher model.Voucher
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&voucher).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrVoucherNotFound
		}
		return nil, err
	}
	return &voucher, nil
}

func (r *VoucherRepository) GetByCode(ctx context.Context, tx *gorm.DB, code string) (*model.Voucher, error) {
	if tx == nil {
		tx = r.db
	}
	var voucher model.Voucher
	err := tx.WithContext(ctx).Where("code = ?", code).First(&voucher).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrVoucherNotFound
		}
		return nil, err
	}
	return &voucher, nil
}

// GetByApplicationID returns (nil, nil) when no voucher exists for the
// application.
func (r *VoucherRepository) GetByApplicationID(ctx context.Context, tx *gorm.DB, applicationID int64) (*model.Voucher, error) {
	if tx == nil {
		tx = r.db
	}
	var voucher model.Voucher
	err := tx.WithContext(ctx).Where("application_id = ?", applicationID).First(&voucher).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &voucher, nil
}

func (r *VoucherRepository) CodeExists(ctx context.Context, code string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.Voucher{}).
		Where("code = ?", code).
		Count(&count).Error
	return count > 0, err
}

// DecrementBalance performs the guarded check-then-decrement that makes
// redemption overdraw-proof: the WHERE clause re-verifies status, balance
// sufficiency and the optimistic version in the same statement, so a lost
// race surfaces as zero rows affected rather than a negative balance.
func (r *VoucherRepository) DecrementBalance(ctx context.Context, tx *gorm.DB, voucherID int64, amount decimal.Decimal, vendorID int64, version int, now time.Time) error {
	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.Voucher{}).
		Where("id = ? AND status = ? AND remaining_value >= ? AND version = ?",
			voucherID, model.VoucherStatusActive, amount, version).
		Updates(map[string]interface{}{
			"remaining_value": gorm.Expr("remaining_value - ?", amount),
			"last_used_at":    now,
			"vendor_id":       vendorID,
			"version":         gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		var voucher model.Voucher
		if err := tx.WithContext(ctx).Where("id = ?", voucherID).First(&voucher).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrVoucherNotFound
			}
			return err
		}
		if voucher.Status != model.VoucherStatusActive {
			return ErrVoucherStatusInvalid
		}
		if voucher.RemainingValue.LessThan(amount) {
			return ErrInsufficientBalance
		}
		return ErrStaleVoucher
	}

	return nil
}

// UpdateStatus transitions the voucher, guarded by the transition table and
// by the current status in the WHERE clause.
func (r *VoucherRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, voucherID int64, fromStatus, toStatus string) error {
	if !model.VoucherCanTransitionTo(fromStatus, toStatus) {
		return ErrVoucherStatusInvalid
	}

	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.Voucher{}).
		Where("id = ? AND status = ?", voucherID, fromStatus).
		Updates(map[string]interface{}{
			"status":  toStatus,
			"version": gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrVoucherStatusInvalid
	}

	return nil
}

// CancelWithNote is the administrative cancellation: allowed only from
// ISSUED or ACTIVE, appends the note in the same guarded statement.
func (r *VoucherRepository) CancelWithNote(ctx context.Context, tx *gorm.DB, voucherID int64, notes string) error {
	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.Voucher{}).
		Where("id = ? AND status IN ?", voucherID, []string{model.VoucherStatusIssued, model.VoucherStatusActive}).
		Updates(map[string]interface{}{
			"status":  model.VoucherStatusCancelled,
			"notes":   notes,
			"version": gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrVoucherStatusInvalid
	}

	return nil
}

// ExpireIfDue materializes EXPIRED for a voucher still in ISSUED/ACTIVE.
// Returns true when this call performed the transition, which is what
// makes the expiration notification exactly-once.
func (r *VoucherRepository) ExpireIfDue(ctx context.Context, tx *gorm.DB, voucherID int64) (bool, error) {
	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.Voucher{}).
		Where("id = ? AND status IN ?", voucherID, []string{model.VoucherStatusIssued, model.VoucherStatusActive}).
		Updates(map[string]interface{}{
			"status":  model.VoucherStatusExpired,
			"version": gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return false, result.Error
	}

	return result.RowsAffected > 0, nil
}

// ListIssuedBefore returns ISSUED/ACTIVE vouchers issued at or before the
// cutoff, for the expiration sweep.
func (r *VoucherRepository) ListIssuedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*model.Voucher, error) {
	var vouchers []*model.Voucher
	err := r.db.WithContext(ctx).
		Where("status IN ? AND issued_at <= ?", []string{model.VoucherStatusIssued, model.VoucherStatusActive}, cutoff).
		Limit(limit).
		Find(&vouchers).Error
	return vouchers, err
}

// StampInvoice sets invoice_id on the given vouchers where it is still
// null. The association is one-way and never reassigned.
func (r *VoucherRepository) StampInvoice(ctx context.Context, tx *gorm.DB, voucherIDs []int64, invoiceID int64) error {
	if len(voucherIDs) == 0 {
		return nil
	}
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).
		Model(&model.Voucher{}).
		Where("id IN ? AND invoice_id IS NULL", voucherIDs).
		Update("invoice_id", invoiceID).Error
}

// RedeemActiveByInvoice marks an invoice's still-active vouchers redeemed,
// part of the payment-recorded transition.
func (r *VoucherRepository) RedeemActiveByInvoice(ctx context.Context, tx *gorm.DB, invoiceID int64) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).
		Model(&model.Voucher{}).
		Where("invoice_id = ? AND status = ?", invoiceID, model.VoucherStatusActive).
		Updates(map[string]interface{}{
			"status":  model.VoucherStatusRedeemed,
			"version": gorm.Expr("version + 1"),
		}).Error
}

// Delete enforces restrict semantics: a voucher that has ledger entries is
// never deleted.
func (r *VoucherRepository) Delete(ctx context.Context, voucherID int64) error {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.VoucherTransaction{}).
		Where("voucher_id = ?", voucherID).
		Count(&count).Error
	if err != nil {
		return err
	}
	if count > 0 {
		return ErrVoucherHasTransactions
	}
	return r.db.WithContext(ctx).Delete(&model.Voucher{}, voucherID).Error
}
