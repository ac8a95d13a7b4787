package repository

import (
	"context"
	"errors"
	"time"

	"voucherledger/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) Create(ctx context.Context, tx *gorm.DB, trans *model.VoucherTransaction) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(trans).Error
}

func (r *TransactionRepository) GetByReferenceNumber(ctx context.Context, referenceNumber string) (*model.VoucherTransaction, error) {
	var trans model.VoucherTransaction
	err := r.db.WithContext(ctx).Where("reference_number = ?", referenceNumber).First(&trans).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &trans, nil
}

// SumCompletedRedemptions returns the total completed redemption amount
// against a voucher, the reconciliation-side check of the no-overdraw
// invariant.
func (r *TransactionRepository) SumCompletedRedemptions(ctx context.Context, tx *gorm.DB, voucherID int64) (decimal.Decimal, error) {
	if tx == nil {
		tx = r.db
	}
	var total decimal.Decimal
	err := tx.WithContext(ctx).
		Model(&model.VoucherTransaction{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("voucher_id = ? AND transaction_type = ? AND status = ?",
			voucherID, model.TransactionTypeRedemption, model.TransactionStatusCompleted).
		Scan(&total).Error
	return total, err
}

func (r *TransactionRepository) ListByVoucher(ctx context.Context, voucherID int64, page, pageSize int) ([]*model.VoucherTransaction, int64, error) {
	var transactions []*model.VoucherTransaction
	var total int64

	query := r.db.WithContext(ctx).Model(&model.VoucherTransaction{}).Where("voucher_id = ?", voucherID)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&transactions).Error

	return transactions, total, err
}

// VendorsWithUninvoiced returns the distinct vendors holding completed
// redemption transactions that no invoice has swept yet.
func (r *TransactionRepository) VendorsWithUninvoiced(ctx context.Context) ([]int64, error) {
	var vendorIDs []int64
	err := r.db.WithContext(ctx).
		Model(&model.VoucherTransaction{}).
		Distinct("vendor_id").
		Where("status = ? AND invoice_id IS NULL AND transaction_type = ?",
			model.TransactionStatusCompleted, model.TransactionTypeRedemption).
		Pluck("vendor_id", &vendorIDs).Error
	return vendorIDs, err
}

// ListUninvoiced returns a vendor's completed, unswept redemption
// transactions inside the window. The type filter must match
// VendorsWithUninvoiced: refunds and adjustments are never swept into
// invoice totals.
func (r *TransactionRepository) ListUninvoiced(ctx context.Context, tx *gorm.DB, vendorID int64, start, end time.Time) ([]*model.VoucherTransaction, error) {
	if tx == nil {
		tx = r.db
	}
	var transactions []*model.VoucherTransaction
	err := tx.WithContext(ctx).
		Where("vendor_id = ? AND status = ? AND transaction_type = ? AND invoice_id IS NULL AND processed_at >= ? AND processed_at <= ?",
			vendorID, model.TransactionStatusCompleted, model.TransactionTypeRedemption, start, end).
		Order("processed_at ASC").
		Find(&transactions).Error
	return transactions, err
}

// StampInvoice sets invoice_id on the swept transactions where still null.
func (r *TransactionRepository) StampInvoice(ctx context.Context, tx *gorm.DB, transactionIDs []int64, invoiceID int64) error {
	if len(transactionIDs) == 0 {
		return nil
	}
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).
		Model(&model.VoucherTransaction{}).
		Where("id IN ? AND invoice_id IS NULL", transactionIDs).
		Update("invoice_id", invoiceID).Error
}

// CompleteByInvoice marks an invoice's transactions completed. Idempotent:
// already-completed rows are simply matched again.
func (r *TransactionRepository) CompleteByInvoice(ctx context.Context, tx *gorm.DB, invoiceID int64) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).
		Model(&model.VoucherTransaction{}).
		Where("invoice_id = ?", invoiceID).
		Update("status", model.TransactionStatusCompleted).Error
}

func (r *TransactionRepository) ListByInvoice(ctx context.Context, invoiceID int64) ([]*model.VoucherTransaction, error) {
	var transactions []*model.VoucherTransaction
	err := r.db.WithContext(ctx).
		Where("invoice_id = ?", invoiceID).
		Order("processed_at ASC").
		Find(&transactions).Error
	return transactions, err
}
