package repository

import (
	"context"
	"errors"
	"time"

	"voucherledger/internal/model"

	"gorm.io/gorm"
)

var (
	ErrInvoiceNotFound      = errors.New("invoice not found")
	ErrInvoiceStatusInvalid = errors.New("invoice status does not permit this transition")
	ErrInvoiceRangeOverlap  = errors.New("invoice date range overlaps an existing invoice for this vendor")
)

type InvoiceRepository struct {
	db *gorm.DB
}

func NewInvoiceRepository(db *gorm.DB) *InvoiceRepository {
	return &InvoiceRepository{db: db}
}

func (r *InvoiceRepository) Create(ctx context.Context, tx *gorm.DB, invoice *model.Invoice) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(invoice).Error
}

func (r *InvoiceRepository) GetByID(ctx context.Context, tx *gorm.DB, id int64) (*model.Invoice, error) {
	if tx == nil {
		tx = r.db
	}
	var invoice model.Invoice
	err := tx.WithContext(ctx).Where("id = ?", id).First(&invoice).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvoiceNotFound
		}
		return nil, err
	}
	return &invoice, nil
}

// GetLatestForVendor returns the vendor's most recent non-cancelled
// invoice, or (nil, nil) when the vendor has never been invoiced. Its
// end_date becomes the next window's start.
func (r *InvoiceRepository) GetLatestForVendor(ctx context.Context, vendorID int64) (*model.Invoice, error) {
	var invoice model.Invoice
	err := r.db.WithContext(ctx).
		Where("vendor_id = ? AND status <> ?", vendorID, model.InvoiceStatusCancelled).
		Order("end_date DESC").
		First(&invoice).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &invoice, nil
}

// CountOverlapping counts non-cancelled invoices for the vendor whose
// window strictly overlaps [start, end]. Windows that merely touch at an
// endpoint do not overlap; consecutive windows share a boundary instant.
func (r *InvoiceRepository) CountOverlapping(ctx context.Context, tx *gorm.DB, vendorID int64, start, end time.Time) (int64, error) {
	if tx == nil {
		tx = r.db
	}
	var count int64
	err := tx.WithContext(ctx).
		Model(&model.Invoice{}).
		Where("vendor_id = ? AND status <> ? AND start_date < ? AND end_date > ?",
			vendorID, model.InvoiceStatusCancelled, end, start).
		Count(&count).Error
	return count, err
}

// UpdateStatus transitions the invoice, guarded by the transition table
// and the current status. extra carries transition-specific columns
// (approved_at, payment_reference, ...).
func (r *InvoiceRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, invoiceID int64, fromStatus, toStatus string, extra map[string]interface{}) error {
	if !model.InvoiceCanTransitionTo(fromStatus, toStatus) {
		return ErrInvoiceStatusInvalid
	}

	if tx == nil {
		tx = r.db
	}

	updates := map[string]interface{}{
		"status": toStatus,
	}
	for k, v := range extra {
		updates[k] = v
	}

	result := tx.WithContext(ctx).
		Model(&model.Invoice{}).
		Where("id = ? AND status = ?", invoiceID, fromStatus).
		Updates(updates)

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrInvoiceStatusInvalid
	}

	return nil
}

func (r *InvoiceRepository) ListByVendor(ctx context.Context, vendorID int64, page, pageSize int) ([]*model.Invoice, int64, error) {
	var invoices []*model.Invoice
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Invoice{}).Where("vendor_id = ?", vendorID)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&invoices).Error

	return invoices, total, err
}
