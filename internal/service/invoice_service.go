package service

import (
	"context"
	"fmt"
	"time"

	"voucherledger/internal/config"
	"voucherledger/internal/infrastructure/lock"
	"voucherledger/internal/model"
	"voucherledger/internal/repository"
	"voucherledger/pkg/idgen"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultInvoicePeriodDays = 14

// InvoiceService sweeps completed, uninvoiced transactions into per-vendor
// invoices and drives the invoice lifecycle through approval and payment.
type InvoiceService struct {
	db          *gorm.DB
	locks       lock.Provider
	cfg         *config.Config
	invoiceRepo *repository.InvoiceRepository
	txnRepo     *repository.TransactionRepository
	voucherRepo *repository.VoucherRepository
	events      *eventWriter
	logger      *zap.Logger
}

func NewInvoiceService(db *gorm.DB, locks lock.Provider, cfg *config.Config, logger *zap.Logger) *InvoiceService {
	return &InvoiceService{
		db:          db,
		locks:       locks,
		cfg:         cfg,
		invoiceRepo: repository.NewInvoiceRepository(db),
		txnRepo:     repository.NewTransactionRepository(db),
		voucherRepo: repository.NewVoucherRepository(db),
		events:      newEventWriter(db),
		logger:      logger,
	}
}

// GenerateBiweeklyInvoices runs the aggregation sweep across every vendor
// holding completed, uninvoiced transactions. Vendors are independent: one
// vendor's failure is logged and the sweep moves on.
func (s *InvoiceService) GenerateBiweeklyInvoices(ctx context.Context, actorID int64) ([]*model.Invoice, error) {
	vendorIDs, err := s.txnRepo.VendorsWithUninvoiced(ctx)
	if err != nil {
		return nil, fmt.Errorf("finding vendors with uninvoiced transactions: %w", err)
	}

	var invoices []*model.Invoice
	for _, vendorID := range vendorIDs {
		invoice, err := s.CreateForVendor(ctx, actorID, vendorID)
		if err != nil {
			s.logger.Error("invoice creation failed for vendor",
				zap.Int64("vendor_id", vendorID),
				zap.Error(err))
			continue
		}
		if invoice != nil {
			invoices = append(invoices, invoice)
		}
	}

	return invoices, nil
}

// CreateForVendor builds one invoice for the vendor's current window:
// start is the end of the vendor's latest invoice (or the configured
// period before now for a first invoice), end is now. Returns (nil, nil)
// when the window holds no transactions — empty invoices are never
// created. The overlap check, the invoice row, and both invoice_id stamps
// commit in a single transaction, serialized per vendor by the lock.
func (s *InvoiceService) CreateForVendor(ctx context.Context, actorID, vendorID int64) (*model.Invoice, error) {
	vendorLock := s.locks.VendorInvoiceLock(vendorID)
	if err := vendorLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
		return nil, fmt.Errorf("acquiring vendor invoice lock: %w", err)
	}
	defer vendorLock.Unlock(ctx)

	periodDays := s.cfg.Business.InvoicePeriodDays
	if periodDays <= 0 {
		periodDays = defaultInvoicePeriodDays
	}

	end := time.Now()
	start := end.AddDate(0, 0, -periodDays)
	latest, err := s.invoiceRepo.GetLatestForVendor(ctx, vendorID)
	if err != nil {
		return nil, err
	}
	if latest != nil {
		start = latest.EndDate
	}

	var invoice *model.Invoice

	err = s.db.Transaction(func(tx *gorm.DB) error {
		transactions, err := s.txnRepo.ListUninvoiced(ctx, tx, vendorID, start, end)
		if err != nil {
			return fmt.Errorf("querying uninvoiced transactions: %w", err)
		}
		if len(transactions) == 0 {
			return nil
		}

		overlapping, err := s.invoiceRepo.CountOverlapping(ctx, tx, vendorID, start, end)
		if err != nil {
			return fmt.Errorf("checking range overlap: %w", err)
		}
		if overlapping > 0 {
			s.logger.Error("invoice range overlap detected",
				zap.Int64("vendor_id", vendorID),
				zap.Time("start", start),
				zap.Time("end", end))
			return repository.ErrInvoiceRangeOverlap
		}

		total := decimal.Zero
		transactionIDs := make([]int64, 0, len(transactions))
		voucherIDSet := make(map[int64]struct{})
		for _, t := range transactions {
			total = total.Add(t.Amount)
			transactionIDs = append(transactionIDs, t.ID)
			voucherIDSet[t.VoucherID] = struct{}{}
		}
		voucherIDs := make([]int64, 0, len(voucherIDSet))
		for id := range voucherIDSet {
			voucherIDs = append(voucherIDs, id)
		}

		invoice = &model.Invoice{
			InvoiceNumber: idgen.GenerateInvoiceNumber(),
			VendorID:      vendorID,
			StartDate:     start,
			EndDate:       end,
			TotalAmount:   total,
			Status:        model.InvoiceStatusPending,
		}
		if err := s.invoiceRepo.Create(ctx, tx, invoice); err != nil {
			return fmt.Errorf("creating invoice: %w", err)
		}

		if err := s.txnRepo.StampInvoice(ctx, tx, transactionIDs, invoice.ID); err != nil {
			return fmt.Errorf("stamping transactions: %w", err)
		}
		if err := s.voucherRepo.StampInvoice(ctx, tx, voucherIDs, invoice.ID); err != nil {
			return fmt.Errorf("stamping vouchers: %w", err)
		}

		return s.events.audit(ctx, tx, actorID, "invoice.create", "invoice", invoice.ID, map[string]interface{}{
			"invoice_number":    invoice.InvoiceNumber,
			"vendor_id":         vendorID,
			"start_date":        start.Format(time.RFC3339),
			"end_date":          end.Format(time.RFC3339),
			"total_amount":      total.String(),
			"transaction_count": len(transactions),
		})
	})
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, nil
	}

	s.logger.Info("invoice created",
		zap.String("invoice_number", invoice.InvoiceNumber),
		zap.Int64("vendor_id", vendorID),
		zap.String("total_amount", invoice.TotalAmount.String()))

	return invoice, nil
}

// ApproveInvoice moves a pending invoice to approved.
func (s *InvoiceService) ApproveInvoice(ctx context.Context, actorID, invoiceID int64) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		invoice, err := s.invoiceRepo.GetByID(ctx, tx, invoiceID)
		if err != nil {
			return err
		}

		now := time.Now()
		err = s.invoiceRepo.UpdateStatus(ctx, tx, invoiceID, model.InvoiceStatusPending, model.InvoiceStatusApproved,
			map[string]interface{}{"approved_at": now})
		if err != nil {
			return err
		}

		return s.events.audit(ctx, tx, actorID, "invoice.approve", "invoice", invoiceID, map[string]interface{}{
			"invoice_number":  invoice.InvoiceNumber,
			"previous_status": invoice.Status,
		})
	})
}

// RecordPayment moves an approved invoice to paid. The payment reference
// is mandatory. The invoice's transactions are marked completed, its
// still-active vouchers redeemed, and the payment notification enqueued,
// all in the same transaction.
func (s *InvoiceService) RecordPayment(ctx context.Context, actorID, invoiceID int64, paymentReference string) error {
	if paymentReference == "" {
		return ErrPaymentReferenceRequired
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		invoice, err := s.invoiceRepo.GetByID(ctx, tx, invoiceID)
		if err != nil {
			return err
		}

		now := time.Now()
		err = s.invoiceRepo.UpdateStatus(ctx, tx, invoiceID, model.InvoiceStatusApproved, model.InvoiceStatusPaid,
			map[string]interface{}{
				"payment_recorded_at": now,
				"payment_reference":   paymentReference,
			})
		if err != nil {
			return err
		}

		if err := s.txnRepo.CompleteByInvoice(ctx, tx, invoiceID); err != nil {
			return fmt.Errorf("completing invoice transactions: %w", err)
		}
		if err := s.voucherRepo.RedeemActiveByInvoice(ctx, tx, invoiceID); err != nil {
			return fmt.Errorf("redeeming invoice vouchers: %w", err)
		}

		if err := s.events.notify(ctx, tx, s.cfg.Kafka.Topic.InvoiceEvents, invoice.InvoiceNumber, model.EventPaymentIssued, map[string]interface{}{
			"invoice_id":        invoiceID,
			"invoice_number":    invoice.InvoiceNumber,
			"vendor_id":         invoice.VendorID,
			"total_amount":      invoice.TotalAmount.String(),
			"payment_reference": paymentReference,
			"recorded_at":       now.Format(time.RFC3339),
		}); err != nil {
			return fmt.Errorf("enqueueing notification: %w", err)
		}

		return s.events.audit(ctx, tx, actorID, "invoice.record_payment", "invoice", invoiceID, map[string]interface{}{
			"invoice_number":    invoice.InvoiceNumber,
			"payment_reference": paymentReference,
		})
	})
	if err != nil {
		return err
	}

	s.logger.Info("invoice payment recorded",
		zap.Int64("invoice_id", invoiceID),
		zap.String("payment_reference", paymentReference))

	return nil
}

// CancelInvoice cancels a pending or approved invoice. Swept transactions
// keep their invoice_id stamp; the association is one-way.
func (s *InvoiceService) CancelInvoice(ctx context.Context, actorID, invoiceID int64) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		invoice, err := s.invoiceRepo.GetByID(ctx, tx, invoiceID)
		if err != nil {
			return err
		}

		err = s.invoiceRepo.UpdateStatus(ctx, tx, invoiceID, invoice.Status, model.InvoiceStatusCancelled, nil)
		if err != nil {
			return err
		}

		return s.events.audit(ctx, tx, actorID, "invoice.cancel", "invoice", invoiceID, map[string]interface{}{
			"invoice_number":  invoice.InvoiceNumber,
			"previous_status": invoice.Status,
		})
	})
}

func (s *InvoiceService) GetInvoice(ctx context.Context, invoiceID int64) (*model.Invoice, error) {
	return s.invoiceRepo.GetByID(ctx, nil, invoiceID)
}

func (s *InvoiceService) ListVendorInvoices(ctx context.Context, vendorID int64, page, pageSize int) ([]*model.Invoice, int64, error) {
	return s.invoiceRepo.ListByVendor(ctx, vendorID, page, pageSize)
}
