package service

import (
	"context"
	"errors"
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

// errRedeemInvalid aborts the redemption transaction when the re-check
// under the lock fails. It never leaves this package; callers see a
// RedemptionResult with Redeemed=false.
var errRedeemInvalid = errors.New("redemption validity re-check failed")

// RedemptionService executes the check-then-decrement that debits a
// voucher. Two concurrent redemptions of the same voucher serialize on the
// per-voucher lock; the guarded balance update is the second line of
// defense against overdraw.
type RedemptionService struct {
	db          *gorm.DB
	locks       lock.Provider
	cfg         *config.Config
	voucherRepo *repository.VoucherRepository
	txnRepo     *repository.TransactionRepository
	userRepo    *repository.UserRepository
	policyRepo  *repository.PolicyRepository
	events      *eventWriter
	logger      *zap.Logger
}

func NewRedemptionService(db *gorm.DB, locks lock.Provider, cfg *config.Config, logger *zap.Logger) *RedemptionService {
	return &RedemptionService{
		db:          db,
		locks:       locks,
		cfg:         cfg,
		voucherRepo: repository.NewVoucherRepository(db),
		txnRepo:     repository.NewTransactionRepository(db),
		userRepo:    repository.NewUserRepository(db),
		policyRepo:  repository.NewPolicyRepository(db),
		events:      newEventWriter(db),
		logger:      logger,
	}
}

// RedemptionResult is the outcome of a redemption attempt. An invalid
// request is not an error: Redeemed is false, Reason says why, and nothing
// was written. Errors are reserved for infrastructure failures.
type RedemptionResult struct {
	Redeemed       bool                      `json:"redeemed"`
	Reason         string                    `json:"reason,omitempty"`
	Transaction    *model.VoucherTransaction `json:"transaction,omitempty"`
	RemainingValue decimal.Decimal           `json:"remaining_value"`
	VoucherStatus  string                    `json:"voucher_status,omitempty"`
}

// CanRedeem is the validity predicate: voucher active, inside the validity
// window, amount within [policy minimum, remaining value]. Pass the
// enclosing transaction when calling it mid-transaction. A missing policy
// row means "not configured" and falls back to the permissive default; any
// other storage error is returned as an error, never folded into a
// business rejection.
func (s *RedemptionService) CanRedeem(ctx context.Context, tx *gorm.DB, voucher *model.Voucher, amount decimal.Decimal) (bool, string, error) {
	if voucher.Status != model.VoucherStatusActive {
		return false, "voucher is not active", nil
	}

	validityMonths, err := s.policyRepo.GetValue(ctx, tx, model.PolicyVoucherValidityMonths)
	if err != nil && !errors.Is(err, repository.ErrPolicyNotFound) {
		return false, "", fmt.Errorf("reading validity policy: %w", err)
	}
	if voucher.Expired(int(validityMonths), time.Now()) {
		return false, "voucher has expired", nil
	}

	if !amount.IsPositive() {
		return false, "amount must be positive", nil
	}

	minimum, err := s.policyRepo.GetValue(ctx, tx, model.PolicyMinimumRedemptionAmount)
	if err != nil && !errors.Is(err, repository.ErrPolicyNotFound) {
		return false, "", fmt.Errorf("reading minimum redemption policy: %w", err)
	}
	if amount.LessThan(decimal.NewFromInt(minimum)) {
		return false, "amount is below the minimum redemption amount", nil
	}

	if amount.GreaterThan(voucher.RemainingValue) {
		return false, "amount exceeds remaining value", nil
	}

	return true, "", nil
}

// Redeem debits amount from the voucher on behalf of the vendor. Steps
// under the per-voucher lock: re-check validity against a fresh row,
// append the completed ledger entry, decrement the balance with the
// guarded update, transition to REDEEMED on exact zero, and enqueue the
// notification — all in one database transaction. Any failure rolls the
// whole redemption back; no partial ledger entries survive.
func (s *RedemptionService) Redeem(ctx context.Context, actorID int64, code string, amount decimal.Decimal, vendorID int64) (*RedemptionResult, error) {
	vendor, err := s.userRepo.GetByID(ctx, vendorID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrVendorNotAuthorized
		}
		return nil, err
	}
	if !vendor.CanRedeemVouchers() {
		return nil, ErrVendorNotAuthorized
	}

	voucher, err := s.voucherRepo.GetByCode(ctx, nil, code)
	if err != nil {
		return nil, err
	}

	// Fast path: reject without taking the lock.
	ok, reason, err := s.CanRedeem(ctx, nil, voucher, amount)
	if err != nil {
		s.logger.Error("redemption policy lookup failed",
			zap.String("code", code),
			zap.Error(err))
		return nil, err
	}
	if !ok {
		return &RedemptionResult{
			Redeemed:       false,
			Reason:         reason,
			RemainingValue: voucher.RemainingValue,
			VoucherStatus:  voucher.Status,
		}, nil
	}

	voucherLock := s.locks.VoucherLock(code)
	if err := voucherLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
		return nil, fmt.Errorf("acquiring voucher lock: %w", err)
	}
	defer voucherLock.Unlock(ctx)

	var (
		result  *RedemptionResult
		invalid *RedemptionResult
	)

	err = s.db.Transaction(func(tx *gorm.DB) error {
		v, err := s.voucherRepo.GetByCode(ctx, tx, code)
		if err != nil {
			return err
		}

		// Re-check against the fresh row: the balance may have moved
		// while we waited for the lock.
		ok, reason, err := s.CanRedeem(ctx, tx, v, amount)
		if err != nil {
			return err
		}
		if !ok {
			invalid = &RedemptionResult{
				Redeemed:       false,
				Reason:         reason,
				RemainingValue: v.RemainingValue,
				VoucherStatus:  v.Status,
			}
			return errRedeemInvalid
		}

		now := time.Now()
		transaction := &model.VoucherTransaction{
			ReferenceNumber: idgen.GenerateReferenceNumber(),
			VoucherID:       v.ID,
			VendorID:        vendorID,
			Amount:          amount,
			TransactionType: model.TransactionTypeRedemption,
			Status:          model.TransactionStatusCompleted,
			ProcessedAt:     now,
		}
		if err := s.txnRepo.Create(ctx, tx, transaction); err != nil {
			return fmt.Errorf("recording ledger entry: %w", err)
		}

		if err := s.voucherRepo.DecrementBalance(ctx, tx, v.ID, amount, vendorID, v.Version, now); err != nil {
			return fmt.Errorf("decrementing balance: %w", err)
		}

		newRemaining := v.RemainingValue.Sub(amount)
		newStatus := v.Status
		if newRemaining.IsZero() {
			if err := s.voucherRepo.UpdateStatus(ctx, tx, v.ID, model.VoucherStatusActive, model.VoucherStatusRedeemed); err != nil {
				return fmt.Errorf("transitioning to redeemed: %w", err)
			}
			newStatus = model.VoucherStatusRedeemed
		}

		if err := s.events.audit(ctx, tx, actorID, "voucher.redeem", "voucher", v.ID, map[string]interface{}{
			"reference_number": transaction.ReferenceNumber,
			"vendor_id":        vendorID,
			"amount":           amount.String(),
			"remaining_before": v.RemainingValue.String(),
			"remaining_after":  newRemaining.String(),
		}); err != nil {
			return fmt.Errorf("recording audit event: %w", err)
		}

		if err := s.events.notify(ctx, tx, s.cfg.Kafka.Topic.VoucherEvents, code, model.EventVoucherRedeemed, map[string]interface{}{
			"voucher_id":       v.ID,
			"code":             code,
			"vendor_id":        vendorID,
			"amount":           amount.String(),
			"remaining_value":  newRemaining.String(),
			"reference_number": transaction.ReferenceNumber,
			"processed_at":     now.Format(time.RFC3339),
		}); err != nil {
			return fmt.Errorf("enqueueing notification: %w", err)
		}

		result = &RedemptionResult{
			Redeemed:       true,
			Transaction:    transaction,
			RemainingValue: newRemaining,
			VoucherStatus:  newStatus,
		}
		return nil
	})

	if errors.Is(err, errRedeemInvalid) {
		return invalid, nil
	}
	if err != nil {
		s.logger.Error("redemption failed",
			zap.String("code", code),
			zap.Int64("vendor_id", vendorID),
			zap.String("amount", amount.String()),
			zap.Error(err))
		return nil, err
	}

	s.logger.Info("voucher redeemed",
		zap.String("code", code),
		zap.Int64("vendor_id", vendorID),
		zap.String("amount", amount.String()),
		zap.String("remaining_value", result.RemainingValue.String()))

	return result, nil
}

// GetVoucher looks a voucher up by code.
func (s *RedemptionService) GetVoucher(ctx context.Context, code string) (*model.Voucher, error) {
	return s.voucherRepo.GetByCode(ctx, nil, code)
}

// ListTransactions pages through a voucher's ledger entries, newest first.
func (s *RedemptionService) ListTransactions(ctx context.Context, code string, page, pageSize int) ([]*model.VoucherTransaction, int64, error) {
	voucher, err := s.voucherRepo.GetByCode(ctx, nil, code)
	if err != nil {
		return nil, 0, err
	}
	return s.txnRepo.ListByVoucher(ctx, voucher.ID, page, pageSize)
}

// Cancel is the administrative stop: allowed only from ISSUED/ACTIVE,
// appends a timestamped note, creates and reverses no transactions.
// Completed redemptions stay on the ledger; only future redemptions are
// prevented.
func (s *RedemptionService) Cancel(ctx context.Context, actorID int64, code, note string) error {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		v, err := s.voucherRepo.GetByCode(ctx, tx, code)
		if err != nil {
			return err
		}

		notes := v.Notes
		if notes != "" {
			notes += "\n"
		}
		notes += fmt.Sprintf("[%s] cancelled by actor %d", time.Now().Format(time.RFC3339), actorID)
		if note != "" {
			notes += ": " + note
		}

		if err := s.voucherRepo.CancelWithNote(ctx, tx, v.ID, notes); err != nil {
			return err
		}

		return s.events.audit(ctx, tx, actorID, "voucher.cancel", "voucher", v.ID, map[string]interface{}{
			"code":            code,
			"previous_status": v.Status,
			"note":            note,
		})
	})
	if err != nil {
		return err
	}

	s.logger.Info("voucher cancelled",
		zap.String("code", code),
		zap.Int64("actor_id", actorID))

	return nil
}
