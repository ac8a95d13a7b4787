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

const defaultCodeMaxAttempts = 10

// IssuanceService creates vouchers for approved, medically certified
// applications. The initial value is computed once, from the policy store,
// and never recomputed.
type IssuanceService struct {
	db          *gorm.DB
	locks       lock.Provider
	cfg         *config.Config
	appRepo     *repository.ApplicationRepository
	voucherRepo *repository.VoucherRepository
	policyRepo  *repository.PolicyRepository
	events      *eventWriter
	logger      *zap.Logger
}

func NewIssuanceService(db *gorm.DB, locks lock.Provider, cfg *config.Config, logger *zap.Logger) *IssuanceService {
	return &IssuanceService{
		db:          db,
		locks:       locks,
		cfg:         cfg,
		appRepo:     repository.NewApplicationRepository(db),
		voucherRepo: repository.NewVoucherRepository(db),
		policyRepo:  repository.NewPolicyRepository(db),
		events:      newEventWriter(db),
		logger:      logger,
	}
}

// IssueVoucher issues the single voucher an application is entitled to.
// Preconditions are checked before, and re-checked after, taking the
// per-application lock, so concurrent approval attempts produce exactly
// one voucher. The whole write is one database transaction.
func (s *IssuanceService) IssueVoucher(ctx context.Context, actorID, applicationID int64) (*model.Voucher, error) {
	app, err := s.appRepo.GetByID(ctx, nil, applicationID)
	if err != nil {
		return nil, err
	}

	if app.Status != model.ApplicationStatusApproved {
		return nil, ErrApplicationNotApproved
	}
	if app.MedicalCertificationStatus != model.CertificationStatusAccepted {
		return nil, ErrCertificationNotAccepted
	}

	existing, err := s.voucherRepo.GetByApplicationID(ctx, nil, applicationID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrVoucherAlreadyIssued
	}

	appLock := s.locks.ApplicationLock(applicationID)
	if err := appLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
		return nil, fmt.Errorf("acquiring application lock: %w", err)
	}
	defer appLock.Unlock(ctx)

	// Re-check under the lock: another request may have issued while we
	// were waiting.
	existing, err = s.voucherRepo.GetByApplicationID(ctx, nil, applicationID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrVoucherAlreadyIssued
	}

	initialValue, err := s.computeInitialValue(ctx, app)
	if err != nil {
		return nil, err
	}
	if initialValue.IsZero() {
		return nil, ErrNoVoucherValue
	}

	code, err := s.generateUniqueCode(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	voucher := &model.Voucher{
		Code:           code,
		ApplicationID:  applicationID,
		InitialValue:   initialValue,
		RemainingValue: initialValue,
		Status:         model.VoucherStatusActive,
		IssuedAt:       now,
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.voucherRepo.Create(ctx, tx, voucher); err != nil {
			return fmt.Errorf("creating voucher: %w", err)
		}

		if err := s.events.audit(ctx, tx, actorID, "voucher.issue", "voucher", voucher.ID, map[string]interface{}{
			"application_id": applicationID,
			"code":           code,
			"initial_value":  initialValue.String(),
		}); err != nil {
			return fmt.Errorf("recording audit event: %w", err)
		}

		if err := s.events.notify(ctx, tx, s.cfg.Kafka.Topic.VoucherEvents, code, model.EventVoucherAssigned, map[string]interface{}{
			"voucher_id":     voucher.ID,
			"code":           code,
			"application_id": applicationID,
			"constituent_id": app.ConstituentID,
			"initial_value":  initialValue.String(),
			"issued_at":      now.Format(time.RFC3339),
		}); err != nil {
			return fmt.Errorf("enqueueing notification: %w", err)
		}

		return nil
	})
	if err != nil {
		s.logger.Error("voucher issuance failed",
			zap.Int64("application_id", applicationID),
			zap.Error(err))
		return nil, err
	}

	s.logger.Info("voucher issued",
		zap.String("code", code),
		zap.Int64("application_id", applicationID),
		zap.String("initial_value", initialValue.String()))

	return voucher, nil
}

// computeInitialValue sums the per-disability policy values over the
// application's disability profile.
func (s *IssuanceService) computeInitialValue(ctx context.Context, app *model.Application) (decimal.Decimal, error) {
	disabilities := app.Disabilities()
	keys := make([]string, 0, len(disabilities))
	for _, d := range disabilities {
		keys = append(keys, "voucher_value_for_"+d)
	}

	values, err := s.policyRepo.GetValues(ctx, keys)
	if err != nil {
		return decimal.Zero, err
	}

	total := decimal.Zero
	for _, key := range keys {
		total = total.Add(decimal.NewFromInt(values[key]))
	}
	return total, nil
}

// generateUniqueCode retries on collision up to the configured cap. The
// unique index on voucher.code remains the final backstop if two requests
// pick the same code between check and insert.
func (s *IssuanceService) generateUniqueCode(ctx context.Context) (string, error) {
	maxAttempts := s.cfg.Business.VoucherCodeMaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultCodeMaxAttempts
	}

	for i := 0; i < maxAttempts; i++ {
		code := idgen.GenerateVoucherCode()
		exists, err := s.voucherRepo.CodeExists(ctx, code)
		if err != nil {
			return "", err
		}
		if !exists {
			return code, nil
		}
	}

	s.logger.Error("voucher code generation exhausted retries",
		zap.Int("max_attempts", maxAttempts))
	return "", ErrCodeGenerationExhausted
}
