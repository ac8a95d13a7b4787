package job

import (
	"context"
	"errors"
	"fmt"
	"time"

	"voucherledger/internal/config"
	"voucherledger/internal/model"
	"voucherledger/internal/repository"
	"voucherledger/internal/service"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ExpirationSweep materializes EXPIRED for vouchers past their validity
// window. Expiration itself is a derived predicate on issued_at plus the
// validity policy; this sweep turns it into a stored status and fires the
// expiration notification. The guarded transition reports whether this
// pass performed it, so the notification goes out exactly once per
// voucher even with overlapping sweeps.
type ExpirationSweep struct {
	db          *gorm.DB
	voucherRepo *repository.VoucherRepository
	policyRepo  *repository.PolicyRepository
	outboxRepo  *repository.OutboxRepository
	auditRepo   *repository.AuditRepository
	cfg         *config.Config
	logger      *zap.Logger
	stopCh      chan struct{}
	interval    time.Duration
	batchSize   int
}

func NewExpirationSweep(db *gorm.DB, cfg *config.Config, logger *zap.Logger) *ExpirationSweep {
	interval := time.Duration(cfg.Business.ExpirationSweepMinutes) * time.Minute
	if interval <= 0 {
		interval = time.Hour
	}
	return &ExpirationSweep{
		db:          db,
		voucherRepo: repository.NewVoucherRepository(db),
		policyRepo:  repository.NewPolicyRepository(db),
		outboxRepo:  repository.NewOutboxRepository(db),
		auditRepo:   repository.NewAuditRepository(db),
		cfg:         cfg,
		logger:      logger,
		stopCh:      make(chan struct{}),
		interval:    interval,
		batchSize:   100,
	}
}

func (j *ExpirationSweep) Start(ctx context.Context) {
	j.logger.Info("expiration sweep started", zap.Duration("interval", j.interval))

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("expiration sweep stopping: context cancelled")
			return
		case <-j.stopCh:
			j.logger.Info("expiration sweep stopped")
			return
		case <-ticker.C:
			j.Sweep(ctx)
		}
	}
}

func (j *ExpirationSweep) Stop() {
	close(j.stopCh)
}

// Sweep runs one pass. Exported so tests and operators can trigger it
// directly.
func (j *ExpirationSweep) Sweep(ctx context.Context) int {
	validityMonths, err := j.policyRepo.GetValue(ctx, nil, model.PolicyVoucherValidityMonths)
	if err != nil {
		if !errors.Is(err, repository.ErrPolicyNotFound) {
			j.logger.Error("reading validity policy", zap.Error(err))
		}
		// No validity policy means vouchers never expire.
		return 0
	}
	if validityMonths <= 0 {
		return 0
	}

	cutoff := time.Now().AddDate(0, -int(validityMonths), 0)
	vouchers, err := j.voucherRepo.ListIssuedBefore(ctx, cutoff, j.batchSize)
	if err != nil {
		j.logger.Error("querying expirable vouchers", zap.Error(err))
		return 0
	}

	expired := 0
	for _, v := range vouchers {
		if j.expireVoucher(ctx, v) {
			expired++
		}
	}

	if expired > 0 {
		j.logger.Info("expiration sweep pass complete", zap.Int("expired", expired))
	}
	return expired
}

func (j *ExpirationSweep) expireVoucher(ctx context.Context, v *model.Voucher) bool {
	transitioned := false

	err := j.db.Transaction(func(tx *gorm.DB) error {
		done, err := j.voucherRepo.ExpireIfDue(ctx, tx, v.ID)
		if err != nil {
			return err
		}
		if !done {
			// Another sweep or a concurrent transition got there first.
			return nil
		}
		transitioned = true

		payload := fmt.Sprintf(`{"event":%q,"voucher_id":%d,"code":%q,"remaining_value":%q}`,
			model.EventVoucherExpired, v.ID, v.Code, v.RemainingValue.String())
		if err := j.outboxRepo.Create(ctx, tx, &model.OutboxMessage{
			MessageKey: v.Code,
			Topic:      j.cfg.Kafka.Topic.VoucherEvents,
			Payload:    payload,
			Status:     model.OutboxStatusPending,
		}); err != nil {
			return err
		}

		return j.auditRepo.Append(ctx, tx, &model.AuditEvent{
			ActorID:    service.ActorSystem,
			Action:     "voucher.expire",
			EntityType: "voucher",
			EntityID:   v.ID,
			Metadata:   fmt.Sprintf(`{"code":%q,"previous_status":%q}`, v.Code, v.Status),
		})
	})
	if err != nil {
		j.logger.Error("expiring voucher",
			zap.String("code", v.Code),
			zap.Error(err))
		return false
	}

	return transitioned
}
