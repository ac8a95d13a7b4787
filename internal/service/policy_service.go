package service

import (
	"context"
	"errors"

	"voucherledger/internal/model"
	"voucherledger/internal/repository"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

type PolicyService struct {
	db         *gorm.DB
	policyRepo *repository.PolicyRepository
	events     *eventWriter
	logger     *zap.Logger
}

func NewPolicyService(db *gorm.DB, logger *zap.Logger) *PolicyService {
	return &PolicyService{
		db:         db,
		policyRepo: repository.NewPolicyRepository(db),
		events:     newEventWriter(db),
		logger:     logger,
	}
}

func (s *PolicyService) Get(ctx context.Context, key string) (int64, error) {
	return s.policyRepo.GetValue(ctx, nil, key)
}

func (s *PolicyService) List(ctx context.Context) ([]*model.Policy, error) {
	return s.policyRepo.List(ctx)
}

// Set upserts a policy value and appends the PolicyChange audit row in one
// transaction. Rate-limit-class keys are bounded to (0,100]; everything
// else is any non-negative integer.
func (s *PolicyService) Set(ctx context.Context, actorID int64, key string, value int64) error {
	if value < 0 {
		return ErrPolicyValueOutOfRange
	}
	if model.RateLimitPolicyKey(key) && (value <= 0 || value > 100) {
		return ErrPolicyValueOutOfRange
	}

	previous, err := s.policyRepo.GetValue(ctx, nil, key)
	if err != nil && !errors.Is(err, repository.ErrPolicyNotFound) {
		return err
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.policyRepo.Upsert(ctx, tx, key, value); err != nil {
			return err
		}

		if err := s.policyRepo.RecordChange(ctx, tx, &model.PolicyChange{
			PolicyKey:     key,
			PreviousValue: previous,
			NewValue:      value,
			ActorID:       actorID,
		}); err != nil {
			return err
		}

		return s.events.audit(ctx, tx, actorID, "policy.set", "policy", 0, map[string]interface{}{
			"key":            key,
			"previous_value": previous,
			"new_value":      value,
		})
	})
	if err != nil {
		return err
	}

	s.logger.Info("policy updated",
		zap.String("key", key),
		zap.Int64("previous_value", previous),
		zap.Int64("new_value", value),
		zap.Int64("actor_id", actorID))

	return nil
}
