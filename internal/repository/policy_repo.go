package repository

import (
	"context"
	"errors"

	"voucherledger/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrPolicyNotFound = errors.New("policy not found")

type PolicyRepository struct {
	db *gorm.DB
}

func NewPolicyRepository(db *gorm.DB) *PolicyRepository {
	return &PolicyRepository{db: db}
}

func (r *PolicyRepository) GetValue(ctx context.Context, tx *gorm.DB, key string) (int64, error) {
	if tx == nil {
		tx = r.db
	}
	var policy model.Policy
	err := tx.WithContext(ctx).Where("`key` = ?", key).First(&policy).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrPolicyNotFound
		}
		return 0, err
	}
	return policy.Value, nil
}

// GetValues fetches several policies at once; missing keys are simply
// absent from the result map.
func (r *PolicyRepository) GetValues(ctx context.Context, keys []string) (map[string]int64, error) {
	var policies []model.Policy
	err := r.db.WithContext(ctx).Where("`key` IN ?", keys).Find(&policies).Error
	if err != nil {
		return nil, err
	}
	values := make(map[string]int64, len(policies))
	for _, p := range policies {
		values[p.Key] = p.Value
	}
	return values, nil
}

func (r *PolicyRepository) List(ctx context.Context) ([]*model.Policy, error) {
	var policies []*model.Policy
	err := r.db.WithContext(ctx).Order("`key` ASC").Find(&policies).Error
	return policies, err
}

func (r *PolicyRepository) Upsert(ctx context.Context, tx *gorm.DB, key string, value int64) error {
	if tx == nil {
		tx = r.db
	}
	policy := &model.Policy{Key: key, Value: value}
	return tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.Assignments(map[string]interface{}{"value": value}),
		}).
		Create(policy).Error
}

// RecordChange appends to the policy audit trail. Never updated, never
// deleted.
func (r *PolicyRepository) RecordChange(ctx context.Context, tx *gorm.DB, change *model.PolicyChange) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(change).Error
}
