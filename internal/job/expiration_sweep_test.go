package job

import (
	"context"
	"testing"
	"time"

	"voucherledger/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func seedVoucherIssuedAt(t *testing.T, db *gorm.DB, code string, status string, issuedAt time.Time) *model.Voucher {
	t.Helper()
	voucher := &model.Voucher{
		Code:           code,
		ApplicationID:  time.Now().UnixNano(),
		InitialValue:   decimal.NewFromInt(500),
		RemainingValue: decimal.NewFromInt(500),
		Status:         status,
		IssuedAt:       issuedAt,
	}
	require.NoError(t, db.Create(voucher).Error)
	return voucher
}

func TestExpirationSweep_ExpiresPastValidity(t *testing.T) {
	db := newTestDB(t)
	sweep := NewExpirationSweep(db, testConfig(), zap.NewNop())
	ctx := context.Background()

	require.NoError(t, db.Create(&model.Policy{Key: model.PolicyVoucherValidityMonths, Value: 12}).Error)

	old := seedVoucherIssuedAt(t, db, "EXPSWEEP01", model.VoucherStatusActive, time.Now().AddDate(0, -13, 0))
	fresh := seedVoucherIssuedAt(t, db, "EXPSWEEP02", model.VoucherStatusActive, time.Now().AddDate(0, -1, 0))

	assert.Equal(t, 1, sweep.Sweep(ctx))

	var got model.Voucher
	require.NoError(t, db.First(&got, old.ID).Error)
	assert.Equal(t, model.VoucherStatusExpired, got.Status)

	got = model.Voucher{}
	require.NoError(t, db.First(&got, fresh.ID).Error)
	assert.Equal(t, model.VoucherStatusActive, got.Status)

	// Expiration notification and audit row, attributed to the system actor.
	var messages []model.OutboxMessage
	require.NoError(t, db.Where("message_key = ?", old.Code).Find(&messages).Error)
	require.Len(t, messages, 1)
	assert.Contains(t, messages[0].Payload, model.EventVoucherExpired)

	var audits []model.AuditEvent
	require.NoError(t, db.Where("action = ? AND entity_id = ?", "voucher.expire", old.ID).Find(&audits).Error)
	require.Len(t, audits, 1)
	assert.Equal(t, int64(0), audits[0].ActorID)

	// A second pass finds nothing: the notification fires exactly once.
	assert.Equal(t, 0, sweep.Sweep(ctx))
	require.NoError(t, db.Where("message_key = ?", old.Code).Find(&messages).Error)
	assert.Len(t, messages, 1)
}

func TestExpirationSweep_NoValidityPolicyMeansNoExpiry(t *testing.T) {
	db := newTestDB(t)
	sweep := NewExpirationSweep(db, testConfig(), zap.NewNop())
	ctx := context.Background()

	seedVoucherIssuedAt(t, db, "EXPSWEEP03", model.VoucherStatusActive, time.Now().AddDate(-5, 0, 0))

	assert.Equal(t, 0, sweep.Sweep(ctx))
	assert.Equal(t, int64(1), countActive(t, db))
}

func TestExpirationSweep_ZeroValidityMeansNoExpiry(t *testing.T) {
	db := newTestDB(t)
	sweep := NewExpirationSweep(db, testConfig(), zap.NewNop())
	ctx := context.Background()

	require.NoError(t, db.Create(&model.Policy{Key: model.PolicyVoucherValidityMonths, Value: 0}).Error)
	seedVoucherIssuedAt(t, db, "EXPSWEEP04", model.VoucherStatusActive, time.Now().AddDate(-5, 0, 0))

	assert.Equal(t, 0, sweep.Sweep(ctx))
	assert.Equal(t, int64(1), countActive(t, db))
}

func countActive(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var count int64
	require.NoError(t, db.Model(&model.Voucher{}).
		Where("status = ?", model.VoucherStatusActive).Count(&count).Error)
	return count
}
