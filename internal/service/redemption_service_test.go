package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"voucherledger/internal/infrastructure/lock"
	"voucherledger/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newRedemptionService(t *testing.T) (*RedemptionService, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	return NewRedemptionService(db, lock.NewLocalProvider(), testConfig(), zap.NewNop()), db
}

func TestRedeem_DebitsAndRecordsLedgerEntry(t *testing.T) {
	svc, db := newRedemptionService(t)
	ctx := context.Background()

	vendor := seedVendor(t, db)
	app := seedApplication(t, db, model.ApplicationStatusApproved, model.CertificationStatusAccepted, "hearing")
	voucher := seedActiveVoucher(t, db, app.ID, "1000", "1000")

	result, err := svc.Redeem(ctx, vendor.ID, voucher.Code, decimal.NewFromInt(250), vendor.ID)
	require.NoError(t, err)

	require.True(t, result.Redeemed)
	assert.True(t, result.RemainingValue.Equal(decimal.NewFromInt(750)))
	assert.Equal(t, model.VoucherStatusActive, result.VoucherStatus)

	txn := result.Transaction
	require.NotNil(t, txn)
	assert.True(t, strings.HasPrefix(txn.ReferenceNumber, "TXN-"))
	assert.Equal(t, model.TransactionTypeRedemption, txn.TransactionType)
	assert.Equal(t, model.TransactionStatusCompleted, txn.Status)
	assert.True(t, txn.Amount.Equal(decimal.NewFromInt(250)))

	fresh := &model.Voucher{}
	require.NoError(t, db.First(fresh, voucher.ID).Error)
	assert.True(t, fresh.RemainingValue.Equal(decimal.NewFromInt(750)))
	assert.NotNil(t, fresh.LastUsedAt)
	require.NotNil(t, fresh.VendorID)
	assert.Equal(t, vendor.ID, *fresh.VendorID)
}

func TestRedeem_MinimumAmountPolicy(t *testing.T) {
	svc, db := newRedemptionService(t)
	ctx := context.Background()

	vendor := seedVendor(t, db)
	app := seedApplication(t, db, model.ApplicationStatusApproved, model.CertificationStatusAccepted, "hearing")
	voucher := seedActiveVoucher(t, db, app.ID, "100", "100")
	seedPolicy(t, db, model.PolicyMinimumRedemptionAmount, 10)

	// 60 is within [10, 100]: accepted.
	result, err := svc.Redeem(ctx, vendor.ID, voucher.Code, decimal.NewFromInt(60), vendor.ID)
	require.NoError(t, err)
	require.True(t, result.Redeemed)
	assert.True(t, result.RemainingValue.Equal(decimal.NewFromInt(40)))

	// 50 exceeds the remaining 40: rejected silently, nothing written.
	result, err = svc.Redeem(ctx, vendor.ID, voucher.Code, decimal.NewFromInt(50), vendor.ID)
	require.NoError(t, err)
	assert.False(t, result.Redeemed)
	assert.Equal(t, "amount exceeds remaining value", result.Reason)
	assert.True(t, result.RemainingValue.Equal(decimal.NewFromInt(40)))

	// 5 is below the policy minimum: rejected silently.
	result, err = svc.Redeem(ctx, vendor.ID, voucher.Code, decimal.NewFromInt(5), vendor.ID)
	require.NoError(t, err)
	assert.False(t, result.Redeemed)
	assert.Equal(t, "amount is below the minimum redemption amount", result.Reason)

	assert.Equal(t, int64(1), countRows(t, db, &model.VoucherTransaction{}, "voucher_id = ?", voucher.ID),
		"rejected attempts must leave no ledger entries")
}

func TestRedeem_ExactZeroTransitionsToRedeemed(t *testing.T) {
	svc, db := newRedemptionService(t)
	ctx := context.Background()

	vendor := seedVendor(t, db)
	app := seedApplication(t, db, model.ApplicationStatusApproved, model.CertificationStatusAccepted, "vision")
	voucher := seedActiveVoucher(t, db, app.ID, "300", "300")

	result, err := svc.Redeem(ctx, vendor.ID, voucher.Code, decimal.NewFromInt(300), vendor.ID)
	require.NoError(t, err)
	require.True(t, result.Redeemed)
	assert.True(t, result.RemainingValue.IsZero())
	assert.Equal(t, model.VoucherStatusRedeemed, result.VoucherStatus)

	// Terminal: a further redemption is silently rejected.
	result, err = svc.Redeem(ctx, vendor.ID, voucher.Code, decimal.NewFromInt(1), vendor.ID)
	require.NoError(t, err)
	assert.False(t, result.Redeemed)
	assert.Equal(t, "voucher is not active", result.Reason)
}

func TestRedeem_NonPositiveAmount(t *testing.T) {
	svc, db := newRedemptionService(t)
	ctx := context.Background()

	vendor := seedVendor(t, db)
	app := seedApplication(t, db, model.ApplicationStatusApproved, model.CertificationStatusAccepted, "hearing")
	voucher := seedActiveVoucher(t, db, app.ID, "100", "100")

	for _, amount := range []decimal.Decimal{decimal.Zero, decimal.NewFromInt(-10)} {
		result, err := svc.Redeem(ctx, vendor.ID, voucher.Code, amount, vendor.ID)
		require.NoError(t, err)
		assert.False(t, result.Redeemed)
		assert.Equal(t, "amount must be positive", result.Reason)
	}
}

func TestRedeem_ExpiredVoucherRejected(t *testing.T) {
	svc, db := newRedemptionService(t)
	ctx := context.Background()

	vendor := seedVendor(t, db)
	app := seedApplication(t, db, model.ApplicationStatusApproved, model.CertificationStatusAccepted, "hearing")
	voucher := seedActiveVoucher(t, db, app.ID, "100", "100")
	seedPolicy(t, db, model.PolicyVoucherValidityMonths, 12)

	// Push issuance past the validity window. The status column still says
	// ACTIVE; expiration is derived at redemption time.
	require.NoError(t, db.Model(&model.Voucher{}).
		Where("id = ?", voucher.ID).
		Update("issued_at", time.Now().AddDate(0, -13, 0)).Error)

	result, err := svc.Redeem(ctx, vendor.ID, voucher.Code, decimal.NewFromInt(50), vendor.ID)
	require.NoError(t, err)
	assert.False(t, result.Redeemed)
	assert.Equal(t, "voucher has expired", result.Reason)
}

func TestRedeem_UnapprovedVendorRejected(t *testing.T) {
	svc, db := newRedemptionService(t)
	ctx := context.Background()

	app := seedApplication(t, db, model.ApplicationStatusApproved, model.CertificationStatusAccepted, "hearing")
	voucher := seedActiveVoucher(t, db, app.ID, "100", "100")

	pending := &model.User{Email: "pending-vendor@example.com", Role: model.RoleVendor, VendorApproved: false}
	require.NoError(t, db.Create(pending).Error)

	_, err := svc.Redeem(ctx, pending.ID, voucher.Code, decimal.NewFromInt(50), pending.ID)
	assert.ErrorIs(t, err, ErrVendorNotAuthorized)

	// Unknown vendor behaves the same.
	_, err = svc.Redeem(ctx, 99999, voucher.Code, decimal.NewFromInt(50), 99999)
	assert.ErrorIs(t, err, ErrVendorNotAuthorized)
}

func TestRedeem_ConcurrentRedemptionsNeverOverdraw(t *testing.T) {
	svc, db := newRedemptionService(t)
	ctx := context.Background()

	vendor := seedVendor(t, db)
	app := seedApplication(t, db, model.ApplicationStatusApproved, model.CertificationStatusAccepted, "hearing")
	voucher := seedActiveVoucher(t, db, app.ID, "100", "100")

	// Ten workers each try to redeem 20 from a 100 voucher: exactly five
	// can succeed.
	const workers = 10
	amount := decimal.NewFromInt(20)

	var wg sync.WaitGroup
	results := make([]*RedemptionResult, workers)
	errs := make([]error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.Redeem(ctx, vendor.ID, voucher.Code, amount, vendor.ID)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		if results[i].Redeemed {
			succeeded++
		}
	}
	assert.Equal(t, 5, succeeded)

	fresh := &model.Voucher{}
	require.NoError(t, db.First(fresh, voucher.ID).Error)
	assert.True(t, fresh.RemainingValue.IsZero(), "remaining value should be exactly zero, got %s", fresh.RemainingValue)
	assert.Equal(t, model.VoucherStatusRedeemed, fresh.Status)

	// The ledger reconciles: completed redemptions sum to the initial value.
	var sum decimal.Decimal
	require.NoError(t, db.Model(&model.VoucherTransaction{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("voucher_id = ? AND status = ?", voucher.ID, model.TransactionStatusCompleted).
		Scan(&sum).Error)
	assert.True(t, sum.Equal(decimal.NewFromInt(100)))
}

func TestCancel_BlocksFutureRedemptions(t *testing.T) {
	svc, db := newRedemptionService(t)
	ctx := context.Background()

	vendor := seedVendor(t, db)
	app := seedApplication(t, db, model.ApplicationStatusApproved, model.CertificationStatusAccepted, "hearing")
	voucher := seedActiveVoucher(t, db, app.ID, "500", "500")

	// A completed redemption before cancellation stays on the ledger.
	result, err := svc.Redeem(ctx, vendor.ID, voucher.Code, decimal.NewFromInt(100), vendor.ID)
	require.NoError(t, err)
	require.True(t, result.Redeemed)

	require.NoError(t, svc.Cancel(ctx, 1, voucher.Code, "equipment returned"))

	fresh := &model.Voucher{}
	require.NoError(t, db.First(fresh, voucher.ID).Error)
	assert.Equal(t, model.VoucherStatusCancelled, fresh.Status)
	assert.Contains(t, fresh.Notes, "equipment returned")
	assert.True(t, fresh.RemainingValue.Equal(decimal.NewFromInt(400)),
		"cancellation must not reverse completed redemptions")

	result, err = svc.Redeem(ctx, vendor.ID, voucher.Code, decimal.NewFromInt(50), vendor.ID)
	require.NoError(t, err)
	assert.False(t, result.Redeemed)

	// Cancelling a terminal voucher is a status violation.
	err = svc.Cancel(ctx, 1, voucher.Code, "again")
	assert.Error(t, err)

	assert.Equal(t, int64(1), countRows(t, db, &model.VoucherTransaction{}, "voucher_id = ?", voucher.ID))
}

func TestRedeem_PolicyStorageErrorIsNotABusinessRejection(t *testing.T) {
	svc, db := newRedemptionService(t)
	ctx := context.Background()

	vendor := seedVendor(t, db)
	app := seedApplication(t, db, model.ApplicationStatusApproved, model.CertificationStatusAccepted, "hearing")
	voucher := seedActiveVoucher(t, db, app.ID, "100", "100")

	// Break the policy store entirely. The failure must surface as an
	// error, not as a silent redeemed=false result.
	require.NoError(t, db.Migrator().DropTable(&model.Policy{}))

	result, err := svc.Redeem(ctx, vendor.ID, voucher.Code, decimal.NewFromInt(50), vendor.ID)
	require.Error(t, err)
	assert.Nil(t, result)

	assert.Equal(t, int64(0), countRows(t, db, &model.VoucherTransaction{}, "voucher_id = ?", voucher.ID))
}

func TestRedeem_MidTransactionFailureLeavesNoTrace(t *testing.T) {
	svc, db := newRedemptionService(t)
	ctx := context.Background()

	vendor := seedVendor(t, db)
	app := seedApplication(t, db, model.ApplicationStatusApproved, model.CertificationStatusAccepted, "hearing")
	voucher := seedActiveVoucher(t, db, app.ID, "100", "100")

	// Fail the voucher balance update, which runs after the ledger entry
	// has been inserted in the same transaction.
	failVoucherUpdates := false
	require.NoError(t, db.Callback().Update().Before("gorm:update").
		Register("redeem_test_fail_voucher_update", func(tx *gorm.DB) {
			if failVoucherUpdates && tx.Statement.Table == "voucher" {
				tx.AddError(errors.New("simulated storage failure"))
			}
		}))
	t.Cleanup(func() {
		db.Callback().Update().Remove("redeem_test_fail_voucher_update")
	})

	failVoucherUpdates = true
	result, err := svc.Redeem(ctx, vendor.ID, voucher.Code, decimal.NewFromInt(40), vendor.ID)
	failVoucherUpdates = false

	require.Error(t, err)
	assert.Nil(t, result)

	// The whole redemption rolled back: no ledger entry, no balance
	// change, no enqueued notification.
	assert.Equal(t, int64(0), countRows(t, db, &model.VoucherTransaction{}, "voucher_id = ?", voucher.ID))
	assert.Equal(t, int64(0), countRows(t, db, &model.OutboxMessage{}, "message_key = ?", voucher.Code))

	fresh := &model.Voucher{}
	require.NoError(t, db.First(fresh, voucher.ID).Error)
	assert.True(t, fresh.RemainingValue.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, model.VoucherStatusActive, fresh.Status)

	// The voucher is still redeemable once storage recovers.
	result, err = svc.Redeem(ctx, vendor.ID, voucher.Code, decimal.NewFromInt(40), vendor.ID)
	require.NoError(t, err)
	require.True(t, result.Redeemed)
	assert.True(t, result.RemainingValue.Equal(decimal.NewFromInt(60)))
}

func TestCanRedeem_Predicate(t *testing.T) {
	svc, db := newRedemptionService(t)
	ctx := context.Background()

	app := seedApplication(t, db, model.ApplicationStatusApproved, model.CertificationStatusAccepted, "hearing")
	voucher := seedActiveVoucher(t, db, app.ID, "100", "100")

	ok, reason, err := svc.CanRedeem(ctx, nil, voucher, decimal.NewFromInt(100))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, reason)

	ok, _, err = svc.CanRedeem(ctx, nil, voucher, decimal.NewFromInt(101))
	require.NoError(t, err)
	assert.False(t, ok)

	voucher.Status = model.VoucherStatusCancelled
	ok, _, err = svc.CanRedeem(ctx, nil, voucher, decimal.NewFromInt(10))
	require.NoError(t, err)
	assert.False(t, ok)
}
