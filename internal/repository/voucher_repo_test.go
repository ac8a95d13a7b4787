package repository

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"voucherledger/internal/infrastructure/database"
	"voucherledger/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var testDBCounter int64

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:repo%d?mode=memory&cache=shared", atomic.AddInt64(&testDBCounter, 1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, database.Migrate(db))
	return db
}

func seedVoucher(t *testing.T, db *gorm.DB, remaining string, status string) *model.Voucher {
	t.Helper()
	voucher := &model.Voucher{
		Code:           fmt.Sprintf("REPO%06d", atomic.AddInt64(&testDBCounter, 1)),
		ApplicationID:  atomic.AddInt64(&testDBCounter, 1),
		InitialValue:   decimal.RequireFromString(remaining),
		RemainingValue: decimal.RequireFromString(remaining),
		Status:         status,
		IssuedAt:       time.Now(),
	}
	require.NoError(t, db.Create(voucher).Error)
	return voucher
}

func TestDecrementBalance_GuardedUpdate(t *testing.T) {
	db := newTestDB(t)
	repo := NewVoucherRepository(db)
	ctx := context.Background()

	voucher := seedVoucher(t, db, "100", model.VoucherStatusActive)

	err := repo.DecrementBalance(ctx, nil, voucher.ID, decimal.NewFromInt(60), 1, voucher.Version, time.Now())
	require.NoError(t, err)

	fresh, err := repo.GetByID(ctx, voucher.ID)
	require.NoError(t, err)
	assert.True(t, fresh.RemainingValue.Equal(decimal.NewFromInt(40)))
	assert.Equal(t, voucher.Version+1, fresh.Version)
}

func TestDecrementBalance_ClassifiesLostRaces(t *testing.T) {
	db := newTestDB(t)
	repo := NewVoucherRepository(db)
	ctx := context.Background()

	t.Run("insufficient balance", func(t *testing.T) {
		voucher := seedVoucher(t, db, "50", model.VoucherStatusActive)
		err := repo.DecrementBalance(ctx, nil, voucher.ID, decimal.NewFromInt(60), 1, voucher.Version, time.Now())
		assert.ErrorIs(t, err, ErrInsufficientBalance)
	})

	t.Run("not active", func(t *testing.T) {
		voucher := seedVoucher(t, db, "100", model.VoucherStatusCancelled)
		err := repo.DecrementBalance(ctx, nil, voucher.ID, decimal.NewFromInt(10), 1, voucher.Version, time.Now())
		assert.ErrorIs(t, err, ErrVoucherStatusInvalid)
	})

	t.Run("stale version", func(t *testing.T) {
		voucher := seedVoucher(t, db, "100", model.VoucherStatusActive)
		err := repo.DecrementBalance(ctx, nil, voucher.ID, decimal.NewFromInt(10), 1, voucher.Version+5, time.Now())
		assert.ErrorIs(t, err, ErrStaleVoucher)
	})

	t.Run("missing voucher", func(t *testing.T) {
		err := repo.DecrementBalance(ctx, nil, 999999, decimal.NewFromInt(10), 1, 0, time.Now())
		assert.ErrorIs(t, err, ErrVoucherNotFound)
	})
}

func TestUpdateStatus_EnforcesTransitionTable(t *testing.T) {
	db := newTestDB(t)
	repo := NewVoucherRepository(db)
	ctx := context.Background()

	voucher := seedVoucher(t, db, "100", model.VoucherStatusActive)

	// Disallowed by the table, no write attempted.
	err := repo.UpdateStatus(ctx, nil, voucher.ID, model.VoucherStatusRedeemed, model.VoucherStatusActive)
	assert.ErrorIs(t, err, ErrVoucherStatusInvalid)

	require.NoError(t, repo.UpdateStatus(ctx, nil, voucher.ID, model.VoucherStatusActive, model.VoucherStatusRedeemed))

	// The row moved on; the same transition now misses its WHERE guard.
	err = repo.UpdateStatus(ctx, nil, voucher.ID, model.VoucherStatusActive, model.VoucherStatusRedeemed)
	assert.ErrorIs(t, err, ErrVoucherStatusInvalid)
}

func TestExpireIfDue_ReportsWhoTransitioned(t *testing.T) {
	db := newTestDB(t)
	repo := NewVoucherRepository(db)
	ctx := context.Background()

	voucher := seedVoucher(t, db, "100", model.VoucherStatusActive)

	done, err := repo.ExpireIfDue(ctx, nil, voucher.ID)
	require.NoError(t, err)
	assert.True(t, done)

	done, err = repo.ExpireIfDue(ctx, nil, voucher.ID)
	require.NoError(t, err)
	assert.False(t, done, "second caller must see the transition already performed")
}

func TestDelete_RestrictsWithLedgerEntries(t *testing.T) {
	db := newTestDB(t)
	repo := NewVoucherRepository(db)
	ctx := context.Background()

	voucher := seedVoucher(t, db, "100", model.VoucherStatusActive)
	require.NoError(t, db.Create(&model.VoucherTransaction{
		ReferenceNumber: "TXN-TESTDELETE1",
		VoucherID:       voucher.ID,
		VendorID:        1,
		Amount:          decimal.NewFromInt(10),
		TransactionType: model.TransactionTypeRedemption,
		Status:          model.TransactionStatusCompleted,
		ProcessedAt:     time.Now(),
	}).Error)

	err := repo.Delete(ctx, voucher.ID)
	assert.ErrorIs(t, err, ErrVoucherHasTransactions)

	clean := seedVoucher(t, db, "100", model.VoucherStatusCancelled)
	require.NoError(t, repo.Delete(ctx, clean.ID))

	_, err = repo.GetByID(ctx, clean.ID)
	assert.ErrorIs(t, err, ErrVoucherNotFound)
}

func TestCountOverlapping_StrictOverlap(t *testing.T) {
	db := newTestDB(t)
	repo := NewInvoiceRepository(db)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, db.Create(&model.Invoice{
		InvoiceNumber: "INV-OVERLAP-1",
		VendorID:      9,
		StartDate:     base,
		EndDate:       base.AddDate(0, 0, 14),
		TotalAmount:   decimal.NewFromInt(100),
		Status:        model.InvoiceStatusPending,
	}).Error)

	// Touching at the boundary is not an overlap.
	count, err := repo.CountOverlapping(ctx, nil, 9, base.AddDate(0, 0, 14), base.AddDate(0, 0, 28))
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	// Straddling the boundary is.
	count, err = repo.CountOverlapping(ctx, nil, 9, base.AddDate(0, 0, 13), base.AddDate(0, 0, 28))
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	// Cancelled invoices do not block.
	require.NoError(t, db.Model(&model.Invoice{}).
		Where("invoice_number = ?", "INV-OVERLAP-1").
		Update("status", model.InvoiceStatusCancelled).Error)
	count, err = repo.CountOverlapping(ctx, nil, 9, base, base.AddDate(0, 0, 14))
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	// Other vendors are invisible.
	count, err = repo.CountOverlapping(ctx, nil, 10, base, base.AddDate(0, 0, 14))
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}
