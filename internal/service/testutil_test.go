package service

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"voucherledger/internal/config"
	"voucherledger/internal/infrastructure/database"
	"voucherledger/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var testDBCounter int64

// newTestDB opens a private in-memory sqlite database with the full
// schema. One connection keeps sqlite's single-writer model from
// surfacing as busy errors under concurrent tests.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:svc%d?mode=memory&cache=shared", atomic.AddInt64(&testDBCounter, 1))
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

func testConfig() *config.Config {
	return &config.Config{
		Kafka: config.KafkaConfig{
			Topic: config.KafkaTopicConfig{
				VoucherEvents: "voucher_events",
				InvoiceEvents: "invoice_events",
			},
		},
		Business: config.BusinessConfig{
			InvoicePeriodDays:      14,
			MaxRetryCount:          3,
			VoucherCodeMaxAttempts: 10,
		},
	}
}

var seedCounter int64

func seedVendor(t *testing.T, db *gorm.DB) *model.User {
	t.Helper()
	user := &model.User{
		Email:          fmt.Sprintf("vendor%d@example.com", atomic.AddInt64(&seedCounter, 1)),
		Role:           model.RoleVendor,
		BusinessName:   "Test Equipment Co",
		VendorApproved: true,
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

func seedApplication(t *testing.T, db *gorm.DB, status, certStatus string, disabilities ...string) *model.Application {
	t.Helper()
	app := &model.Application{
		ConstituentID:              atomic.AddInt64(&seedCounter, 1),
		Status:                     status,
		MedicalCertificationStatus: certStatus,
	}
	for _, d := range disabilities {
		switch d {
		case "hearing":
			app.HearingDisability = true
		case "vision":
			app.VisionDisability = true
		case "speech":
			app.SpeechDisability = true
		case "mobility":
			app.MobilityDisability = true
		case "cognition":
			app.CognitionDisability = true
		}
	}
	require.NoError(t, db.Create(app).Error)
	return app
}

func seedPolicy(t *testing.T, db *gorm.DB, key string, value int64) {
	t.Helper()
	require.NoError(t, db.Create(&model.Policy{Key: key, Value: value}).Error)
}

func seedActiveVoucher(t *testing.T, db *gorm.DB, applicationID int64, initial, remaining string) *model.Voucher {
	t.Helper()
	voucher := &model.Voucher{
		Code:           fmt.Sprintf("TSTV%06d", atomic.AddInt64(&seedCounter, 1)),
		ApplicationID:  applicationID,
		InitialValue:   decimal.RequireFromString(initial),
		RemainingValue: decimal.RequireFromString(remaining),
		Status:         model.VoucherStatusActive,
		IssuedAt:       time.Now(),
	}
	require.NoError(t, db.Create(voucher).Error)
	return voucher
}

func countRows(t *testing.T, db *gorm.DB, m interface{}, query string, args ...interface{}) int64 {
	t.Helper()
	var count int64
	require.NoError(t, db.Model(m).Where(query, args...).Count(&count).Error)
	return count
}
