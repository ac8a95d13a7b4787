package job

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"voucherledger/internal/config"
	"voucherledger/internal/infrastructure/database"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var testDBCounter int64

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:job%d?mode=memory&cache=shared", atomic.AddInt64(&testDBCounter, 1))
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
			InvoicePeriodDays: 14,
			MaxRetryCount:     3,
		},
	}
}

// fakeProducer records sends and fails on demand.
type fakeProducer struct {
	mu    sync.Mutex
	sent  []string
	fail  bool
	calls int
}

func (p *fakeProducer) Send(topic, key, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.fail {
		return errors.New("broker unavailable")
	}
	p.sent = append(p.sent, topic+"/"+key)
	return nil
}

func (p *fakeProducer) Close() error { return nil }
