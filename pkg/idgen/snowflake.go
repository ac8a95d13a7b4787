package idgen

import (
	"crypto/rand"
	"fmt"
	"log"
	"sync"
	"time"
)

// Snowflake-style id generator backing reference and invoice numbers.
// 64 bits: sign | 41-bit millisecond timestamp | 10-bit worker id |
// 12-bit per-millisecond sequence. Monotonic per worker, unique across
// workers, no coordination needed.

const (
	epoch          = int64(1704067200000) // 2024-01-01 00:00:00 UTC
	workerIDBits   = 10
	sequenceBits   = 12
	maxWorkerID    = -1 ^ (-1 << workerIDBits)
	maxSequence    = -1 ^ (-1 << sequenceBits)
	workerIDShift  = sequenceBits
	timestampShift = sequenceBits + workerIDBits
)

type Snowflake struct {
	mu        sync.Mutex
	timestamp int64
	workerID  int64
	sequence  int64
}

var (
	defaultGenerator *Snowflake
	once             sync.Once
)

// Init sets the worker id for the default generator. Call once at startup.
func Init(workerID int64) {
	once.Do(func() {
		if workerID < 0 || workerID > maxWorkerID {
			log.Fatalf("worker id must be between 0 and %d", maxWorkerID)
		}
		defaultGenerator = &Snowflake{workerID: workerID}
	})
}

func NextID() int64 {
	if defaultGenerator == nil {
		Init(1)
	}
	return defaultGenerator.Generate()
}

func (s *Snowflake) Generate() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()

	if now == s.timestamp {
		s.sequence = (s.sequence + 1) & maxSequence
		if s.sequence == 0 {
			// sequence exhausted for this millisecond, spin to the next
			for now <= s.timestamp {
				now = time.Now().UnixMilli()
			}
		}
	} else {
		s.sequence = 0
	}

	s.timestamp = now

	return ((now - epoch) << timestampShift) |
		(s.workerID << workerIDShift) |
		s.sequence
}

// GenerateReferenceNumber produces a ledger transaction reference of the
// form TXN-<hex snowflake id>.
func GenerateReferenceNumber() string {
	return fmt.Sprintf("TXN-%012X", NextID())
}

// GenerateInvoiceNumber produces an invoice number from the current date
// plus the full snowflake id in hex, e.g. INV20260831-00A1B2C3D4E5.
// Embedding the whole id keeps the number unique across any volume of
// same-day invoices.
func GenerateInvoiceNumber() string {
	timestamp := time.Now().Format("20060102")
	return fmt.Sprintf("INV%s-%012X", timestamp, NextID())
}

// Alphabet for voucher codes. Ambiguous characters (0/O, 1/I/L) are
// excluded so codes survive being read over the phone.
const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const VoucherCodeLength = 10

// GenerateVoucherCode returns a random alphanumeric voucher code. Callers
// are responsible for collision-checking against storage; the unique index
// on voucher.code is the final backstop.
func GenerateVoucherCode() string {
	buf := make([]byte, VoucherCodeLength)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms
		panic(fmt.Sprintf("idgen: reading random bytes: %v", err))
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(buf)
}
