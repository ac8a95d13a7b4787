package lock

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// LocalProvider serializes critical sections with in-process keyed
// mutexes. Used by tests and single-node deployments that run without
// redis; the deployed path is RedisProvider.
type LocalProvider struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewLocalProvider() *LocalProvider {
	return &LocalProvider{locks: make(map[string]*sync.Mutex)}
}

func (p *LocalProvider) get(key string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.locks[key]
	if !ok {
		m = &sync.Mutex{}
		p.locks[key] = m
	}
	return m
}

func (p *LocalProvider) VoucherLock(code string) Locker {
	return &localLock{mu: p.get("voucher:" + code)}
}

func (p *LocalProvider) ApplicationLock(applicationID int64) Locker {
	return &localLock{mu: p.get(fmt.Sprintf("application:%d", applicationID))}
}

func (p *LocalProvider) VendorInvoiceLock(vendorID int64) Locker {
	return &localLock{mu: p.get(fmt.Sprintf("vendor:%d", vendorID))}
}

type localLock struct {
	mu *sync.Mutex
}

// Lock blocks until acquired; the retry parameters only apply to the
// distributed implementation.
func (l *localLock) Lock(ctx context.Context, _ time.Duration, _ int) error {
	l.mu.Lock()
	return nil
}

func (l *localLock) Unlock(ctx context.Context) error {
	l.mu.Unlock()
	return nil
}
