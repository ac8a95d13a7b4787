package job

import (
	"context"
	"time"

	"voucherledger/internal/config"
	"voucherledger/internal/service"

	"go.uber.org/zap"
)

// InvoiceSweep periodically drives the biweekly invoice aggregation. The
// service layer owns windowing and overlap safety; this job is only the
// scheduler.
type InvoiceSweep struct {
	invoiceService *service.InvoiceService
	logger         *zap.Logger
	stopCh         chan struct{}
	interval       time.Duration
}

func NewInvoiceSweep(invoiceService *service.InvoiceService, cfg *config.Config, logger *zap.Logger) *InvoiceSweep {
	interval := time.Duration(cfg.Business.InvoiceSweepHours) * time.Hour
	if interval <= 0 {
		interval = 12 * time.Hour
	}
	return &InvoiceSweep{
		invoiceService: invoiceService,
		logger:         logger,
		stopCh:         make(chan struct{}),
		interval:       interval,
	}
}

func (j *InvoiceSweep) Start(ctx context.Context) {
	j.logger.Info("invoice sweep started", zap.Duration("interval", j.interval))

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("invoice sweep stopping: context cancelled")
			return
		case <-j.stopCh:
			j.logger.Info("invoice sweep stopped")
			return
		case <-ticker.C:
			j.sweep(ctx)
		}
	}
}

func (j *InvoiceSweep) Stop() {
	close(j.stopCh)
}

func (j *InvoiceSweep) sweep(ctx context.Context) {
	invoices, err := j.invoiceService.GenerateBiweeklyInvoices(ctx, service.ActorSystem)
	if err != nil {
		j.logger.Error("invoice sweep pass failed", zap.Error(err))
		return
	}
	if len(invoices) > 0 {
		j.logger.Info("invoice sweep pass complete", zap.Int("invoices", len(invoices)))
	}
}
