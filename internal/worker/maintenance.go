package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	cronv3 "github.com/robfig/cron/v3"

	"github.com/ignite/mailpipe/internal/config"
	"github.com/ignite/mailpipe/internal/pkg/distlock"
	"github.com/ignite/mailpipe/internal/pkg/logger"
	"github.com/ignite/mailpipe/internal/queue"
)

const (
	queueSweepLock = "maintenance:queue-sweep"
	dnsRecheckLock = "maintenance:dns-recheck"

	// domains re-checked per sweep
	dnsRecheckBatch = 50
)

// QueueMaintainer promotes delayed jobs, recovers stalled ones and prunes
// finished ones.
type QueueMaintainer interface {
	Maintain(ctx context.Context) (queue.MaintenanceReport, error)
}

// DomainRechecker re-runs DNS verification for identities that are not yet
// verified.
type DomainRechecker interface {
	ReverifyPending(ctx context.Context, limit int) (int, error)
}

// Maintenance runs the periodic sweeps on a seconds-precision cron. Each
// sweep holds a distributed lock so only one worker process runs it at a
// time; the others skip that tick.
type Maintenance struct {
	cron    *cronv3.Cron
	locks   distlock.Factory
	queue   QueueMaintainer
	domains DomainRechecker
	cfg     config.MaintenanceConfig
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewMaintenance builds the scheduler. domains may be nil.
func NewMaintenance(cfg config.MaintenanceConfig, locks distlock.Factory, q QueueMaintainer, domains DomainRechecker) *Maintenance {
	return &Maintenance{
		cron:    cronv3.New(cronv3.WithSeconds()),
		locks:   locks,
		queue:   q,
		domains: domains,
		cfg:     cfg,
	}
}

// Start registers the sweeps and starts the cron. Jobs run with ctx.
func (m *Maintenance) Start(ctx context.Context) error {
	m.ctx, m.cancel = context.WithCancel(ctx)

	if _, err := m.cron.AddFunc(m.cfg.QueueSweepSpec, func() { m.run(queueSweepLock, m.SweepQueue) }); err != nil {
		return fmt.Errorf("schedule queue sweep %q: %w", m.cfg.QueueSweepSpec, err)
	}
	if m.domains != nil {
		if _, err := m.cron.AddFunc(m.cfg.DNSRecheckSpec, func() { m.run(dnsRecheckLock, m.RecheckDomains) }); err != nil {
			return fmt.Errorf("schedule dns recheck %q: %w", m.cfg.DNSRecheckSpec, err)
		}
	}
	m.cron.Start()
	logger.Info("maintenance started", "queue_sweep", m.cfg.QueueSweepSpec, "dns_recheck", m.cfg.DNSRecheckSpec)
	return nil
}

// Stop halts the cron and waits for running sweeps.
func (m *Maintenance) Stop() {
	<-m.cron.Stop().Done()
	if m.cancel != nil {
		m.cancel()
	}
	logger.Info("maintenance stopped")
}

func (m *Maintenance) run(lockKey string, sweep func(ctx context.Context) error) {
	ctx := m.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if err := m.RunLocked(ctx, lockKey, sweep); err != nil {
		logger.Error("maintenance sweep failed", "sweep", lockKey, "error", err)
	}
}

// RunLocked runs sweep under the named lock. A lock held elsewhere is not
// an error.
func (m *Maintenance) RunLocked(ctx context.Context, lockKey string, sweep func(ctx context.Context) error) error {
	err := distlock.WithLock(ctx, m.locks.New(lockKey, m.cfg.LockTTL()), sweep)
	if errors.Is(err, distlock.ErrNotHeld) {
		logger.Debug("maintenance sweep skipped, lock held elsewhere", "sweep", lockKey)
		return nil
	}
	return err
}

// SweepQueue runs one queue maintenance pass.
func (m *Maintenance) SweepQueue(ctx context.Context) error {
	start := time.Now()
	report, err := m.queue.Maintain(ctx)
	if err != nil {
		return fmt.Errorf("queue maintain: %w", err)
	}
	if report.Promoted+report.Requeued+report.Stalled+report.Pruned > 0 {
		logger.Info("queue sweep",
			"promoted", report.Promoted, "requeued", report.Requeued,
			"stalled", report.Stalled, "pruned", report.Pruned, "took", time.Since(start))
	}
	return nil
}

// RecheckDomains re-verifies a batch of pending domain identities.
func (m *Maintenance) RecheckDomains(ctx context.Context) error {
	n, err := m.domains.ReverifyPending(ctx, dnsRecheckBatch)
	if n > 0 {
		logger.Info("dns recheck", "checked", n)
	}
	if err != nil {
		return fmt.Errorf("dns recheck: %w", err)
	}
	return nil
}
