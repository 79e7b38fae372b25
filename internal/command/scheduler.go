package command

import (
	"context"
	"sync"
	"time"

	"github.com/ridgelink/apgw-core/internal/session"
)

// HistoryPurger prunes device history past the retention window.
// Implemented by the inventory repository; optional.
type HistoryPurger interface {
	PurgeStatistics(ctx context.Context, olderThan time.Time) error
	PurgeHealthchecks(ctx context.Context, olderThan time.Time) error
}

// Scheduler drains the pending command queue, delivering each candidate to
// its device through the orchestrator as a disk-only submission. Candidates
// whose device is offline or busy are skipped and picked up on a later
// cycle; each cycle also purges expired and timed-out records, and device
// statistics/healthcheck history, past the retention window.
type Scheduler struct {
	store        Repository
	orchestrator *Orchestrator
	link         DeviceLink
	logger       Logger
	history      HistoryPurger

	interval  time.Duration
	delay     time.Duration
	batchSize int
	maxAge    time.Duration
	retention time.Duration

	done chan struct{}
	wg   sync.WaitGroup
}

// NewScheduler creates a scheduler over the given store and orchestrator.
func NewScheduler(store Repository, orch *Orchestrator, link DeviceLink, interval, delay time.Duration, batchSize int, maxAge, retention time.Duration) *Scheduler {
	return &Scheduler{
		store:        store,
		orchestrator: orch,
		link:         link,
		logger:       noopLogger{},
		interval:     interval,
		delay:        delay,
		batchSize:    batchSize,
		maxAge:       maxAge,
		retention:    retention,
		done:         make(chan struct{}),
	}
}

// SetLogger sets the logger for the scheduler.
func (s *Scheduler) SetLogger(logger Logger) {
	s.logger = logger
}

// SetHistoryPurger enables retention pruning of device statistics and
// healthcheck history alongside the command purges.
func (s *Scheduler) SetHistoryPurger(purger HistoryPurger) {
	s.history = purger
}

// Start launches the scheduling loop. The first cycle runs after the
// configured initial delay.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.run(ctx)
}

// Stop signals the loop and waits for it to exit.
func (s *Scheduler) Stop() {
	close(s.done)
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	select {
	case <-s.done:
		return
	case <-ctx.Done():
		return
	case <-time.After(s.delay):
	}

	s.runCycle(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runCycle(ctx)
		}
	}
}

// runCycle purges aged terminal records and delivers one batch of pending
// commands. A failure on any single candidate never aborts the batch.
func (s *Scheduler) runCycle(ctx context.Context) {
	now := time.Now().UTC()
	cutoff := now.Add(-s.retention)

	if err := s.store.PurgeExpired(ctx, cutoff); err != nil {
		s.logger.Error("failed to purge expired commands", "error", err)
	}
	if err := s.store.PurgeTimedOut(ctx, cutoff); err != nil {
		s.logger.Error("failed to purge timed out commands", "error", err)
	}
	if s.history != nil {
		if err := s.history.PurgeStatistics(ctx, cutoff); err != nil {
			s.logger.Error("failed to purge statistics history", "error", err)
		}
		if err := s.history.PurgeHealthchecks(ctx, cutoff); err != nil {
			s.logger.Error("failed to purge healthcheck history", "error", err)
		}
	}

	pending, err := s.store.ReadyToExecute(ctx, 0, s.batchSize)
	if err != nil {
		s.logger.Error("failed to list pending commands", "error", err)
		return
	}
	if len(pending) == 0 {
		return
	}

	s.logger.Info("scheduling pending commands", "count", len(pending))

	for i := range pending {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			return
		default:
		}
		s.deliver(ctx, &pending[i], now)
	}
}

// deliver attempts one candidate. The ordering of the guards matters: an
// already-running UUID must never be re-sent, stale commands expire before
// any connectivity check, and a busy device keeps its queue serialized.
func (s *Scheduler) deliver(ctx context.Context, cmd *Command, now time.Time) {
	if s.orchestrator.IsCommandRunning(cmd.UUID) {
		return
	}

	if now.Sub(cmd.Submitted) > s.maxAge {
		s.logger.Debug("expiring stale command",
			"uuid", cmd.UUID, "command", cmd.Command)
		if err := s.store.MarkExpired(ctx, cmd.UUID); err != nil {
			s.logger.Error("failed to expire command", "uuid", cmd.UUID, "error", err)
		}
		return
	}

	serial := session.SerialToInt(cmd.SerialNumber)
	if serial == 0 || !s.link.IsConnected(serial) {
		return
	}

	if uuid, name, busy := s.orchestrator.CommandRunningForDevice(serial); busy {
		s.logger.Debug("device busy, deferring command",
			"uuid", cmd.UUID, "running_uuid", uuid, "running_command", name)
		return
	}

	_, sent, err := s.orchestrator.Submit(serial, cmd.Command, cmd.Details, cmd.UUID, false, true)
	if err != nil {
		// An unencodable payload can never succeed; force the record to
		// executed so it stops occupying the pending queue.
		s.logger.Warn("undeliverable command payload, forcing executed",
			"uuid", cmd.UUID, "command", cmd.Command, "error", err)
		if err := s.store.MarkExecuted(ctx, cmd.UUID); err != nil {
			s.logger.Error("failed to mark command executed", "uuid", cmd.UUID, "error", err)
		}
		return
	}
	if !sent {
		// Leave the record pending so the next cycle retries once the
		// device reconnects.
		return
	}

	if err := s.store.MarkExecuted(ctx, cmd.UUID); err != nil {
		s.logger.Error("failed to mark command executed", "uuid", cmd.UUID, "error", err)
	}
}
