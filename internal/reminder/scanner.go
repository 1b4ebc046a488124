package reminder

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/careloop/go-medtrack/internal/domain/prescription"
)

// Emitter delivers a claimed reminder to its destination (worker pool,
// outbox, Kafka). An error leaves the claim in place; the reminder is not
// retried within the same day.
type Emitter interface {
	Emit(ctx context.Context, m Match) error
}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(ctx context.Context, m Match) error

// Emit calls the function.
func (f EmitterFunc) Emit(ctx context.Context, m Match) error { return f(ctx, m) }

// ScannerConfig holds configuration for the reminder scanner.
type ScannerConfig struct {
	// Interval is the poll period for re-evaluating schedules.
	Interval time.Duration
	// PruneInterval is how often the in-memory ledger is pruned.
	PruneInterval time.Duration
	// PruneAge is the retention for in-memory ledger entries. Keys are
	// day-scoped, so anything older than two days is dead weight.
	PruneAge time.Duration
}

// DefaultScannerConfig returns the production defaults.
func DefaultScannerConfig() ScannerConfig {
	return ScannerConfig{
		Interval:      30 * time.Second,
		PruneInterval: 1 * time.Hour,
		PruneAge:      48 * time.Hour,
	}
}

// Scanner periodically loads active prescriptions and emits due
// reminders. De-duplication is two-tier: the in-memory ledger filters
// repeats cheaply within this process, the injected Deduper (persisted in
// the store) is authoritative across restarts and replicas.
type Scanner struct {
	repo    prescription.Repository
	matcher *Matcher
	ledger  *MemoryDeduper
	dedup   Deduper
	emitter Emitter
	config  ScannerConfig
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScanner creates a scanner. A nil persisted Deduper degrades to
// in-memory-only de-duplication.
func NewScanner(repo prescription.Repository, matcher *Matcher, dedup Deduper, emitter Emitter, cfg ScannerConfig, logger *zap.Logger) *Scanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg = DefaultScannerConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Scanner{
		repo:    repo,
		matcher: matcher,
		ledger:  NewMemoryDeduper(),
		dedup:   dedup,
		emitter: emitter,
		config:  cfg,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// Start begins the scan loop.
func (s *Scanner) Start() {
	go s.loop()
	s.logger.Info("reminder scanner started",
		zap.Duration("interval", s.config.Interval))
}

// Stop stops the scan loop and waits for it to drain.
func (s *Scanner) Stop() {
	s.cancel()
	<-s.done
	s.logger.Info("reminder scanner stopped")
}

func (s *Scanner) loop() {
	defer close(s.done)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	prune := time.NewTicker(s.config.PruneInterval)
	defer prune.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-prune.C:
			if removed := s.ledger.Prune(s.config.PruneAge); removed > 0 {
				s.logger.Debug("pruned reminder ledger", zap.Int("removed", removed))
			}
		case <-ticker.C:
			if emitted, err := s.Scan(s.ctx); err != nil {
				s.logger.Error("reminder scan failed", zap.Error(err))
			} else if emitted > 0 {
				s.logger.Info("reminders emitted", zap.Int("count", emitted))
			}
		}
	}
}

// Scan runs one evaluation pass and returns the number of reminders
// emitted. Exported so the service loop and tests share one code path.
func (s *Scanner) Scan(ctx context.Context) (int, error) {
	prescriptions, err := s.repo.ListActiveWithReminders(ctx)
	if err != nil {
		return 0, err
	}

	emitted := 0
	for _, match := range s.matcher.Due(prescriptions) {
		key := match.Key()

		ok, err := s.ledger.Claim(ctx, key)
		if err != nil || !ok {
			continue
		}

		if s.dedup != nil {
			ok, err = s.dedup.Claim(ctx, key)
			if err != nil {
				s.logger.Error("dedup claim failed",
					zap.String("key", key), zap.Error(err))
				continue
			}
			if !ok {
				continue
			}
		}

		if err := s.emitter.Emit(ctx, match); err != nil {
			s.logger.Error("reminder emit failed",
				zap.String("prescription_id", match.Prescription.ID),
				zap.String("time", match.ScheduledTime),
				zap.Error(err))
			continue
		}
		emitted++
	}
	return emitted, nil
}
