package queue

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"tipRelay/internal/model"
	"tipRelay/internal/storage"
)

// SettleFunc settles one batch window. A nil error means the window was
// confirmed on-chain and must not be resubmitted.
type SettleFunc func(ctx context.Context, window []model.TipCandidate) error

// Scheduler owns the settlement cadence: it fires on a fixed interval with a
// non-empty queue, or immediately when the queue reaches maxBatchSize. Only
// one settlement is ever in flight; triggers that arrive while busy are
// no-ops and the next tick retries.
type Scheduler struct {
	queue             *Queue
	interval          time.Duration
	maxBatchSize      int
	maxWindowAttempts int
	settle            SettleFunc
	deadLetters       storage.DeadLetterSink
	logger            *zap.Logger
	onDepth           func(depth int)

	inFlight atomic.Bool
	kick     chan struct{}

	// retry holds a window whose settlement failed. It is retried as-is,
	// ahead of any new window, until it settles or hits the attempt
	// ceiling; candidates enqueued in the meantime wait in the queue and
	// never inherit its attempt count.
	retry    []model.TipCandidate
	attempts int
}

// SchedulerConfig holds scheduler settings.
type SchedulerConfig struct {
	Interval          time.Duration
	MaxBatchSize      int
	MaxWindowAttempts int
}

// NewScheduler builds a scheduler over a queue. onDepth, when non-nil, is
// invoked with the queue depth after every enqueue and take.
func NewScheduler(cfg SchedulerConfig, q *Queue, settle SettleFunc, deadLetters storage.DeadLetterSink, logger *zap.Logger, onDepth func(int)) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxWindowAttempts < 1 {
		cfg.MaxWindowAttempts = 1
	}
	return &Scheduler{
		queue:             q,
		interval:          cfg.Interval,
		maxBatchSize:      cfg.MaxBatchSize,
		maxWindowAttempts: cfg.MaxWindowAttempts,
		settle:            settle,
		deadLetters:       deadLetters,
		logger:            logger,
		onDepth:           onDepth,
		kick:              make(chan struct{}, 1),
	}
}

// Submit enqueues a validated candidate. Reaching maxBatchSize fires
// settlement immediately regardless of the timer.
func (s *Scheduler) Submit(candidate model.TipCandidate) {
	depth := s.queue.Enqueue(candidate)
	if s.onDepth != nil {
		s.onDepth(depth)
	}
	if depth >= s.maxBatchSize {
		select {
		case s.kick <- struct{}{}:
		default:
		}
	}
}

// Run drives the settlement loop until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.trySettle(ctx)
		case <-s.kick:
			s.trySettle(ctx)
		}
	}
}

func (s *Scheduler) trySettle(ctx context.Context) {
	if !s.inFlight.CompareAndSwap(false, true) {
		return
	}
	defer s.inFlight.Store(false)

	window := s.retry
	if window == nil {
		window = s.queue.TakeWindow(s.maxBatchSize)
		if s.onDepth != nil {
			s.onDepth(s.queue.Len())
		}
	}
	if len(window) == 0 {
		return
	}

	err := s.settle(ctx, window)
	if err == nil {
		s.retry = nil
		s.attempts = 0
		return
	}

	s.attempts++
	s.logger.Warn("settlement attempt failed",
		zap.Int("window_size", len(window)),
		zap.Int("attempt", s.attempts),
		zap.Error(err),
	)

	if s.attempts >= s.maxWindowAttempts {
		s.logger.Error("window dropped after attempt ceiling",
			zap.Int("window_size", len(window)),
			zap.Int("attempts", s.attempts),
			zap.Bool("operational_alert", true),
			zap.Error(err),
		)
		if s.deadLetters != nil {
			if dlErr := s.deadLetters.AppendDeadLetter(ctx, window, err.Error()); dlErr != nil {
				s.logger.Error("dead-letter append failed", zap.Error(dlErr))
			}
		}
		s.retry = nil
		s.attempts = 0
		return
	}

	s.retry = window
}
