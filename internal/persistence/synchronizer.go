package persistence

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Options tunes the synchronizer queue.
type Options struct {
	QueueSize    int
	MaxAttempts  int
	RetryBackoff time.Duration
	WriteTimeout time.Duration
}

// DefaultOptions returns the values used when config leaves them unset.
func DefaultOptions() Options {
	return Options{
		QueueSize:    1024,
		MaxAttempts:  3,
		RetryBackoff: 200 * time.Millisecond,
		WriteTimeout: 2 * time.Second,
	}
}

// Synchronizer mirrors session records into a Store on a best-effort basis.
// Queued writes are applied in order by a single worker and retried with a
// linear backoff; a write that exhausts its attempts is logged and dropped.
type Synchronizer struct {
	store  Store
	opts   Options
	logger *zap.Logger
	queue  chan Record
}

// NewSynchronizer creates a synchronizer for store. Run must be started for
// queued records to be written.
func NewSynchronizer(store Store, opts Options, logger *zap.Logger) *Synchronizer {
	defaults := DefaultOptions()
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaults.QueueSize
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaults.MaxAttempts
	}
	if opts.RetryBackoff < 0 {
		opts.RetryBackoff = 0
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaults.WriteTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Synchronizer{
		store:  store,
		opts:   opts,
		logger: logger,
		queue:  make(chan Record, opts.QueueSize),
	}
}

// Save writes rec synchronously, bounded by the configured write timeout.
// Callers use it when the live transition depends on the record existing.
func (s *Synchronizer) Save(ctx context.Context, rec Record) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.WriteTimeout)
	defer cancel()

	if err := s.store.SaveSession(ctx, rec); err != nil {
		s.logger.Warn("session record write failed",
			zap.String("session_id", rec.ID),
			zap.String("status", rec.Status),
			zap.Error(err),
		)
		return fmt.Errorf("save session %s: %w", rec.ID, err)
	}
	return nil
}

// Enqueue schedules rec for writing and never blocks. When the queue is
// full the record is dropped with a warning.
func (s *Synchronizer) Enqueue(rec Record) {
	select {
	case s.queue <- rec.Clone():
	default:
		s.logger.Warn("persistence queue full, dropping session record",
			zap.String("session_id", rec.ID),
			zap.String("status", rec.Status),
			zap.Int("queue_size", s.opts.QueueSize),
		)
	}
}

// Pending returns the number of queued records.
func (s *Synchronizer) Pending() int {
	return len(s.queue)
}

// Run writes queued records until ctx is cancelled, then drains what is
// left with fresh per-write timeouts.
func (s *Synchronizer) Run(ctx context.Context) error {
	for {
		select {
		case rec := <-s.queue:
			s.write(ctx, rec)
		case <-ctx.Done():
			s.drain()
			return nil
		}
	}
}

func (s *Synchronizer) drain() {
	remaining := len(s.queue)
	if remaining > 0 {
		s.logger.Info("draining persistence queue", zap.Int("pending", remaining))
	}
	for {
		select {
		case rec := <-s.queue:
			s.write(context.Background(), rec)
		default:
			return
		}
	}
}

func (s *Synchronizer) write(ctx context.Context, rec Record) {
	for attempt := 1; attempt <= s.opts.MaxAttempts; attempt++ {
		writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.WriteTimeout)
		err := s.store.SaveSession(writeCtx, rec)
		cancel()
		if err == nil {
			s.logger.Debug("session record written",
				zap.String("session_id", rec.ID),
				zap.String("status", rec.Status),
				zap.Int("attempt", attempt),
			)
			return
		}

		s.logger.Warn("session record write failed",
			zap.String("session_id", rec.ID),
			zap.String("status", rec.Status),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", s.opts.MaxAttempts),
			zap.Error(err),
		)

		if attempt < s.opts.MaxAttempts && s.opts.RetryBackoff > 0 {
			time.Sleep(time.Duration(attempt) * s.opts.RetryBackoff)
		}
	}

	s.logger.Error("giving up on session record",
		zap.String("session_id", rec.ID),
		zap.String("status", rec.Status),
	)
}
