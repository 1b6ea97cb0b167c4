package services

import (
	"context"
	"time"

	"sacco/internal/utils"
	"sacco/internal/worker"

	"go.uber.org/zap"
)

// Sweeper re-polls initiated payments that nobody is watching any more, so a
// late gateway confirmation still reaches the ledger. Completed payments
// whose allocation never landed are re-polled too, which applies it.
type Sweeper struct {
	Payments    PaymentStore
	Collections *CollectionService
	Pool        *worker.Pool
	Lease       Lease

	Interval  time.Duration
	Grace     time.Duration
	BatchSize int
	Now       func() time.Time
}

func (s *Sweeper) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Run sweeps every Interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	interval := s.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := s.SweepOnce(ctx); err != nil {
				utils.LogError("", "sweeper", "sweep", err)
			} else if n > 0 {
				utils.LogEvent("", "sweeper", "sweep", "stale payments queued", zap.Int("count", n))
			}
		}
	}
}

// SweepOnce queues one poll per stale or unallocated payment and returns how
// many were queued.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	grace := s.Grace
	if grace <= 0 {
		grace = 2 * time.Minute
	}
	stale, err := s.Payments.ListStalePayments(ctx, s.now().Add(-grace), s.BatchSize)
	if err != nil {
		return 0, err
	}

	queued := 0
	for _, p := range stale {
		id := p.CheckoutRequestID
		ok := s.Pool.Submit(ctx, func(wctx context.Context) {
			key := "sweep:" + id
			if s.Lease != nil {
				token, got, err := s.Lease.Acquire(wctx, key, grace)
				if err == nil && !got {
					return
				}
				if err == nil {
					defer func() { _ = s.Lease.Release(context.WithoutCancel(wctx), key, token) }()
				}
			}
			if _, err := s.Collections.PollStatus(wctx, id); err != nil {
				utils.LogError("", "sweeper", "poll", err, zap.String("checkout_request_id", id))
			}
		})
		if !ok {
			break
		}
		queued++
	}
	return queued, nil
}
