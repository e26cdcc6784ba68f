// Package persistence delivers finished match results to durable storage.
package persistence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cardarena/arena-server-go/internal/ports"
	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// Config configures an Outbox.
type Config struct {
	Results       ports.ResultStore
	Players       ports.PlayerDirectory
	RetryBase     time.Duration
	RetryMax      time.Duration
	MaxAttempts   int
	SweepInterval time.Duration
	Clock         clockwork.Clock
	Logger        *zap.Logger
}

// item is one summary on its way to storage. Every step is applied at most
// once: the result row first, then each non-zero rating change.
type item struct {
	summary   ports.MatchSummary
	persisted bool
	rated     map[string]bool
	attempts  int
	nextAt    time.Time
	escalated bool
}

func (it *item) done() bool {
	if !it.persisted {
		return false
	}
	for _, p := range it.summary.Participants {
		if p.RatingDelta != 0 && !it.rated[p.PlayerID] {
			return false
		}
	}
	return true
}

// Outbox accepts match summaries without blocking and retries delivery
// with exponential backoff until it succeeds.
type Outbox struct {
	results     ports.ResultStore
	players     ports.PlayerDirectory
	base        time.Duration
	max         time.Duration
	maxAttempts int
	interval    time.Duration
	clock       clockwork.Clock
	logger      *zap.Logger

	mu        sync.Mutex
	pending   []*item
	flushMu   sync.Mutex
	scheduler gocron.Scheduler
}

// NewOutbox creates an outbox. Call Start to run the retry sweep.
func NewOutbox(cfg Config) (*Outbox, error) {
	if cfg.Results == nil || cfg.Players == nil {
		return nil, fmt.Errorf("result store and player directory are required")
	}
	if cfg.RetryBase <= 0 || cfg.RetryMax < cfg.RetryBase {
		return nil, fmt.Errorf("invalid retry backoff %s..%s", cfg.RetryBase, cfg.RetryMax)
	}
	if cfg.MaxAttempts <= 0 || cfg.SweepInterval <= 0 {
		return nil, fmt.Errorf("max attempts and sweep interval must be positive")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Outbox{
		results:     cfg.Results,
		players:     cfg.Players,
		base:        cfg.RetryBase,
		max:         cfg.RetryMax,
		maxAttempts: cfg.MaxAttempts,
		interval:    cfg.SweepInterval,
		clock:       clock,
		logger:      logger,
	}, nil
}

// Submit queues a summary for delivery. It never blocks on storage.
func (o *Outbox) Submit(summary ports.MatchSummary) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pending = append(o.pending, &item{
		summary: summary,
		rated:   make(map[string]bool),
		nextAt:  o.clock.Now(),
	})
	o.logger.Debug("match result queued", zap.String("match_id", summary.MatchID))
}

// Pending returns the number of undelivered summaries.
func (o *Outbox) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.pending)
}

// Start schedules the retry sweep.
func (o *Outbox) Start() error {
	s, err := gocron.NewScheduler(gocron.WithClock(o.clock))
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}
	_, err = s.NewJob(
		gocron.DurationJob(o.interval),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), o.interval*10)
			defer cancel()
			o.Flush(ctx, false)
		}),
		gocron.WithName("persistence:outbox"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = s.Shutdown()
		return fmt.Errorf("failed to schedule outbox sweep: %w", err)
	}
	s.Start()
	o.scheduler = s
	return nil
}

// Stop halts the sweep and makes a final delivery attempt for everything
// still pending, ignoring backoff.
func (o *Outbox) Stop(ctx context.Context) error {
	if o.scheduler != nil {
		if err := o.scheduler.Shutdown(); err != nil {
			o.logger.Warn("failed to stop outbox scheduler", zap.Error(err))
		}
	}
	if left := o.Flush(ctx, true); left > 0 {
		o.logger.Error("operator alert: match results not persisted at shutdown", zap.Int("pending", left))
		return fmt.Errorf("%d match results not persisted", left)
	}
	return nil
}

// Flush attempts every due item, or every item when force is set, and
// returns how many remain pending.
func (o *Outbox) Flush(ctx context.Context, force bool) int {
	o.flushMu.Lock()
	defer o.flushMu.Unlock()

	now := o.clock.Now()
	o.mu.Lock()
	due := make([]*item, 0, len(o.pending))
	for _, it := range o.pending {
		if force || !now.Before(it.nextAt) {
			due = append(due, it)
		}
	}
	o.mu.Unlock()

	for _, it := range due {
		if ctx.Err() != nil {
			break
		}
		o.deliver(ctx, it, now)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	kept := o.pending[:0]
	for _, it := range o.pending {
		if !it.done() {
			kept = append(kept, it)
		}
	}
	o.pending = kept
	return len(o.pending)
}

func (o *Outbox) deliver(ctx context.Context, it *item, now time.Time) {
	err := o.apply(ctx, it)
	if err == nil {
		o.logger.Info("match result persisted",
			zap.String("match_id", it.summary.MatchID),
			zap.Int("attempts", it.attempts+1),
		)
		return
	}
	it.attempts++
	it.nextAt = now.Add(o.backoff(it.attempts))
	if it.attempts >= o.maxAttempts && !it.escalated {
		it.escalated = true
		o.logger.Error("operator alert: match result delivery keeps failing",
			zap.String("match_id", it.summary.MatchID),
			zap.Int("attempts", it.attempts),
			zap.Error(err),
		)
		return
	}
	o.logger.Warn("match result delivery failed",
		zap.String("match_id", it.summary.MatchID),
		zap.Int("attempts", it.attempts),
		zap.Time("next_attempt", it.nextAt),
		zap.Error(err),
	)
}

func (o *Outbox) apply(ctx context.Context, it *item) error {
	if !it.persisted {
		if err := o.results.PersistMatchResult(ctx, it.summary); err != nil {
			return fmt.Errorf("persist result: %w", err)
		}
		it.persisted = true
	}
	for _, p := range it.summary.Participants {
		if p.RatingDelta == 0 || it.rated[p.PlayerID] {
			continue
		}
		err := o.players.UpdatePlayerRating(ctx, p.PlayerID, p.RatingDelta)
		switch {
		case errors.Is(err, ports.ErrNotFound):
			// Retrying cannot create the player.
			o.logger.Warn("rating update skipped for unknown player",
				zap.String("match_id", it.summary.MatchID),
				zap.String("player_id", p.PlayerID),
			)
		case err != nil:
			return fmt.Errorf("update rating of %s: %w", p.PlayerID, err)
		}
		it.rated[p.PlayerID] = true
	}
	return nil
}

// backoff doubles from the base per failed attempt, capped at the max.
func (o *Outbox) backoff(attempts int) time.Duration {
	d := o.base
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= o.max {
			return o.max
		}
	}
	return d
}
