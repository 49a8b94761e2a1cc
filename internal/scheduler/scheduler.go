// Package scheduler drives the engine on a fixed interval and owns the retry
// policy for failed ticks.
package scheduler

import (
	"context"
	"dca-bot-go/internal/exchange"
	"dca-bot-go/internal/models"
	"errors"
	"fmt"
	"time"

	"github.com/jpillora/backoff"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var errCommit = errors.New("commit state")

// Ticker executes one tick against a state value.
type Ticker interface {
	Tick(ctx context.Context, state models.BotRunState) (models.BotRunState, error)
}

// StateStore owns the current run state.
type StateStore interface {
	Snapshot() models.BotRunState
	Commit(state models.BotRunState) error
}

// Stopper applies a terminal status to a state.
type Stopper interface {
	MarkStopped(state models.BotRunState, status models.Status, reason string) models.BotRunState
}

// Control lets an operator ask a running bot to stop at the next tick
// boundary. StopSignal is closed once a stop has been requested.
type Control interface {
	StopRequested() bool
	StopSignal() <-chan struct{}
}

// Notifier delivers alerts; it must not fail the caller.
type Notifier interface {
	Notify(ctx context.Context, subject, body string)
}

// Config holds the timing of the scheduler.
type Config struct {
	Interval         time.Duration
	MaxRetryAttempts int
	BackoffMin       time.Duration
	BackoffMax       time.Duration
}

// ConfigFrom converts the persisted scheduler settings.
func ConfigFrom(c models.SchedulerConfig) Config {
	return Config{
		Interval:         time.Duration(c.TickIntervalSeconds) * time.Second,
		MaxRetryAttempts: c.MaxRetryAttempts,
		BackoffMin:       seconds(c.RetryBackoffBaseSeconds),
		BackoffMax:       seconds(c.RetryBackoffMaxSeconds),
	}
}

func seconds(s decimal.Decimal) time.Duration {
	return time.Duration(s.Mul(decimal.NewFromInt(int64(time.Second))).IntPart())
}

// Scheduler runs ticks one at a time: a tick never starts before the
// previous one, including its retries, has finished.
type Scheduler struct {
	cfg      Config
	ticker   Ticker
	store    StateStore
	stopper  Stopper
	control  Control
	notifier Notifier
	logger   *zap.Logger
}

// New creates a Scheduler. control may be nil.
func New(cfg Config, ticker Ticker, store StateStore, stopper Stopper, control Control, notifier Notifier, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		ticker:   ticker,
		store:    store,
		stopper:  stopper,
		control:  control,
		notifier: notifier,
		logger:   logger,
	}
}

// Run executes the first tick immediately and then one per interval until
// the bot reaches a terminal status or ctx is cancelled. Cancellation leaves
// the persisted state as it was after the last committed tick.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started",
		zap.Duration("interval", s.cfg.Interval),
		zap.Int("maxRetryAttempts", s.cfg.MaxRetryAttempts))

	t := time.NewTicker(s.cfg.Interval)
	defer t.Stop()

	var stopSignal <-chan struct{}
	if s.control != nil {
		stopSignal = s.control.StopSignal()
	}

	for {
		if err := s.runTick(ctx); err != nil {
			if ctx.Err() != nil {
				s.logger.Info("scheduler cancelled")
				return nil
			}
			return err
		}
		if state := s.store.Snapshot(); !state.IsRunning() {
			s.logger.Info("bot stopped, scheduler exiting",
				zap.String("status", string(state.Status)),
				zap.String("reason", state.StopReason))
			return nil
		}

		select {
		case <-ctx.Done():
			s.logger.Info("scheduler cancelled")
			return nil
		case <-t.C:
		case <-stopSignal:
			stopSignal = nil
		}
	}
}

// runTick runs one tick with bounded retries. It returns an error only when
// ctx is done or a stopped state could not be committed.
func (s *Scheduler) runTick(ctx context.Context) error {
	b := &backoff.Backoff{Min: s.cfg.BackoffMin, Max: s.cfg.BackoffMax, Factor: 2}

	for attempt := 0; ; attempt++ {
		state := s.store.Snapshot()
		if !state.IsRunning() {
			return nil
		}
		if s.control != nil && s.control.StopRequested() {
			return s.stop(ctx, state, "stop requested")
		}

		err := s.attempt(ctx, state)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		retryable := exchange.IsTransient(err) || errors.Is(err, errCommit)
		if !retryable || attempt >= s.cfg.MaxRetryAttempts {
			s.logger.Error("tick failed, stopping bot",
				zap.Int("attempt", attempt+1),
				zap.Bool("retryable", retryable),
				zap.Error(err))
			return s.stop(ctx, s.store.Snapshot(), err.Error())
		}

		wait := b.Duration()
		s.logger.Warn("tick failed, retrying",
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", wait),
			zap.Error(err))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (s *Scheduler) attempt(ctx context.Context, state models.BotRunState) error {
	next, err := s.ticker.Tick(ctx, state)
	if err != nil {
		return err
	}
	if err := s.store.Commit(next); err != nil {
		return fmt.Errorf("%w: %v", errCommit, err)
	}
	return nil
}

func (s *Scheduler) stop(ctx context.Context, state models.BotRunState, reason string) error {
	stopped := s.stopper.MarkStopped(state, models.StatusStoppedManually, reason)
	if stopped.Status == state.Status {
		return nil
	}
	if err := s.store.Commit(stopped); err != nil {
		return fmt.Errorf("commit stopped state: %w", err)
	}
	s.logger.Warn("bot stopped", zap.String("reason", reason))
	s.notifier.Notify(ctx, "Bot stopped",
		fmt.Sprintf("Bot (ID:%s) on %s was stopped after %d ticks, total buy order amount %s.\nReason: %s",
			stopped.BotID, stopped.Pair, stopped.TickCount, stopped.TotalBuyOrderAmount, reason))
	return nil
}
