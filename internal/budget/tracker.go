// Package budget decides whether a tick may spend money and applies fills to
// the run state. Every function is pure: it takes a state value and returns a
// new one.
package budget

import (
	"dca-bot-go/internal/models"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ErrNegativeFill is returned when a fill would decrease the accumulators.
var ErrNegativeFill = errors.New("fill amounts must not be negative")

// Decision is the outcome of a budget or balance check.
type Decision struct {
	Allowed bool
	Reason  string
}

// Allow is the decision that lets a tick proceed.
var Allow = Decision{Allowed: true}

func deny(format string, args ...interface{}) Decision {
	return Decision{Reason: fmt.Sprintf(format, args...)}
}

// Tracker evaluates a StrategyConfig's limits against BotRunState.
type Tracker struct {
	maxInvestment    decimal.Decimal
	buyAmountPerTick decimal.Decimal
	now              func() time.Time
}

// NewTracker creates a Tracker for the given strategy limits.
func NewTracker(cfg models.StrategyConfig) *Tracker {
	return &Tracker{
		maxInvestment:    cfg.MaxInvestment,
		buyAmountPerTick: cfg.BuyAmountPerTick,
		now:              time.Now,
	}
}

// CheckBudget denies once the accumulated spend has reached the ceiling, or
// when one more tick would push it past the ceiling.
func (t *Tracker) CheckBudget(state models.BotRunState) Decision {
	total := state.TotalBuyOrderAmount
	if total.GreaterThanOrEqual(t.maxInvestment) {
		return deny("total buy order amount %s reached max investment %s", total, t.maxInvestment)
	}
	if next := total.Add(t.buyAmountPerTick); next.GreaterThan(t.maxInvestment) {
		return deny("next buy of %s would raise total buy order amount %s above max investment %s",
			t.buyAmountPerTick, total, t.maxInvestment)
	}
	return Allow
}

// CheckBalance denies when the available quote balance cannot cover one tick.
func (t *Tracker) CheckBalance(available decimal.Decimal) Decision {
	if available.LessThan(t.buyAmountPerTick) {
		return deny("available balance %s is below buy amount per tick %s", available, t.buyAmountPerTick)
	}
	return Allow
}

// RecordFill adds a confirmed fill to the state and counts the tick.
// It must be called at most once per tick.
func (t *Tracker) RecordFill(state models.BotRunState, quote, base decimal.Decimal) (models.BotRunState, error) {
	if quote.IsNegative() || base.IsNegative() {
		return state, fmt.Errorf("%w: quote=%s base=%s", ErrNegativeFill, quote, base)
	}
	now := t.now()
	state.TotalBuyOrderAmount = state.TotalBuyOrderAmount.Add(quote)
	state.TotalBaseAcquired = state.TotalBaseAcquired.Add(base)
	state.TickCount++
	state.LastTickAt = now
	state.UpdatedAt = now
	return state, nil
}

// MarkStopped moves the state into a terminal status. The first terminal
// status wins: stopping an already stopped bot returns it unchanged.
func (t *Tracker) MarkStopped(state models.BotRunState, status models.Status, reason string) models.BotRunState {
	if !status.IsTerminal() || state.Status.IsTerminal() {
		return state
	}
	state.Status = status
	state.StopReason = reason
	state.UpdatedAt = t.now()
	return state
}
