package budget

import (
	"dca-bot-go/internal/models"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestTracker(max, perTick string) *Tracker {
	tr := NewTracker(models.StrategyConfig{MaxInvestment: d(max), BuyAmountPerTick: d(perTick)})
	tr.now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	return tr
}

func stateWithTotal(total string) models.BotRunState {
	s := models.NewBotRunState("bot", "btc_jpy", time.Time{})
	s.TotalBuyOrderAmount = d(total)
	return s
}

func TestCheckBudgetDeniesAtOrAboveCeiling(t *testing.T) {
	tr := newTestTracker("100000", "10000")
	for _, total := range []string{"100000", "100000.01", "250000"} {
		dec := tr.CheckBudget(stateWithTotal(total))
		assert.False(t, dec.Allowed, total)
		assert.NotEmpty(t, dec.Reason)
	}
}

func TestCheckBudgetDeniesWhenNextBuyWouldExceed(t *testing.T) {
	tr := newTestTracker("100000", "10000")
	assert.False(t, tr.CheckBudget(stateWithTotal("95000")).Allowed)
	assert.True(t, tr.CheckBudget(stateWithTotal("90000")).Allowed)
	assert.True(t, tr.CheckBudget(stateWithTotal("0")).Allowed)
}

func TestCheckBalance(t *testing.T) {
	tr := newTestTracker("100000", "10000")
	assert.False(t, tr.CheckBalance(d("5000")).Allowed)
	assert.False(t, tr.CheckBalance(d("9999.99")).Allowed)
	assert.True(t, tr.CheckBalance(d("10000")).Allowed)
	assert.True(t, tr.CheckBalance(d("50000")).Allowed)
}

func TestRecordFillIsMonotone(t *testing.T) {
	tr := newTestTracker("100000", "10000")
	s := stateWithTotal("20000")

	for _, quote := range []string{"0", "0.00000001", "7500", "10000"} {
		next, err := tr.RecordFill(s, d(quote), d("0.01"))
		require.NoError(t, err)
		assert.True(t, next.TotalBuyOrderAmount.GreaterThanOrEqual(s.TotalBuyOrderAmount), quote)
		assert.Equal(t, s.TickCount+1, next.TickCount)
		s = next
	}
	assert.True(t, s.TotalBuyOrderAmount.Equal(d("37500.00000001")))
	assert.True(t, s.TotalBaseAcquired.Equal(d("0.04")))
}

func TestRecordFillRejectsNegativeAmounts(t *testing.T) {
	tr := newTestTracker("100000", "10000")
	s := stateWithTotal("20000")

	next, err := tr.RecordFill(s, d("-1"), d("0"))
	assert.ErrorIs(t, err, ErrNegativeFill)
	assert.True(t, next.TotalBuyOrderAmount.Equal(s.TotalBuyOrderAmount))
	assert.Equal(t, s.TickCount, next.TickCount)
}

func TestRecordFillDoesNotMutateInput(t *testing.T) {
	tr := newTestTracker("100000", "10000")
	s := stateWithTotal("0")

	_, err := tr.RecordFill(s, d("10000"), d("0.02"))
	require.NoError(t, err)
	assert.True(t, s.TotalBuyOrderAmount.IsZero())
	assert.Zero(t, s.TickCount)
}

func TestMarkStoppedIsIdempotent(t *testing.T) {
	tr := newTestTracker("100000", "10000")
	s := stateWithTotal("0")

	once := tr.MarkStopped(s, models.StatusStoppedBudgetExceeded, "limit")
	twice := tr.MarkStopped(once, models.StatusStoppedBudgetExceeded, "limit")
	assert.Equal(t, once, twice)
	assert.Equal(t, models.StatusStoppedBudgetExceeded, twice.Status)
	assert.Equal(t, "limit", twice.StopReason)
}

func TestMarkStoppedKeepsFirstTerminalStatus(t *testing.T) {
	tr := newTestTracker("100000", "10000")
	s := tr.MarkStopped(stateWithTotal("0"), models.StatusStoppedInsufficientBalance, "low balance")

	again := tr.MarkStopped(s, models.StatusStoppedManually, "operator")
	assert.Equal(t, models.StatusStoppedInsufficientBalance, again.Status)
	assert.Equal(t, "low balance", again.StopReason)
}

func TestMarkStoppedIgnoresRunningStatus(t *testing.T) {
	tr := newTestTracker("100000", "10000")
	s := stateWithTotal("0")
	assert.Equal(t, s, tr.MarkStopped(s, models.StatusRunning, "noop"))
}
