package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePair(t *testing.T) {
	for _, in := range []string{"btc_jpy", "BTC/JPY", "btc-jpy", " btc_jpy "} {
		p, err := ParsePair(in)
		require.NoError(t, err, in)
		assert.Equal(t, "BTC", p.Base)
		assert.Equal(t, "JPY", p.Quote)
		assert.Equal(t, "BTCJPY", p.Symbol())
		assert.Equal(t, "btc_jpy", p.String())
	}

	for _, in := range []string{"", "btcjpy", "btc_", "a_b_c"} {
		_, err := ParsePair(in)
		assert.ErrorIs(t, err, ErrInvalidPair, in)
	}
}

func TestClientOrderIDIsStablePerTick(t *testing.T) {
	a := ClientOrderID("bot-1", 7)
	assert.Equal(t, a, ClientOrderID("bot-1", 7))
	assert.NotEqual(t, a, ClientOrderID("bot-1", 8))
	assert.NotEqual(t, a, ClientOrderID("bot-2", 7))
	assert.LessOrEqual(t, len(a), 36)
	assert.Regexp(t, `^[A-Za-z0-9_-]+$`, a)
}

func TestClientOrderIDChangesAfterReset(t *testing.T) {
	started := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	run := NewBotRunState("bot-1", "btc_jpy", started)
	again := NewBotRunState("bot-1", "btc_jpy", started.In(time.FixedZone("JST", 9*3600)))
	reset := NewBotRunState("bot-1", "btc_jpy", started.Add(time.Hour))

	assert.Equal(t, run.ClientOrderID(1), again.ClientOrderID(1))
	assert.NotEqual(t, run.ClientOrderID(1), reset.ClientOrderID(1))
}

func TestOrderRequestValidate(t *testing.T) {
	req := OrderRequest{
		Side:          Buy,
		LimitPrice:    decimal.NewFromInt(600000),
		Quantity:      decimal.RequireFromString("0.02"),
		ClientOrderID: "dca-x-1",
	}
	assert.NoError(t, req.Validate())

	zeroPrice := req
	zeroPrice.LimitPrice = decimal.Zero
	assert.ErrorIs(t, zeroPrice.Validate(), ErrInvalidOrder)

	zeroQty := req
	zeroQty.Quantity = decimal.Zero
	assert.ErrorIs(t, zeroQty.Validate(), ErrInvalidOrder)
}

func TestOrderResultQuoteValue(t *testing.T) {
	bid := decimal.NewFromInt(500000)

	reported := OrderResult{FilledQuantity: decimal.RequireFromString("0.015"), FilledQuote: decimal.NewFromInt(7600)}
	assert.True(t, reported.QuoteValue(bid).Equal(decimal.NewFromInt(7600)))

	derived := OrderResult{FilledQuantity: decimal.RequireFromString("0.015")}
	assert.True(t, derived.QuoteValue(bid).Equal(decimal.NewFromInt(7500)))
}

func TestBalancesAvailable(t *testing.T) {
	b := Balances{"JPY": decimal.NewFromInt(50000)}
	assert.True(t, b.Available("jpy").Equal(decimal.NewFromInt(50000)))
	assert.True(t, b.Available("BTC").IsZero())
}
