package exchange

import (
	"context"
	"dca-bot-go/internal/models"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var btcJPY = models.CurrencyPair{Base: "BTC", Quote: "JPY"}

func newPaper(t *testing.T, balance string) *PaperExchange {
	t.Helper()
	e := NewPaperExchange(btcJPY, models.PaperConfig{InitialQuoteBalance: d(balance)})
	e.SetPrice(d("500000"), d("500000"), time.Unix(0, 0))
	return e
}

func buy(qty, price, id string) models.OrderRequest {
	return models.OrderRequest{
		Pair:          btcJPY,
		Side:          models.Buy,
		LimitPrice:    d(price),
		Quantity:      d(qty),
		ClientOrderID: id,
	}
}

func TestPaperExchangeFillsAtAsk(t *testing.T) {
	e := newPaper(t, "50000")
	ctx := context.Background()

	res, err := e.SubmitOrder(ctx, buy("0.02", "600000", "a"))
	require.NoError(t, err)
	assert.Equal(t, "FILLED", res.Status)
	assert.True(t, res.FilledQuantity.Equal(d("0.02")))
	assert.True(t, res.FilledQuote.Equal(d("10000")))

	bal, err := e.GetBalance(ctx)
	require.NoError(t, err)
	assert.True(t, bal.Available("JPY").Equal(d("40000")))
	assert.True(t, bal.Available("BTC").Equal(d("0.02")))
	require.Len(t, e.TradeLog, 1)
}

func TestPaperExchangeDeduplicatesClientOrderID(t *testing.T) {
	e := newPaper(t, "50000")
	ctx := context.Background()

	first, err := e.SubmitOrder(ctx, buy("0.02", "600000", "same"))
	require.NoError(t, err)
	second, err := e.SubmitOrder(ctx, buy("0.02", "600000", "same"))
	require.NoError(t, err)

	assert.Equal(t, first.OrderID, second.OrderID)
	bal, _ := e.GetBalance(ctx)
	assert.True(t, bal.Available("JPY").Equal(d("40000")), "second submission must not spend again")
	assert.Len(t, e.TradeLog, 1)
}

func TestPaperExchangeLookupOrder(t *testing.T) {
	e := newPaper(t, "50000")
	ctx := context.Background()

	_, err := e.LookupOrder(ctx, btcJPY, "x")
	assert.True(t, errors.Is(err, ErrOrderNotFound))

	placed, err := e.SubmitOrder(ctx, buy("0.02", "600000", "x"))
	require.NoError(t, err)
	found, err := e.LookupOrder(ctx, btcJPY, "x")
	require.NoError(t, err)
	assert.Equal(t, placed, found)
}

func TestPaperExchangePartialFill(t *testing.T) {
	e := newPaper(t, "50000")
	e.SetLiquidity(d("0.015"))

	res, err := e.SubmitOrder(context.Background(), buy("0.02", "600000", "p"))
	require.NoError(t, err)
	assert.Equal(t, "PARTIALLY_FILLED", res.Status)
	assert.True(t, res.FilledQuantity.Equal(d("0.015")))
	assert.True(t, res.FilledQuote.Equal(d("7500")))
}

func TestPaperExchangeLimitBelowAskDoesNotFill(t *testing.T) {
	e := newPaper(t, "50000")
	e.SetPrice(d("500000"), d("510000"), time.Unix(60, 0))

	res, err := e.SubmitOrder(context.Background(), buy("0.02", "505000", "low"))
	require.NoError(t, err)
	assert.Equal(t, "EXPIRED", res.Status)
	assert.True(t, res.FilledQuantity.IsZero())
	assert.Empty(t, e.TradeLog)
}

func TestPaperExchangeInsufficientFunds(t *testing.T) {
	e := newPaper(t, "5000")

	_, err := e.SubmitOrder(context.Background(), buy("0.02", "600000", "x"))
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.False(t, IsTransient(err))
}

func TestPaperExchangeChargesFeeInBase(t *testing.T) {
	e := NewPaperExchange(btcJPY, models.PaperConfig{InitialQuoteBalance: d("50000"), FeeRate: d("0.001")})
	e.SetPrice(d("500000"), decimal.Zero, time.Unix(0, 0))

	res, err := e.SubmitOrder(context.Background(), buy("0.02", "600000", "f"))
	require.NoError(t, err)
	assert.True(t, res.Fee.Equal(d("0.00002")))

	bal, _ := e.GetBalance(context.Background())
	assert.True(t, bal.Available("BTC").Equal(d("0.01998")))
}

func TestPaperExchangeTickerErrors(t *testing.T) {
	e := NewPaperExchange(btcJPY, models.PaperConfig{})
	_, err := e.GetTicker(context.Background(), btcJPY)
	assert.ErrorIs(t, err, ErrNoQuote)
	assert.True(t, IsTransient(err))

	_, err = e.GetTicker(context.Background(), models.CurrencyPair{Base: "ETH", Quote: "JPY"})
	assert.ErrorIs(t, err, ErrInvalidPair)
}

func TestPaperExchangeEquityCurve(t *testing.T) {
	e := newPaper(t, "50000")
	_, err := e.SubmitOrder(context.Background(), buy("0.02", "600000", "e"))
	require.NoError(t, err)

	e.SetPrice(d("550000"), d("550000"), time.Unix(60, 0))
	assert.True(t, e.Equity().Equal(d("51000")))
	require.Len(t, e.EquityCurve, 2)
	assert.True(t, e.EquityCurve[0].Equal(d("50000")))
}

type stubQuoteSource struct {
	ticker *models.Ticker
	err    error
}

func (s *stubQuoteSource) GetTicker(ctx context.Context, pair models.CurrencyPair) (*models.Ticker, error) {
	return s.ticker, s.err
}

func TestPaperExchangeFollowsQuoteSource(t *testing.T) {
	e := newPaper(t, "50000")
	src := &stubQuoteSource{ticker: &models.Ticker{Bid: d("400000"), Ask: d("401000"), Time: time.Unix(60, 0)}}
	e.SetQuoteSource(src)

	ticker, err := e.GetTicker(context.Background(), btcJPY)
	require.NoError(t, err)
	assert.True(t, d("400000").Equal(ticker.Bid))
	assert.True(t, d("401000").Equal(ticker.Ask))

	res, err := e.SubmitOrder(context.Background(), buy("0.01", "480000", "src-1"))
	require.NoError(t, err)
	assert.True(t, d("4010").Equal(res.FilledQuote), "filled at the source ask: %s", res.FilledQuote)

	src.err = errors.New("upstream down")
	_, err = e.GetTicker(context.Background(), btcJPY)
	assert.Error(t, err)
}
