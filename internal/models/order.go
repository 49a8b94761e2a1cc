package models

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"github.com/jxskiss/base62"
	"github.com/shopspring/decimal"
)

// Side 定义了交易方向的类型
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

var (
	ErrInvalidPair  = errors.New("invalid currency pair")
	ErrInvalidOrder = errors.New("invalid order request")
)

// CurrencyPair 由基础货币和计价货币组成, e.g. btc_jpy -> BTC/JPY
type CurrencyPair struct {
	Base  string
	Quote string
}

// ParsePair 解析 "btc_jpy", "BTC/JPY" 或 "btc-jpy" 形式的交易对
func ParsePair(s string) (CurrencyPair, error) {
	parts := strings.FieldsFunc(strings.TrimSpace(s), func(r rune) bool {
		return r == '_' || r == '/' || r == '-'
	})
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return CurrencyPair{}, fmt.Errorf("%w: %q", ErrInvalidPair, s)
	}
	return CurrencyPair{Base: strings.ToUpper(parts[0]), Quote: strings.ToUpper(parts[1])}, nil
}

// Symbol 返回交易所使用的合并写法, e.g. BTCJPY
func (p CurrencyPair) Symbol() string {
	return p.Base + p.Quote
}

func (p CurrencyPair) String() string {
	return strings.ToLower(p.Base + "_" + p.Quote)
}

// Ticker 是某一时刻的最优买卖价
type Ticker struct {
	Pair string
	Bid  decimal.Decimal
	Ask  decimal.Decimal
	Last decimal.Decimal
	Time time.Time
}

// Balances 按资产(大写)记录可用余额
type Balances map[string]decimal.Decimal

// Available 返回指定资产的可用余额, 不存在时为零
func (b Balances) Available(asset string) decimal.Decimal {
	if v, ok := b[strings.ToUpper(asset)]; ok {
		return v
	}
	return decimal.Zero
}

// OrderRequest 每个 tick 新建一次, 提交后不再修改
type OrderRequest struct {
	Pair          CurrencyPair
	Side          Side
	LimitPrice    decimal.Decimal
	Quantity      decimal.Decimal
	ClientOrderID string
}

// Validate 检查限价和数量均为正数
func (r OrderRequest) Validate() error {
	if !r.LimitPrice.IsPositive() {
		return fmt.Errorf("%w: limit price %s", ErrInvalidOrder, r.LimitPrice)
	}
	if !r.Quantity.IsPositive() {
		return fmt.Errorf("%w: quantity %s", ErrInvalidOrder, r.Quantity)
	}
	if r.ClientOrderID == "" {
		return fmt.Errorf("%w: missing client order id", ErrInvalidOrder)
	}
	return nil
}

// OrderResult 是交易所确认的下单结果
type OrderResult struct {
	OrderID        string
	ClientOrderID  string
	Status         string
	FilledQuantity decimal.Decimal // 实际成交的基础货币数量
	FilledQuote    decimal.Decimal // 实际花费的计价货币, 未知时为零
	Fee            decimal.Decimal
}

// QuoteValue 返回成交部分的计价货币价值。
// 交易所未返回成交金额时，按参考价折算。
func (r OrderResult) QuoteValue(refPrice decimal.Decimal) decimal.Decimal {
	if r.FilledQuote.IsPositive() {
		return r.FilledQuote
	}
	return r.FilledQuantity.Mul(refPrice)
}

// Fill 是写入成交账本的一条记录
type Fill struct {
	BotID          string
	ClientOrderID  string
	OrderID        string
	Pair           string
	Side           Side
	Tick           int64
	LimitPrice     decimal.Decimal
	RequestedQty   decimal.Decimal
	FilledQuantity decimal.Decimal
	FilledQuote    decimal.Decimal
	Status         string
	CreatedAt      time.Time
}

// ClientOrderID derives the client order id for the given tick of a run.
// The same (runKey, tick) always yields the same id so a resubmitted tick is
// recognised by the exchange instead of being filled twice.
func ClientOrderID(runKey string, tick int64) string {
	h := fnv.New64a()
	h.Write([]byte(runKey))
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], h.Sum64())
	return "dca-" + base62.EncodeToString(buf[:]) + "-" + string(base62.FormatInt(tick))
}
