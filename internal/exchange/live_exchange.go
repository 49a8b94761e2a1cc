package exchange

import (
	"context"
	"dca-bot-go/internal/models"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// 币安现货 API 错误码
const (
	codeDisconnected    = -1001
	codeTooManyRequests = -1003
	codeTimestamp       = -1021
	codeBadSignature    = -1022
	codeInvalidSymbol   = -1121
	codeNewOrderRejects = -2010
	codeNoSuchOrder     = -2013
	codeBadAPIKey       = -2014
	codeRejectedAPIKey  = -2015
)

// LiveExchange 实现了 Exchange 接口，用于与真实的币安现货交易所进行交互。
type LiveExchange struct {
	client     *binance.Client
	limiter    *rate.Limiter
	recvWindow int64
	logger     *zap.Logger
}

// NewLiveExchange 创建一个新的 LiveExchange 实例。
// baseURL 为空时使用 SDK 默认的生产网地址。
func NewLiveExchange(apiKey, secretKey, baseURL string, requestsPerSecond float64, recvWindowMs int64, logger *zap.Logger) (*LiveExchange, error) {
	if apiKey == "" || secretKey == "" {
		return nil, fmt.Errorf("%w: api key and secret key are required", ErrAuth)
	}
	return newLiveExchange(apiKey, secretKey, baseURL, requestsPerSecond, recvWindowMs, logger), nil
}

// NewMarketData 创建一个不带密钥的实例, 只能调用公共行情接口 GetTicker,
// 用于模拟交易跟随真实行情。
func NewMarketData(baseURL string, requestsPerSecond float64, logger *zap.Logger) *LiveExchange {
	return newLiveExchange("", "", baseURL, requestsPerSecond, 0, logger)
}

func newLiveExchange(apiKey, secretKey, baseURL string, requestsPerSecond float64, recvWindowMs int64, logger *zap.Logger) *LiveExchange {
	client := binance.NewClient(apiKey, secretKey)
	if baseURL != "" {
		client.BaseURL = baseURL
	}

	limit := rate.Inf
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
	}

	return &LiveExchange{
		client:     client,
		limiter:    rate.NewLimiter(limit, 1),
		recvWindow: recvWindowMs,
		logger:     logger,
	}
}

func (e *LiveExchange) opts() []binance.RequestOption {
	if e.recvWindow <= 0 {
		return nil
	}
	return []binance.RequestOption{binance.WithRecvWindow(e.recvWindow)}
}

// wait 在发出请求前等待限速令牌
func (e *LiveExchange) wait(ctx context.Context) error {
	if err := e.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: rate limiter: %v", ErrNetwork, err)
	}
	return nil
}

// GetBalance 获取账户中所有资产的可用余额。
func (e *LiveExchange) GetBalance(ctx context.Context) (models.Balances, error) {
	if err := e.wait(ctx); err != nil {
		return nil, err
	}
	account, err := e.client.NewGetAccountService().Do(ctx, e.opts()...)
	if err != nil {
		return nil, classifyError("get balance", err)
	}

	balances := make(models.Balances, len(account.Balances))
	for _, b := range account.Balances {
		free, err := decimal.NewFromString(b.Free)
		if err != nil {
			return nil, fmt.Errorf("parse %s balance %q: %w", b.Asset, b.Free, err)
		}
		balances[strings.ToUpper(b.Asset)] = free
	}
	return balances, nil
}

// GetTicker 获取交易对当前的最优买卖价。
func (e *LiveExchange) GetTicker(ctx context.Context, pair models.CurrencyPair) (*models.Ticker, error) {
	if err := e.wait(ctx); err != nil {
		return nil, err
	}
	tickers, err := e.client.NewListBookTickersService().Symbol(pair.Symbol()).Do(ctx)
	if err != nil {
		return nil, classifyError("get ticker", err)
	}
	if len(tickers) == 0 {
		return nil, fmt.Errorf("%w: no book ticker for %s", ErrNoQuote, pair.Symbol())
	}

	bid, errB := decimal.NewFromString(tickers[0].BidPrice)
	ask, errA := decimal.NewFromString(tickers[0].AskPrice)
	if errB != nil || errA != nil {
		return nil, fmt.Errorf("parse book ticker for %s: %v", pair.Symbol(), errors.Join(errB, errA))
	}
	return &models.Ticker{Pair: pair.String(), Bid: bid, Ask: ask, Time: time.Now()}, nil
}

// SubmitOrder 以 IOC 限价单下单。
// 调用方应先用 LookupOrder 确认该 ClientOrderID 尚未提交; 交易所拒绝重复订单时返回已有订单的结果。
func (e *LiveExchange) SubmitOrder(ctx context.Context, req models.OrderRequest) (*models.OrderResult, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRejected, err)
	}

	if err := e.wait(ctx); err != nil {
		return nil, err
	}
	resp, err := e.client.NewCreateOrderService().
		Symbol(req.Pair.Symbol()).
		Side(binance.SideTypeBuy).
		Type(binance.OrderTypeLimit).
		TimeInForce(binance.TimeInForceTypeIOC).
		Price(req.LimitPrice.String()).
		Quantity(req.Quantity.String()).
		NewClientOrderID(req.ClientOrderID).
		NewOrderRespType(binance.NewOrderRespTypeFULL).
		Do(ctx, e.opts()...)
	if err != nil {
		classified := classifyError("submit order", err)
		if isDuplicateOrder(err) {
			e.logger.Info("订单已存在，返回已有成交结果", zap.String("clientOrderID", req.ClientOrderID))
			return e.LookupOrder(ctx, req.Pair, req.ClientOrderID)
		}
		return nil, classified
	}

	e.logger.Info("订单已提交",
		zap.String("symbol", resp.Symbol),
		zap.Int64("orderID", resp.OrderID),
		zap.String("clientOrderID", resp.ClientOrderID),
		zap.String("status", string(resp.Status)),
		zap.String("executedQty", resp.ExecutedQuantity),
		zap.String("cummulativeQuoteQty", resp.CummulativeQuoteQuantity))

	var fee decimal.Decimal
	for _, f := range resp.Fills {
		if strings.EqualFold(f.CommissionAsset, req.Pair.Base) {
			if c, err := decimal.NewFromString(f.Commission); err == nil {
				fee = fee.Add(c)
			}
		}
	}
	return toOrderResult(resp.OrderID, resp.ClientOrderID, string(resp.Status), resp.ExecutedQuantity, resp.CummulativeQuoteQuantity, fee)
}

// LookupOrder 按 ClientOrderID 查询订单。查询接口不返回手续费, 结果中 Fee 为零。
func (e *LiveExchange) LookupOrder(ctx context.Context, pair models.CurrencyPair, clientOrderID string) (*models.OrderResult, error) {
	if err := e.wait(ctx); err != nil {
		return nil, err
	}
	order, err := e.client.NewGetOrderService().
		Symbol(pair.Symbol()).
		OrigClientOrderID(clientOrderID).
		Do(ctx, e.opts()...)
	if err != nil {
		return nil, classifyError("lookup order", err)
	}
	return toOrderResult(order.OrderID, order.ClientOrderID, string(order.Status), order.ExecutedQuantity, order.CummulativeQuoteQuantity, decimal.Zero)
}

func toOrderResult(orderID int64, clientOrderID, status, executedQty, quoteQty string, fee decimal.Decimal) (*models.OrderResult, error) {
	filled, err := decimal.NewFromString(executedQty)
	if err != nil {
		return nil, fmt.Errorf("parse executed quantity %q: %w", executedQty, err)
	}
	quote := decimal.Zero
	if quoteQty != "" {
		if quote, err = decimal.NewFromString(quoteQty); err != nil {
			return nil, fmt.Errorf("parse quote quantity %q: %w", quoteQty, err)
		}
	}
	return &models.OrderResult{
		OrderID:        strconv.FormatInt(orderID, 10),
		ClientOrderID:  clientOrderID,
		Status:         status,
		FilledQuantity: filled,
		FilledQuote:    quote,
		Fee:            fee,
	}, nil
}

func isDuplicateOrder(err error) bool {
	var apiErr *common.APIError
	return errors.As(err, &apiErr) && apiErr.Code == codeNewOrderRejects &&
		strings.Contains(strings.ToLower(apiErr.Message), "duplicate")
}

// classifyError 将币安 SDK 返回的错误映射为类型化错误
func classifyError(op string, err error) error {
	var apiErr *common.APIError
	if !errors.As(err, &apiErr) {
		if errors.Is(err, context.Canceled) {
			return fmt.Errorf("%s: %w", op, err)
		}
		return fmt.Errorf("%s: %w: %v", op, ErrNetwork, err)
	}

	var kind error
	switch apiErr.Code {
	case codeDisconnected, codeTimestamp:
		kind = ErrNetwork
	case codeTooManyRequests:
		kind = ErrRateLimited
	case codeBadSignature, codeBadAPIKey, codeRejectedAPIKey:
		kind = ErrAuth
	case codeInvalidSymbol:
		kind = ErrInvalidPair
	case codeNoSuchOrder:
		kind = ErrOrderNotFound
	case codeNewOrderRejects:
		if strings.Contains(strings.ToLower(apiErr.Message), "insufficient balance") {
			kind = ErrInsufficientFunds
		} else {
			kind = ErrRejected
		}
	default:
		kind = ErrRejected
	}
	return fmt.Errorf("%s: %w: %v", op, kind, apiErr)
}
