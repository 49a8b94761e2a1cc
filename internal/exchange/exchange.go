package exchange

import (
	"context"
	"dca-bot-go/internal/models"
)

// Exchange 定义了策略引擎需要的交易所能力。
// 这使得机器人可以在真实交易、模拟交易和回测之间轻松切换。
type Exchange interface {
	// GetBalance 返回各资产的可用余额
	GetBalance(ctx context.Context) (models.Balances, error)
	// GetTicker 返回交易对的最优买卖价
	GetTicker(ctx context.Context, pair models.CurrencyPair) (*models.Ticker, error)
	// SubmitOrder 提交订单并返回确认的成交结果。
	// 相同 ClientOrderID 的重复提交必须返回首次提交的结果。
	SubmitOrder(ctx context.Context, req models.OrderRequest) (*models.OrderResult, error)
	// LookupOrder 按 ClientOrderID 查询已提交的订单, 不存在时返回 ErrOrderNotFound
	LookupOrder(ctx context.Context, pair models.CurrencyPair, clientOrderID string) (*models.OrderResult, error)
}
