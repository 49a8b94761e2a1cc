package bot

import (
	"context"
	"dca-bot-go/internal/budget"
	"dca-bot-go/internal/exchange"
	"dca-bot-go/internal/models"
	"dca-bot-go/internal/persistence"
	"dca-bot-go/internal/scheduler"
	"dca-bot-go/internal/statemanager"
	"dca-bot-go/internal/strategy"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// StatusInterval 是运行期间打印状态的周期
const StatusInterval = 30 * time.Minute

// Notifier 是 Bot 发送告警所需的能力
type Notifier interface {
	Notify(ctx context.Context, subject, body string)
}

// DCABot 是定投机器人的核心结构, 负责把状态管理、策略引擎和调度器组装起来
type DCABot struct {
	config    *models.Config
	pair      models.CurrencyPair
	state     *statemanager.StateManager
	engine    *strategy.Engine
	scheduler *scheduler.Scheduler

	stopOnce sync.Once
	stopCh   chan struct{}
	running  atomic.Bool
	logger   *zap.Logger
}

// NewDCABot 创建一个新的定投机器人实例。journal 可以为 nil。
func NewDCABot(config *models.Config, ex exchange.Exchange, repo persistence.StateRepository, notifier Notifier, journal strategy.FillJournal, logger *zap.Logger) (*DCABot, error) {
	pair, err := models.ParsePair(config.Strategy.CurrencyPair)
	if err != nil {
		return nil, err
	}
	logger = logger.With(zap.String("bot", config.BotID))

	sm, err := statemanager.NewStateManager(repo, config.BotID, pair.String(), logger)
	if err != nil {
		return nil, err
	}

	opts := []strategy.Option{
		strategy.WithCallTimeout(time.Duration(config.Scheduler.CallTimeoutSeconds) * time.Second),
	}
	if journal != nil {
		opts = append(opts, strategy.WithJournal(journal))
	}
	engine, err := strategy.NewEngine(config.BotID, config.Strategy, ex, notifier, logger, opts...)
	if err != nil {
		return nil, err
	}

	b := &DCABot{
		config: config,
		pair:   pair,
		state:  sm,
		engine: engine,
		stopCh: make(chan struct{}),
		logger: logger,
	}
	b.scheduler = scheduler.New(scheduler.ConfigFrom(config.Scheduler), engine, sm, engine.Tracker(), b, notifier, logger)
	return b, nil
}

// Run 阻塞运行直到机器人进入终止状态或 ctx 被取消
func (b *DCABot) Run(ctx context.Context) error {
	if !b.running.CompareAndSwap(false, true) {
		return fmt.Errorf("bot %s is already running", b.config.BotID)
	}
	defer b.running.Store(false)

	if s := b.state.Snapshot(); !s.IsRunning() {
		b.logger.Warn("bot is already stopped, reset it to start a new run",
			zap.String("status", string(s.Status)),
			zap.String("reason", s.StopReason))
		return nil
	}

	b.logger.Info("DCA bot started",
		zap.String("pair", b.pair.String()),
		zap.String("buyAmountPerTick", b.config.Strategy.BuyAmountPerTick.String()),
		zap.String("maxInvestment", b.config.Strategy.MaxInvestment.String()))

	monitorCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		b.monitorStatus(monitorCtx)
	}()

	err := b.scheduler.Run(ctx)
	cancel()
	wg.Wait()

	b.printStatus()
	return err
}

// RequestStop 请求在下一个 tick 边界停止机器人, 正在等待下一次执行时立即停止
func (b *DCABot) RequestStop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
}

// StopRequested 实现 scheduler.Control
func (b *DCABot) StopRequested() bool {
	select {
	case <-b.stopCh:
		return true
	default:
		return false
	}
}

// StopSignal 实现 scheduler.Control
func (b *DCABot) StopSignal() <-chan struct{} {
	return b.stopCh
}

// Snapshot 返回当前状态的副本
func (b *DCABot) Snapshot() models.BotRunState {
	return b.state.Snapshot()
}

// monitorStatus 定期打印状态
func (b *DCABot) monitorStatus(ctx context.Context) {
	ticker := time.NewTicker(StatusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.printStatus()
		}
	}
}

// printStatus 打印机器人当前状态
func (b *DCABot) printStatus() {
	s := b.state.Snapshot()
	b.logger.Info("bot status",
		zap.String("status", string(s.Status)),
		zap.Int64("ticks", s.TickCount),
		zap.String("totalBuyOrderAmount", s.TotalBuyOrderAmount.String()),
		zap.String("totalBaseAcquired", s.TotalBaseAcquired.String()),
		zap.String("averageCost", s.AverageCost().String()),
		zap.String("stopReason", s.StopReason))
}

// StopPersisted 将一个未在运行的机器人的持久化状态标记为手动停止
func StopPersisted(repo persistence.StateRepository, config *models.Config, reason string, logger *zap.Logger) (models.BotRunState, error) {
	pair, err := models.ParsePair(config.Strategy.CurrencyPair)
	if err != nil {
		return models.BotRunState{}, err
	}
	sm, err := statemanager.NewStateManager(repo, config.BotID, pair.String(), logger)
	if err != nil {
		return models.BotRunState{}, err
	}
	current := sm.Snapshot()
	stopped := budget.NewTracker(config.Strategy).MarkStopped(current, models.StatusStoppedManually, reason)
	if stopped.Status == current.Status {
		return current, nil
	}
	if err := sm.Commit(stopped); err != nil {
		return current, err
	}
	return stopped, nil
}

// ResetPersisted 归档旧状态并开始新一轮定投
func ResetPersisted(repo persistence.StateRepository, config *models.Config, logger *zap.Logger) (models.BotRunState, error) {
	pair, err := models.ParsePair(config.Strategy.CurrencyPair)
	if err != nil {
		return models.BotRunState{}, err
	}
	sm, err := statemanager.NewStateManager(repo, config.BotID, pair.String(), logger)
	if err != nil {
		return models.BotRunState{}, err
	}
	return sm.Reset()
}
