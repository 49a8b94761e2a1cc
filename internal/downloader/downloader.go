package downloader

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"
	"go.uber.org/zap"
)

// Header 是K线CSV文件的表头, 回测按列名读取 open_time 和 close
var Header = []string{"open_time", "open", "high", "low", "close", "volume", "close_time", "quote_asset_volume", "number_of_trades", "taker_buy_base_asset_volume", "taker_buy_quote_asset_volume"}

// fetchFunc 从 start 开始拉取一页K线
type fetchFunc func(ctx context.Context, symbol, interval string, start time.Time, limit int) ([]*binance.Kline, error)

// KlineDownloader 用于从币安下载K线数据
type KlineDownloader struct {
	fetch    fetchFunc
	interval string
	pause    time.Duration
	logger   *zap.Logger
}

// NewKlineDownloader 创建一个新的下载器实例。baseURL 为空时使用币安生产网。
func NewKlineDownloader(baseURL string, logger *zap.Logger) *KlineDownloader {
	client := binance.NewClient("", "") // 公共接口不需要API Key
	if baseURL != "" {
		client.BaseURL = baseURL
	}
	return &KlineDownloader{
		fetch: func(ctx context.Context, symbol, interval string, start time.Time, limit int) ([]*binance.Kline, error) {
			return client.NewKlinesService().
				Symbol(symbol).
				Interval(interval).
				StartTime(start.UnixMilli()).
				Limit(limit).
				Do(ctx)
		},
		interval: "1m",
		pause:    200 * time.Millisecond,
		logger:   logger,
	}
}

// DownloadKlines 下载指定交易对和时间范围内的1分钟K线数据，并保存到CSV文件
// 如果文件已存在，则会跳过下载，直接使用缓存。
func (d *KlineDownloader) DownloadKlines(ctx context.Context, symbol, filePath string, startTime, endTime time.Time) error {
	if _, err := os.Stat(filePath); err == nil {
		d.logger.Info("loading klines from cache", zap.String("path", filePath))
		return nil
	}

	d.logger.Info("downloading klines",
		zap.String("symbol", symbol),
		zap.String("start", startTime.Format("2006-01-02")),
		zap.String("end", endTime.Format("2006-01-02")))

	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("无法创建目录 %s: %w", dir, err)
	}

	// 先写入临时文件, 下载完整后再改名, 避免中断时留下被当作缓存的半截文件
	tmpPath := filePath + ".part"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("无法创建文件 %s: %w", tmpPath, err)
	}
	defer os.Remove(tmpPath)

	if err := d.write(ctx, file, symbol, startTime, endTime); err != nil {
		file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, filePath); err != nil {
		return err
	}

	d.logger.Info("klines downloaded", zap.String("path", filePath))
	return nil
}

func (d *KlineDownloader) write(ctx context.Context, file *os.File, symbol string, startTime, endTime time.Time) error {
	writer := csv.NewWriter(file)

	if err := writer.Write(Header); err != nil {
		return fmt.Errorf("写入CSV表头失败: %w", err)
	}

	for t := startTime; t.Before(endTime); {
		klines, err := d.fetch(ctx, symbol, d.interval, t, 1000) // 币安单次请求最多1000条
		if err != nil {
			return fmt.Errorf("下载K线数据失败: %w", err)
		}
		if len(klines) == 0 {
			break
		}

		for _, k := range klines {
			if k.OpenTime >= endTime.UnixMilli() {
				break
			}
			record := []string{
				strconv.FormatInt(k.OpenTime, 10),
				k.Open,
				k.High,
				k.Low,
				k.Close,
				k.Volume,
				strconv.FormatInt(k.CloseTime, 10),
				k.QuoteAssetVolume,
				strconv.FormatInt(k.TradeNum, 10),
				k.TakerBuyBaseAssetVolume,
				k.TakerBuyQuoteAssetVolume,
			}
			if err := writer.Write(record); err != nil {
				return fmt.Errorf("写入CSV记录失败: %w", err)
			}
		}

		// 更新下一次请求的开始时间
		t = time.UnixMilli(klines[len(klines)-1].CloseTime + 1)
		d.logger.Debug("downloaded klines up to", zap.Time("time", t))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d.pause): // 避免过于频繁的请求
		}
	}

	writer.Flush()
	return writer.Error()
}
