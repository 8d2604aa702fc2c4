package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"QuantSync/pkg/collector"
	"QuantSync/pkg/config"
	"QuantSync/pkg/database"
	"QuantSync/pkg/logger"
	"QuantSync/pkg/model"
	"QuantSync/pkg/normalize"
	"QuantSync/pkg/sharding"
)

// KlinePipeline 单只股票的日K线增量同步
type KlinePipeline struct {
	upstream   collector.Upstream
	normalizer *normalize.Normalizer
	stocks     *database.StockDB
	klines     *sharding.Manager[model.KlineDaily]

	epoch         time.Time // 为零时按 lookbackYears 回溯
	lookbackYears int
	emptyRunLimit int
	adjust        collector.Adjust
	now           Clock

	logger *logrus.Entry
}

// NewKlinePipeline 创建K线同步流程
func NewKlinePipeline(stores *database.Stores, upstream collector.Upstream, cfg config.IngestConfig) (*KlinePipeline, error) {
	p := &KlinePipeline{
		upstream:      upstream,
		normalizer:    normalize.New(),
		stocks:        stores.Stocks,
		klines:        stores.Klines,
		lookbackYears: cfg.LookbackYears,
		emptyRunLimit: cfg.EmptyRunLimit,
		now:           time.Now,
		logger:        logger.WithComponent("ingest.kline"),
	}
	adjust, err := collector.ParseAdjust(cfg.Adjust)
	if err != nil {
		return nil, err
	}
	p.adjust = adjust
	if cfg.KlineEpoch != "" {
		epoch, err := time.Parse("2006-01-02", cfg.KlineEpoch)
		if err != nil {
			return nil, fmt.Errorf("解析K线起始日期失败: %w", err)
		}
		p.epoch = epoch
	}
	if p.lookbackYears <= 0 {
		p.lookbackYears = 30
	}
	return p, nil
}

// WithClock 替换时钟
func (p *KlinePipeline) WithClock(now Clock) *KlinePipeline {
	p.now = now
	return p
}

func (p *KlinePipeline) epochFor(today time.Time) time.Time {
	if !p.epoch.IsZero() {
		return p.epoch
	}
	return time.Date(today.Year()-p.lookbackYears, 1, 1, 0, 0, 0, 0, time.UTC)
}

// LastTradeDate 已入库的最新交易日，没有数据时 ok 为 false
func (p *KlinePipeline) LastTradeDate(ctx context.Context, stockID uint) (time.Time, bool, error) {
	today := Today(p.now())
	rows, err := p.klines.QueryRange(ctx, p.epochFor(today), today, sharding.Query{
		Where: map[string]interface{}{"stock_id": stockID},
		Desc:  true,
		Limit: 1,
	})
	if err != nil {
		return time.Time{}, false, err
	}
	if len(rows) == 0 {
		return time.Time{}, false, nil
	}
	return normalize.DateOf(rows[0].TradeDate), true, nil
}

// Run 拉取 [d_last+1, today] 的日K线并写入分表
func (p *KlinePipeline) Run(ctx context.Context, stock *model.Stock) (Outcome, error) {
	var out Outcome
	now := p.now()
	today := Today(now)

	from := p.epochFor(today)
	last, found, err := p.LastTradeDate(ctx, stock.ID)
	if err != nil {
		return out, err
	}
	if found {
		from = last.AddDate(0, 0, 1)
		cp := last
		out.Checkpoint = &cp
	}
	log := p.logger.WithFields(logrus.Fields{
		"stock": stock.Code,
		"from":  from.Format("2006-01-02"),
		"to":    today.Format("2006-01-02"),
	})
	if from.After(today) {
		log.Debug("K线已是最新")
		return out, nil
	}

	raw, err := p.upstream.FetchKlines(ctx, stock.Code, from, today, collector.PeriodDaily, p.adjust)
	if err != nil {
		return out, err
	}

	records := p.normalizer.Klines(raw)
	rows := make([]model.KlineDaily, 0, len(records))
	for _, r := range records {
		// 上游可能返回重叠区间
		if found && !r.TradeDate.After(last) {
			continue
		}
		if r.TradeDate.After(today) {
			continue
		}
		rows = append(rows, model.KlineDaily{
			StockID:       stock.ID,
			TradeDate:     r.TradeDate,
			Open:          r.Open,
			High:          r.High,
			Low:           r.Low,
			Close:         r.Close,
			Volume:        r.Volume,
			Amount:        r.Amount,
			Amplitude:     r.Amplitude,
			ChangePercent: r.ChangePercent,
			ChangeAmount:  r.ChangeAmount,
			TurnoverRate:  r.TurnoverRate,
		})
	}

	written, err := p.klines.InsertMany(ctx, rows)
	out.Rows = written
	if err != nil {
		return out, err
	}
	for i := range rows {
		if out.Checkpoint == nil || rows[i].TradeDate.After(*out.Checkpoint) {
			cp := rows[i].TradeDate
			out.Checkpoint = &cp
		}
	}

	empty := len(raw) == 0
	disabled, err := p.stocks.RecordKlineSync(ctx, stock.ID, empty, p.emptyRunLimit, now.UTC())
	if err != nil {
		return out, err
	}
	out.Disabled = disabled
	if disabled {
		log.Warn("连续多次无K线数据，股票已停用")
	}

	log.WithField("rows", written).Info("K线同步完成")
	return out, nil
}
