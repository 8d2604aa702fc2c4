package ingest

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"QuantSync/pkg/collector"
	"QuantSync/pkg/config"
	"QuantSync/pkg/database"
	"QuantSync/pkg/logger"
	"QuantSync/pkg/model"
	"QuantSync/pkg/normalize"
)

// ListingPipeline 股票与板块列表同步
type ListingPipeline struct {
	upstream     collector.Upstream
	normalizer   *normalize.Normalizer
	stocks       *database.StockDB
	categories   *database.CategoryDB
	missingLimit int
	now          Clock
	logger       *logrus.Entry
}

func NewListingPipeline(stores *database.Stores, upstream collector.Upstream, cfg config.IngestConfig) *ListingPipeline {
	limit := cfg.MissingLimit
	if limit <= 0 {
		limit = 3
	}
	return &ListingPipeline{
		upstream:     upstream,
		normalizer:   normalize.New(),
		stocks:       stores.Stocks,
		categories:   stores.Categories,
		missingLimit: limit,
		now:          time.Now,
		logger:       logger.WithComponent("ingest.listing"),
	}
}

// WithClock 替换时钟
func (p *ListingPipeline) WithClock(now Clock) *ListingPipeline {
	p.now = now
	return p
}

// SyncStocks 同步单个市场的股票列表；上游返回空列表时不做任何修改
func (p *ListingPipeline) SyncStocks(ctx context.Context, market model.Market) (Outcome, error) {
	var out Outcome
	log := p.logger.WithField("market", market.String())

	raw, err := p.upstream.ListStocks(ctx, market)
	if err != nil {
		return out, err
	}
	records := p.normalizer.Stocks(raw)
	if len(records) == 0 {
		log.Warn("上游股票列表为空，跳过")
		return out, nil
	}

	stocks := make([]model.Stock, 0, len(records))
	seen := make(map[string]bool, len(records))
	for _, r := range records {
		if seen[r.Code] {
			continue
		}
		seen[r.Code] = true
		stocks = append(stocks, model.Stock{
			Code:                 r.Code,
			Name:                 r.Name,
			LatestPrice:          r.LatestPrice,
			ChangePercent:        r.ChangePercent,
			ChangeAmount:         r.ChangeAmount,
			Volume:               r.Volume,
			Amount:               r.Amount,
			Amplitude:            r.Amplitude,
			TurnoverRate:         r.TurnoverRate,
			PERatio:              r.PERatio,
			PBRatio:              r.PBRatio,
			TotalMarketCap:       r.TotalMarketCap,
			CirculatingMarketCap: r.CirculatingMarketCap,
		})
	}

	res, err := p.stocks.SyncListing(ctx, market, stocks, p.missingLimit)
	if err != nil {
		return out, err
	}
	out.Rows = res.Upserted
	log.WithFields(logrus.Fields{
		"upserted": res.Upserted,
		"missing":  res.Missing,
		"disabled": res.Disabled,
	}).Info("股票列表同步完成")
	return out, nil
}

// SyncAllStocks 依次同步沪深北三个市场
func (p *ListingPipeline) SyncAllStocks(ctx context.Context) (Outcome, error) {
	var total Outcome
	for _, market := range model.AShareMarkets {
		out, err := p.SyncStocks(ctx, market)
		total.Rows += out.Rows
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// SyncCategories 同步板块列表并写入当日快照
func (p *ListingPipeline) SyncCategories(ctx context.Context, kind model.CategoryKind) (Outcome, error) {
	var out Outcome
	log := p.logger.WithField("kind", kind)

	raw, err := p.upstream.ListCategories(ctx, kind)
	if err != nil {
		return out, err
	}
	records := p.normalizer.Categories(raw)
	if len(records) == 0 {
		log.Warn("上游板块列表为空，跳过")
		return out, nil
	}

	categories := make([]model.Category, 0, len(records))
	seen := make(map[string]bool, len(records))
	for _, r := range records {
		if seen[r.Code] {
			continue
		}
		seen[r.Code] = true
		categories = append(categories, model.Category{
			Code:          r.Code,
			Name:          r.Name,
			CategoryQuote: quoteOf(r),
		})
	}

	saved, res, err := p.categories.SyncListing(ctx, kind, categories, p.missingLimit)
	if err != nil {
		return out, err
	}

	today := Today(p.now())
	logs := make([]model.CategoryLog, 0, len(saved))
	for _, c := range saved {
		logs = append(logs, model.CategoryLog{
			CategoryID:    c.ID,
			RecordDate:    today,
			Code:          c.Code,
			Name:          c.Name,
			CategoryQuote: c.CategoryQuote,
		})
	}
	inserted, err := p.categories.SaveLogs(ctx, logs)
	if err != nil {
		return out, err
	}

	out.Rows = res.Upserted
	out.Checkpoint = &today
	log.WithFields(logrus.Fields{
		"upserted": res.Upserted,
		"missing":  res.Missing,
		"disabled": res.Disabled,
		"logs":     inserted,
	}).Info("板块列表同步完成")
	return out, nil
}

func quoteOf(r normalize.CategoryRecord) model.CategoryQuote {
	return model.CategoryQuote{
		Sort:               r.Sort,
		LatestPrice:        r.LatestPrice,
		ChangeAmount:       r.ChangeAmount,
		ChangePercent:      r.ChangePercent,
		TotalMarketCap:     r.TotalMarketCap,
		TurnoverRate:       r.TurnoverRate,
		UpCount:            r.UpCount,
		DownCount:          r.DownCount,
		LeadingStock:       r.LeadingStock,
		LeadingStockChange: r.LeadingStockChange,
	}
}
