package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"QuantSync/pkg/errs"
	"QuantSync/pkg/model"
)

// ListingResult 列表同步结果
type ListingResult struct {
	Upserted int
	Missing  int64
	Disabled int64
}

var stockListingColumns = []string{
	"name", "status", "missing_count",
	"latest_price", "change_percent", "change_amount", "volume", "amount",
	"turnover_rate", "amplitude", "pe_ratio", "pb_ratio",
	"total_market_cap", "circulating_market_cap", "updated_at",
}

type StockDB struct {
	db *gorm.DB
}

// ListActive 查询参与同步的股票
func (s *StockDB) ListActive(ctx context.Context, markets []model.Market) ([]model.Stock, error) {
	var stocks []model.Stock
	err := s.db.WithContext(ctx).
		Where("status = ? AND market IN ?", model.StatusActive, markets).
		Order("id").
		Find(&stocks).Error
	if err != nil {
		return nil, fmt.Errorf("查询股票列表失败: %w", err)
	}
	return stocks, nil
}

func (s *StockDB) GetByID(ctx context.Context, id uint) (*model.Stock, error) {
	var stock model.Stock
	err := s.db.WithContext(ctx).First(&stock, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.Wrap(errs.CodeNotFound, fmt.Sprintf("股票不存在: %d", id), err)
		}
		return nil, fmt.Errorf("获取股票信息失败: %w", err)
	}
	return &stock, nil
}

func (s *StockDB) GetByCode(ctx context.Context, code string) (*model.Stock, error) {
	var stock model.Stock
	err := s.db.WithContext(ctx).First(&stock, "code = ?", code).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.Wrap(errs.CodeNotFound, "股票不存在: "+code, err)
		}
		return nil, fmt.Errorf("获取股票信息失败: %w", err)
	}
	return &stock, nil
}

// IDsByCodes 代码 -> id，不存在的代码不出现在结果中
func (s *StockDB) IDsByCodes(ctx context.Context, codes []string) (map[string]uint, error) {
	out := make(map[string]uint, len(codes))
	for start := 0; start < len(codes); start += 500 {
		end := start + 500
		if end > len(codes) {
			end = len(codes)
		}
		var rows []model.Stock
		err := s.db.WithContext(ctx).
			Select("id", "code").
			Where("code IN ?", codes[start:end]).
			Find(&rows).Error
		if err != nil {
			return nil, fmt.Errorf("查询股票代码失败: %w", err)
		}
		for _, r := range rows {
			out[r.Code] = r.ID
		}
	}
	return out, nil
}

// SyncListing 按代码 upsert 本次上游列表，并对缺席的股票累计缺席次数，达到上限后停用
func (s *StockDB) SyncListing(ctx context.Context, market model.Market, stocks []model.Stock, missingLimit int) (ListingResult, error) {
	var result ListingResult
	if len(stocks) == 0 {
		return result, nil
	}
	codes := make([]string, len(stocks))
	for i := range stocks {
		stocks[i].Market = market
		stocks[i].Status = model.StatusActive
		stocks[i].MissingCount = 0
		codes[i] = stocks[i].Code
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "code"}},
			DoUpdates: clause.AssignmentColumns(append([]string{"market"}, stockListingColumns...)),
		}).CreateInBatches(&stocks, 500).Error
		if err != nil {
			return errs.FromStore(err)
		}
		result.Upserted = len(stocks)

		missing := tx.Model(&model.Stock{}).
			Where("market = ? AND code NOT IN ? AND status = ?", market, codes, model.StatusActive).
			Update("missing_count", gorm.Expr("missing_count + 1"))
		if missing.Error != nil {
			return errs.FromStore(missing.Error)
		}
		result.Missing = missing.RowsAffected

		disabled := tx.Model(&model.Stock{}).
			Where("market = ? AND status = ? AND missing_count >= ?", market, model.StatusActive, missingLimit).
			Update("status", model.StatusDisabled)
		if disabled.Error != nil {
			return errs.FromStore(disabled.Error)
		}
		result.Disabled = disabled.RowsAffected
		return nil
	})
	return result, err
}

// RecordKlineSync 记录一次K线同步；empty 为上游无数据，连续达到 emptyLimit 次后停用
func (s *StockDB) RecordKlineSync(ctx context.Context, id uint, empty bool, emptyLimit int, now time.Time) (disabled bool, err error) {
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{"last_sync_at": now}
		if empty {
			updates["empty_sync_count"] = gorm.Expr("empty_sync_count + 1")
		} else {
			updates["empty_sync_count"] = 0
		}
		if err := tx.Model(&model.Stock{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return errs.FromStore(err)
		}
		if !empty || emptyLimit <= 0 {
			return nil
		}
		res := tx.Model(&model.Stock{}).
			Where("id = ? AND status = ? AND empty_sync_count >= ?", id, model.StatusActive, emptyLimit).
			Update("status", model.StatusDisabled)
		if res.Error != nil {
			return errs.FromStore(res.Error)
		}
		disabled = res.RowsAffected > 0
		return nil
	})
	return disabled, err
}
