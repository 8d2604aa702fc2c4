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

var categoryListingColumns = []string{
	"name", "status", "missing_count", "sort",
	"latest_price", "change_amount", "change_percent", "total_market_cap",
	"turnover_rate", "up_count", "down_count", "leading_stock", "leading_stock_change",
	"updated_at",
}

type CategoryDB struct {
	db *gorm.DB
}

// ListActive 查询某类启用中的板块
func (c *CategoryDB) ListActive(ctx context.Context, kind model.CategoryKind) ([]model.Category, error) {
	var categories []model.Category
	err := c.db.WithContext(ctx).
		Where("kind = ? AND status = ?", kind, model.StatusActive).
		Order("id").
		Find(&categories).Error
	if err != nil {
		return nil, fmt.Errorf("查询%s板块失败: %w", kind.Label(), err)
	}
	return categories, nil
}

func (c *CategoryDB) GetByCode(ctx context.Context, kind model.CategoryKind, code string) (*model.Category, error) {
	var category model.Category
	err := c.db.WithContext(ctx).First(&category, "kind = ? AND code = ?", kind, code).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.Wrap(errs.CodeNotFound, fmt.Sprintf("%s板块不存在: %s", kind.Label(), code), err)
		}
		return nil, fmt.Errorf("获取板块信息失败: %w", err)
	}
	return &category, nil
}

// SyncListing 与股票列表同步规则一致；返回写入后的板块（含 id）用于生成快照
func (c *CategoryDB) SyncListing(ctx context.Context, kind model.CategoryKind, categories []model.Category, missingLimit int) ([]model.Category, ListingResult, error) {
	var result ListingResult
	if len(categories) == 0 {
		return nil, result, nil
	}
	codes := make([]string, len(categories))
	for i := range categories {
		categories[i].Kind = kind
		categories[i].Status = model.StatusActive
		categories[i].MissingCount = 0
		codes[i] = categories[i].Code
	}

	var saved []model.Category
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "kind"}, {Name: "code"}},
			DoUpdates: clause.AssignmentColumns(categoryListingColumns),
		}).CreateInBatches(&categories, 500).Error
		if err != nil {
			return errs.FromStore(err)
		}
		result.Upserted = len(categories)

		missing := tx.Model(&model.Category{}).
			Where("kind = ? AND code NOT IN ? AND status = ?", kind, codes, model.StatusActive).
			Update("missing_count", gorm.Expr("missing_count + 1"))
		if missing.Error != nil {
			return errs.FromStore(missing.Error)
		}
		result.Missing = missing.RowsAffected

		disabled := tx.Model(&model.Category{}).
			Where("kind = ? AND status = ? AND missing_count >= ?", kind, model.StatusActive, missingLimit).
			Update("status", model.StatusDisabled)
		if disabled.Error != nil {
			return errs.FromStore(disabled.Error)
		}
		result.Disabled = disabled.RowsAffected

		// 冲突更新时部分驱动不回填 id，重新按代码读取
		return tx.Where("kind = ? AND code IN ?", kind, codes).Order("id").Find(&saved).Error
	})
	if err != nil {
		return nil, result, err
	}
	return saved, result, nil
}

// SaveLogs 写入当日快照，同一板块同一天只保留首次写入
func (c *CategoryDB) SaveLogs(ctx context.Context, logs []model.CategoryLog) (int64, error) {
	if len(logs) == 0 {
		return 0, nil
	}
	res := c.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "category_id"}, {Name: "record_date"}},
			DoNothing: true,
		}).
		CreateInBatches(&logs, 500)
	if res.Error != nil {
		return 0, errs.FromStore(res.Error)
	}
	return res.RowsAffected, nil
}

// ListLogs 查询某板块的快照，按日期升序
func (c *CategoryDB) ListLogs(ctx context.Context, categoryID uint, from, to time.Time) ([]model.CategoryLog, error) {
	var logs []model.CategoryLog
	err := c.db.WithContext(ctx).
		Where("category_id = ? AND record_date >= ? AND record_date <= ?", categoryID, from, to).
		Order("record_date").
		Find(&logs).Error
	if err != nil {
		return nil, fmt.Errorf("查询板块快照失败: %w", err)
	}
	return logs, nil
}

// DeleteLogs 按 id 批量删除快照
func (c *CategoryDB) DeleteLogs(ctx context.Context, ids []uint) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := c.db.WithContext(ctx).Where("id IN ?", ids).Delete(&model.CategoryLog{})
	if res.Error != nil {
		return 0, errs.FromStore(res.Error)
	}
	return res.RowsAffected, nil
}

// DeleteLogsBefore 清理早于 cutoff 的快照
func (c *CategoryDB) DeleteLogsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := c.db.WithContext(ctx).Where("record_date < ?", cutoff).Delete(&model.CategoryLog{})
	if res.Error != nil {
		return 0, errs.FromStore(res.Error)
	}
	return res.RowsAffected, nil
}
