package database

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"QuantSync/pkg/errs"
	"QuantSync/pkg/model"
)

type MemberDB struct {
	db *gorm.DB
}

// StockIDs 板块当前成分股
func (m *MemberDB) StockIDs(ctx context.Context, categoryID uint) ([]uint, error) {
	var ids []uint
	err := m.db.WithContext(ctx).
		Model(&model.CategoryMember{}).
		Where("category_id = ?", categoryID).
		Order("stock_id").
		Pluck("stock_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("查询成分股失败: %w", err)
	}
	return ids, nil
}

// CategoryIDs 股票所属板块
func (m *MemberDB) CategoryIDs(ctx context.Context, stockID uint) ([]uint, error) {
	var ids []uint
	err := m.db.WithContext(ctx).
		Model(&model.CategoryMember{}).
		Where("stock_id = ?", stockID).
		Order("category_id").
		Pluck("category_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("查询所属板块失败: %w", err)
	}
	return ids, nil
}

// ApplyDiff 在一个事务内插入新增、删除移出的成分股
func (m *MemberDB) ApplyDiff(ctx context.Context, categoryID uint, insert, remove []uint) error {
	if len(insert) == 0 && len(remove) == 0 {
		return nil
	}
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(insert) > 0 {
			rows := make([]model.CategoryMember, len(insert))
			for i, id := range insert {
				rows[i] = model.CategoryMember{CategoryID: categoryID, StockID: id}
			}
			err := tx.Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(&rows, 500).Error
			if err != nil {
				return err
			}
		}
		if len(remove) > 0 {
			err := tx.Where("category_id = ? AND stock_id IN ?", categoryID, remove).
				Delete(&model.CategoryMember{}).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
	return errs.FromStore(err)
}
