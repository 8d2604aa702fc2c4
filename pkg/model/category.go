package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// CategoryKind 板块类型
type CategoryKind string

const (
	KindIndustry CategoryKind = "industry"
	KindConcept  CategoryKind = "concept"
)

// ParseCategoryKind 解析板块类型
func ParseCategoryKind(s string) (CategoryKind, error) {
	switch CategoryKind(s) {
	case KindIndustry, KindConcept:
		return CategoryKind(s), nil
	}
	return "", fmt.Errorf("未知的板块类型: %s", s)
}

// Label 中文名称
func (k CategoryKind) Label() string {
	if k == KindIndustry {
		return "行业"
	}
	return "概念"
}

// CategoryQuote 板块行情快照字段，Category 与 CategoryLog 共用
type CategoryQuote struct {
	Sort               int                 `gorm:"not null;default:0"`
	LatestPrice        decimal.NullDecimal `gorm:"type:decimal(12,2)"`
	ChangeAmount       decimal.NullDecimal `gorm:"type:decimal(12,2)"`
	ChangePercent      decimal.NullDecimal `gorm:"type:decimal(10,4)"`
	TotalMarketCap     decimal.NullDecimal `gorm:"type:decimal(24,2)"` // 元
	TurnoverRate       decimal.NullDecimal `gorm:"type:decimal(10,4)"`
	UpCount            int                 `gorm:"not null;default:0"`
	DownCount          int                 `gorm:"not null;default:0"`
	LeadingStock       string              `gorm:"type:varchar(64)"`
	LeadingStockChange decimal.NullDecimal `gorm:"type:decimal(10,4)"`
}

// Category 行业或概念板块
type Category struct {
	ID           uint         `gorm:"primaryKey"`
	Kind         CategoryKind `gorm:"type:varchar(16);not null;uniqueIndex:idx_category_kind_code,priority:1"`
	Code         string       `gorm:"type:varchar(20);not null;uniqueIndex:idx_category_kind_code,priority:2"`
	Name         string       `gorm:"type:varchar(64)"`
	Status       int          `gorm:"type:smallint;index"`
	MissingCount int          `gorm:"not null;default:0"`
	CategoryQuote
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Category) TableName() string {
	return "categories"
}

// CategoryLog 板块每日快照，写入后不再修改
type CategoryLog struct {
	ID         uint      `gorm:"primaryKey"`
	CategoryID uint      `gorm:"not null;uniqueIndex:idx_category_log_day,priority:1"`
	RecordDate time.Time `gorm:"type:date;not null;uniqueIndex:idx_category_log_day,priority:2"`
	Code       string    `gorm:"type:varchar(20)"`
	Name       string    `gorm:"type:varchar(64)"`
	CategoryQuote
	CreatedAt time.Time
}

func (CategoryLog) TableName() string {
	return "category_logs"
}

// CategoryMember 板块成分股
type CategoryMember struct {
	CategoryID uint `gorm:"primaryKey;autoIncrement:false"`
	StockID    uint `gorm:"primaryKey;autoIncrement:false;index"`
	CreatedAt  time.Time
}

func (CategoryMember) TableName() string {
	return "category_members"
}
