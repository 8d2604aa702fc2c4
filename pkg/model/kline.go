package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// KlineDailyTable 日K线逻辑表名，同时作为分表模板
const KlineDailyTable = "kline_daily"

// KlineDaily 日K线（前复权）
type KlineDaily struct {
	StockID       uint                `gorm:"primaryKey;autoIncrement:false"`
	TradeDate     time.Time           `gorm:"primaryKey;type:date;index:idx_kline_daily_trade_date"`
	Open          decimal.NullDecimal `gorm:"type:decimal(10,2)"`
	High          decimal.NullDecimal `gorm:"type:decimal(10,2)"`
	Low           decimal.NullDecimal `gorm:"type:decimal(10,2)"`
	Close         decimal.NullDecimal `gorm:"type:decimal(10,2)"`
	Volume        decimal.NullDecimal `gorm:"type:decimal(20,0)"`
	Amount        decimal.NullDecimal `gorm:"type:decimal(20,2)"`
	Amplitude     decimal.NullDecimal `gorm:"type:decimal(10,4)"`
	ChangePercent decimal.NullDecimal `gorm:"type:decimal(10,4)"`
	ChangeAmount  decimal.NullDecimal `gorm:"type:decimal(10,2)"`
	TurnoverRate  decimal.NullDecimal `gorm:"type:decimal(10,4)"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (KlineDaily) TableName() string {
	return KlineDailyTable
}

// KlineUpdateColumns 冲突时更新的非主键列
var KlineUpdateColumns = []string{
	"open", "high", "low", "close", "volume", "amount",
	"amplitude", "change_percent", "change_amount", "turnover_rate", "updated_at",
}
