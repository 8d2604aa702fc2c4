package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Market 交易所
type Market int

const (
	MarketSH Market = 1 // 上海
	MarketSZ Market = 2 // 深圳
	MarketBJ Market = 3 // 北京
)

// AShareMarkets 参与同步的A股市场
var AShareMarkets = []Market{MarketSH, MarketSZ, MarketBJ}

// IsAShare 是否为A股市场
func (m Market) IsAShare() bool {
	for _, a := range AShareMarkets {
		if m == a {
			return true
		}
	}
	return false
}

func (m Market) String() string {
	switch m {
	case MarketSH:
		return "SH"
	case MarketSZ:
		return "SZ"
	case MarketBJ:
		return "BJ"
	default:
		return "UNKNOWN"
	}
}

// 股票/板块状态
const (
	StatusDisabled = 0
	StatusActive   = 1
)

// Stock 股票
type Stock struct {
	ID                   uint                `gorm:"primaryKey"`
	Code                 string              `gorm:"type:varchar(20);uniqueIndex;not null"`
	Name                 string              `gorm:"type:varchar(64)"`
	Market               Market              `gorm:"type:smallint;index"`
	Status               int                 `gorm:"type:smallint;index"`
	LatestPrice          decimal.NullDecimal `gorm:"type:decimal(10,2)"`
	ChangePercent        decimal.NullDecimal `gorm:"type:decimal(10,4)"`
	ChangeAmount         decimal.NullDecimal `gorm:"type:decimal(10,2)"`
	Volume               decimal.NullDecimal `gorm:"type:decimal(20,0)"`
	Amount               decimal.NullDecimal `gorm:"type:decimal(20,2)"`
	TurnoverRate         decimal.NullDecimal `gorm:"type:decimal(10,4)"`
	Amplitude            decimal.NullDecimal `gorm:"type:decimal(10,4)"`
	PERatio              decimal.NullDecimal `gorm:"type:decimal(12,4)"`
	PBRatio              decimal.NullDecimal `gorm:"type:decimal(12,4)"`
	TotalMarketCap       decimal.NullDecimal `gorm:"type:decimal(24,2)"` // 元
	CirculatingMarketCap decimal.NullDecimal `gorm:"type:decimal(24,2)"` // 元
	MissingCount         int                 `gorm:"not null;default:0"`
	EmptySyncCount       int                 `gorm:"not null;default:0"`
	LastSyncAt           *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

func (Stock) TableName() string {
	return "stocks"
}

// IsActive 是否参与同步
func (s *Stock) IsActive() bool {
	return s.Status == StatusActive
}
