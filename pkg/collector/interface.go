package collector

import (
	"context"
	"fmt"
	"time"

	"QuantSync/pkg/model"
	"QuantSync/pkg/normalize"
)

// Period K线周期
type Period string

const PeriodDaily Period = "daily"

// Adjust 复权方式
type Adjust string

const (
	AdjustNone    Adjust = ""
	AdjustForward Adjust = "qfq"
	AdjustBack    Adjust = "hfq"
)

// ParseAdjust 解析配置中的复权方式，none 表示不复权
func ParseAdjust(s string) (Adjust, error) {
	switch Adjust(s) {
	case AdjustNone, "none":
		return AdjustNone, nil
	case AdjustForward, AdjustBack:
		return Adjust(s), nil
	}
	return "", fmt.Errorf("不支持的复权方式: %s", s)
}

// Upstream 上游行情数据源，只负责取数，返回未经规范化的原始行
type Upstream interface {
	ListStocks(ctx context.Context, market model.Market) ([]normalize.Row, error)
	ListCategories(ctx context.Context, kind model.CategoryKind) ([]normalize.Row, error)
	ListMembers(ctx context.Context, kind model.CategoryKind, categoryCode string) ([]normalize.Row, error)
	FetchKlines(ctx context.Context, stockCode string, from, to time.Time, period Period, adjust Adjust) ([]normalize.Row, error)
}
