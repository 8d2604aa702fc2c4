package ingest

import (
	"time"

	"QuantSync/pkg/normalize"
)

// 交易日按北京时间计算
var marketZone = time.FixedZone("CST", 8*3600)

// Outcome 单个实体同步结果
type Outcome struct {
	Rows       int
	Checkpoint *time.Time
	Disabled   bool // 实体因长期无数据被停用
}

// Clock 当前时间，测试中替换
type Clock func() time.Time

// Today 交易所所在时区的当天日期，以 UTC 零点表示
func Today(now time.Time) time.Time {
	return normalize.DateOf(now.In(marketZone))
}
