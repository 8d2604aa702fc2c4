package sharding

import (
	"fmt"
	"time"
)

// Granularity 分表粒度
type Granularity string

const (
	Year  Granularity = "year"
	Month Granularity = "month"
	Day   Granularity = "day"
)

// ParseGranularity 解析分表粒度
func ParseGranularity(s string) (Granularity, error) {
	switch Granularity(s) {
	case Year, Month, Day:
		return Granularity(s), nil
	}
	return "", fmt.Errorf("不支持的分表粒度: %s", s)
}

// Label 分表后缀
func (g Granularity) Label(t time.Time) string {
	switch g {
	case Month:
		return t.Format("200601")
	case Day:
		return t.Format("20060102")
	default:
		return t.Format("2006")
	}
}

// Truncate 所在周期的起点
func (g Granularity) Truncate(t time.Time) time.Time {
	switch g {
	case Month:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	case Day:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	default:
		return time.Date(t.Year(), 1, 1, 0, 0, 0, 0, t.Location())
	}
}

// Next 下一个周期的起点
func (g Granularity) Next(t time.Time) time.Time {
	start := g.Truncate(t)
	switch g {
	case Month:
		return start.AddDate(0, 1, 0)
	case Day:
		return start.AddDate(0, 0, 1)
	default:
		return start.AddDate(1, 0, 0)
	}
}
