package normalize

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"QuantSync/pkg/errs"
	"QuantSync/pkg/logger"
)

// Row 上游返回的原始行，列名为中文且随接口变化
type Row map[string]interface{}

// Record 规范化后的行，键为规范字段名
type Record map[string]interface{}

// Type 规范字段类型
type Type int

const (
	String Type = iota
	Decimal
	Int
	Date
)

// Source 上游列名及其单位，Exp 为相对基础单位的 10 的幂（亿元为 8）
type Source struct {
	Name string
	Exp  int32
}

// Column 列映射规则
type Column struct {
	Field    string
	Sources  []Source
	Type     Type
	Key      bool // 关键字段为空时整行丢弃
	Fraction bool // "12.3%" 存为 0.123
	Pad      int  // 代码类字段左侧补零到固定长度
}

// ColumnMap 某个上游接口的列映射
type ColumnMap struct {
	Endpoint string
	Columns  []Column
}

// 字符串单位后缀
var unitSuffixes = []struct {
	suffix string
	exp    int32
}{
	{"亿", 8},
	{"万", 4},
}

var nullLiterals = map[string]bool{
	"": true, "-": true, "--": true, "nan": true, "none": true, "null": true, "nat": true,
}

// Normalizer 上游行到规范记录的转换器
type Normalizer struct {
	logger *logrus.Entry
}

// New 创建规范化器
func New() *Normalizer {
	return &Normalizer{logger: logger.WithComponent("normalize")}
}

// Normalize 转换一批行，关键字段为空或无法转换的行被丢弃并记录日志
func (n *Normalizer) Normalize(cm ColumnMap, rows []Row) []Record {
	out := make([]Record, 0, len(rows))
	for i, row := range rows {
		rec, err := cm.NormalizeRow(row)
		if err != nil {
			n.logger.WithFields(logrus.Fields{
				"endpoint": cm.Endpoint,
				"row":      i,
			}).WithError(err).Warn("跳过无法规范化的行")
			continue
		}
		out = append(out, rec)
	}
	return out
}

// NormalizeRow 转换单行；对已规范化的记录再次转换结果不变
func (cm ColumnMap) NormalizeRow(row Row) (Record, error) {
	rec := make(Record, len(cm.Columns))
	for _, col := range cm.Columns {
		raw, exp, found := lookup(row, col)
		val, err := coerce(col, raw, exp)
		if err != nil {
			return nil, errs.Wrap(errs.CodeNormalization, fmt.Sprintf("字段 %s 转换失败", col.Field), err)
		}
		if col.Key && isNull(val) {
			if !found {
				return nil, errs.New(errs.CodeNormalization, fmt.Sprintf("缺少关键字段 %s", col.Field))
			}
			return nil, errs.New(errs.CodeNormalization, fmt.Sprintf("关键字段 %s 为空", col.Field))
		}
		rec[col.Field] = val
	}
	return rec, nil
}

// lookup 优先读取规范字段名（已是基础单位），其次按上游列名
func lookup(row Row, col Column) (interface{}, int32, bool) {
	if v, ok := row[col.Field]; ok {
		return v, 0, true
	}
	for _, src := range col.Sources {
		if v, ok := row[src.Name]; ok {
			return v, src.Exp, true
		}
	}
	return nil, 0, false
}

func isNull(v interface{}) bool {
	switch x := v.(type) {
	case nil:
		return true
	case decimal.NullDecimal:
		return !x.Valid
	case string:
		return x == ""
	}
	return false
}

func coerce(col Column, raw interface{}, exp int32) (interface{}, error) {
	switch col.Type {
	case Decimal:
		return toDecimal(raw, exp, col.Fraction)
	case Int:
		return toInt(raw)
	case Date:
		return toDate(raw)
	default:
		return toString(raw, col.Pad), nil
	}
}

func toString(raw interface{}, pad int) string {
	var s string
	switch v := raw.(type) {
	case nil:
		return ""
	case string:
		s = strings.TrimSpace(v)
	case float64:
		if math.IsNaN(v) {
			return ""
		}
		s = strconv.FormatFloat(v, 'f', -1, 64)
	default:
		s = strings.TrimSpace(fmt.Sprint(v))
	}
	if nullLiterals[strings.ToLower(s)] {
		return ""
	}
	if pad > 0 && len(s) < pad {
		s = strings.Repeat("0", pad-len(s)) + s
	}
	return s
}

func toDecimal(raw interface{}, exp int32, fraction bool) (decimal.NullDecimal, error) {
	var d decimal.Decimal
	switch v := raw.(type) {
	case nil:
		return decimal.NullDecimal{}, nil
	case decimal.NullDecimal:
		return v, nil
	case decimal.Decimal:
		d = v
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return decimal.NullDecimal{}, nil
		}
		d = decimal.NewFromFloat(v)
	case float32:
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return decimal.NullDecimal{}, nil
		}
		d = decimal.NewFromFloat32(v)
	case int:
		d = decimal.NewFromInt(int64(v))
	case int64:
		d = decimal.NewFromInt(v)
	case json.Number:
		parsed, err := decimal.NewFromString(v.String())
		if err != nil {
			return decimal.NullDecimal{}, err
		}
		d = parsed
	case string:
		return parseDecimalString(v, exp, fraction)
	default:
		return decimal.NullDecimal{}, fmt.Errorf("不支持的数值类型 %T", raw)
	}
	return decimal.NewNullDecimal(d.Shift(exp)), nil
}

func parseDecimalString(s string, exp int32, fraction bool) (decimal.NullDecimal, error) {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	if nullLiterals[strings.ToLower(s)] {
		return decimal.NullDecimal{}, nil
	}

	percent := false
	if strings.HasSuffix(s, "%") {
		percent = true
		s = strings.TrimSpace(strings.TrimSuffix(s, "%"))
	}
	for _, u := range unitSuffixes {
		if strings.HasSuffix(s, u.suffix) {
			s = strings.TrimSpace(strings.TrimSuffix(s, u.suffix))
			exp = u.exp
			break
		}
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("无法解析数值 %q", s)
	}
	if percent && fraction {
		exp -= 2
	}
	return decimal.NewNullDecimal(d.Shift(exp)), nil
}

func toInt(raw interface{}) (int, error) {
	switch v := raw.(type) {
	case nil:
		return 0, nil
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if math.IsNaN(v) {
			return 0, nil
		}
		return int(v), nil
	case json.Number:
		f, err := v.Float64()
		return int(f), err
	case string:
		s := strings.TrimSpace(v)
		if nullLiterals[strings.ToLower(s)] {
			return 0, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("无法解析整数 %q", s)
		}
		return int(f), nil
	}
	return 0, fmt.Errorf("不支持的整数类型 %T", raw)
}

var dateLayouts = []string{
	"2006-01-02",
	"20060102",
	"2006/01/02",
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	time.RFC3339,
}

// toDate 统一为 UTC 零点；数字按毫秒时间戳处理
func toDate(raw interface{}) (interface{}, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case time.Time:
		return DateOf(v), nil
	case float64:
		if math.IsNaN(v) {
			return nil, nil
		}
		return DateOf(time.UnixMilli(int64(v)).UTC()), nil
	case int64:
		return DateOf(time.UnixMilli(v).UTC()), nil
	case json.Number:
		ms, err := v.Int64()
		if err != nil {
			return nil, fmt.Errorf("无法解析日期 %q", v.String())
		}
		return DateOf(time.UnixMilli(ms).UTC()), nil
	case string:
		s := strings.TrimSpace(v)
		if nullLiterals[strings.ToLower(s)] {
			return nil, nil
		}
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return DateOf(t), nil
			}
		}
		return nil, fmt.Errorf("无法解析日期 %q", s)
	}
	return nil, fmt.Errorf("不支持的日期类型 %T", raw)
}

// DateOf 取日期部分，UTC 零点
func DateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Decimal 读取数值字段
func (r Record) Decimal(field string) decimal.NullDecimal {
	if d, ok := r[field].(decimal.NullDecimal); ok {
		return d
	}
	return decimal.NullDecimal{}
}

// String 读取字符串字段
func (r Record) String(field string) string {
	s, _ := r[field].(string)
	return s
}

// Int 读取整数字段
func (r Record) Int(field string) int {
	i, _ := r[field].(int)
	return i
}

// Date 读取日期字段
func (r Record) Date(field string) (time.Time, bool) {
	t, ok := r[field].(time.Time)
	return t, ok
}
