package sharding

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"

	"QuantSync/pkg/errs"
	"QuantSync/pkg/logger"
)

// Table 分表的逻辑描述
type Table[T any] struct {
	Base            string   // 逻辑表名，同时是模板表
	KeyColumn       string   // 分片键列
	ConflictColumns []string // 唯一约束列
	UpdateColumns   []string // 冲突时覆盖的列
	Key             func(*T) time.Time
}

// Options 写入选项
type Options struct {
	BatchSize    int
	StoreRetries int
}

// Query 查询条件
type Query struct {
	Where  map[string]interface{}
	Scopes []func(*gorm.DB) *gorm.DB
	Order  string // 排序列，默认分片键
	Desc   bool
	Limit  int // <=0 表示不限制
}

// Manager 按时间分表的存储管理器
type Manager[T any] struct {
	db     *gorm.DB
	router *Router
	table  Table[T]
	opts   Options
	schema *schema.Schema
	logger *logrus.Entry
}

// NewManager 创建分表存储管理器
func NewManager[T any](db *gorm.DB, router *Router, table Table[T], opts Options) (*Manager[T], error) {
	if !identPattern.MatchString(table.Base) {
		return nil, fmt.Errorf("非法的表名: %s", table.Base)
	}
	if table.Key == nil || table.KeyColumn == "" || len(table.ConflictColumns) == 0 {
		return nil, fmt.Errorf("分表 %s 缺少分片键或唯一约束定义", table.Base)
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 500
	}
	if opts.StoreRetries <= 0 {
		opts.StoreRetries = 3
	}
	sch, err := schema.Parse(new(T), &sync.Map{}, db.NamingStrategy)
	if err != nil {
		return nil, fmt.Errorf("解析模型失败: %w", err)
	}
	return &Manager[T]{
		db:     db,
		router: router,
		table:  table,
		opts:   opts,
		schema: sch,
		logger: logger.WithComponent("sharding").WithField("table", table.Base),
	}, nil
}

// Router 分表路由器
func (m *Manager[T]) Router() *Router {
	return m.router
}

// InsertOne 写入单行，已存在则覆盖非主键列
func (m *Manager[T]) InsertOne(ctx context.Context, row *T) error {
	_, err := m.InsertMany(ctx, []T{*row})
	return err
}

// Upsert InsertOne 的别名
func (m *Manager[T]) Upsert(ctx context.Context, row *T) error {
	return m.InsertOne(ctx, row)
}

// InsertMany 按分表分组后分批 upsert，返回写入行数
func (m *Manager[T]) InsertMany(ctx context.Context, rows []T) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	groups := make(map[string][]T)
	keys := make(map[string]time.Time)
	for i := range rows {
		k := m.table.Key(&rows[i])
		name := m.router.Resolve(m.table.Base, k)
		groups[name] = append(groups[name], rows[i])
		if _, ok := keys[name]; !ok {
			keys[name] = k
		}
	}
	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)

	written := 0
	for _, name := range names {
		table, err := m.router.Ensure(ctx, m.table.Base, keys[name])
		if err != nil {
			return written, err
		}
		group := groups[name]
		for start := 0; start < len(group); start += m.opts.BatchSize {
			end := start + m.opts.BatchSize
			if end > len(group) {
				end = len(group)
			}
			if err := m.writeBatch(ctx, table, group[start:end]); err != nil {
				return written, err
			}
			written += end - start
		}
	}
	return written, nil
}

// writeBatch 单条批量语句，失败整批回滚；临时错误按指数退避最多尝试 StoreRetries 次
func (m *Manager[T]) writeBatch(ctx context.Context, table string, batch []T) error {
	conflict := make([]clause.Column, len(m.table.ConflictColumns))
	for i, c := range m.table.ConflictColumns {
		conflict[i] = clause.Column{Name: c}
	}
	onConflict := clause.OnConflict{Columns: conflict}
	if len(m.table.UpdateColumns) > 0 {
		onConflict.DoUpdates = clause.AssignmentColumns(m.table.UpdateColumns)
	} else {
		onConflict.DoNothing = true
	}

	attempt := 0
	op := func() error {
		attempt++
		err := errs.FromStore(m.db.WithContext(ctx).Table(table).Clauses(onConflict).Create(&batch).Error)
		if err != nil && !errs.IsStoreTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		m.logger.WithError(err).WithFields(logrus.Fields{
			"shard":   table,
			"attempt": attempt,
			"wait":    wait.String(),
		}).Warn("批量写入遇到临时错误，准备重试")
	}
	b := backoff.WithContext(backoff.WithMaxRetries(m.storeBackOff(), uint64(m.opts.StoreRetries-1)), ctx)
	return backoff.RetryNotify(op, b, notify)
}

func (m *Manager[T]) storeBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = 0
	return b
}

// QuerySingle 查询单个分表
func (m *Manager[T]) QuerySingle(ctx context.Context, table string, q Query) ([]T, error) {
	if !identPattern.MatchString(table) {
		return nil, fmt.Errorf("非法的表名: %s", table)
	}
	return m.find(ctx, table, q, nil)
}

// QueryRange 查询 [lo, hi] 覆盖的全部分表，按排序列合并后再应用 limit
func (m *Manager[T]) QueryRange(ctx context.Context, lo, hi time.Time, q Query) ([]T, error) {
	orderCol, err := m.orderColumn(q)
	if err != nil {
		return nil, err
	}
	tables, err := m.router.Existing(ctx, m.router.ResolveRange(m.table.Base, lo, hi))
	if err != nil {
		return nil, err
	}
	if len(tables) == 0 {
		return []T{}, nil
	}
	bounds := m.rangeScope(lo, hi)

	// 按分片键排序时分表之间天然有序，顺序读取并可提前结束
	if orderCol == m.table.KeyColumn {
		if q.Desc {
			for i, j := 0, len(tables)-1; i < j; i, j = i+1, j-1 {
				tables[i], tables[j] = tables[j], tables[i]
			}
		}
		out := make([]T, 0)
		for _, table := range tables {
			sub := q
			if q.Limit > 0 {
				sub.Limit = q.Limit - len(out)
			}
			rows, err := m.find(ctx, table, sub, bounds)
			if err != nil {
				return nil, err
			}
			out = append(out, rows...)
			if q.Limit > 0 && len(out) >= q.Limit {
				break
			}
		}
		return out, nil
	}

	results := make([][]T, len(tables))
	g, gctx := errgroup.WithContext(ctx)
	for i, table := range tables {
		i, table := i, table
		g.Go(func() error {
			rows, err := m.find(gctx, table, q, bounds)
			results[i] = rows
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var merged []T
	for _, rows := range results {
		merged = append(merged, rows...)
	}
	field := m.schema.LookUpField(orderCol)
	sort.SliceStable(merged, func(i, j int) bool {
		a := m.valueOf(ctx, field, &merged[i])
		b := m.valueOf(ctx, field, &merged[j])
		if q.Desc {
			return compareValues(b, a) < 0
		}
		return compareValues(a, b) < 0
	})
	if q.Limit > 0 && len(merged) > q.Limit {
		merged = merged[:q.Limit]
	}
	return merged, nil
}

// Count 汇总各分表计数
func (m *Manager[T]) Count(ctx context.Context, lo, hi time.Time, q Query) (int64, error) {
	tables, err := m.router.Existing(ctx, m.router.ResolveRange(m.table.Base, lo, hi))
	if err != nil {
		return 0, err
	}
	counts := make([]int64, len(tables))
	bounds := m.rangeScope(lo, hi)
	g, gctx := errgroup.WithContext(ctx)
	for i, table := range tables {
		i, table := i, table
		g.Go(func() error {
			tx := m.filtered(gctx, table, q, bounds)
			return tx.Count(&counts[i]).Error
		})
	}
	if err := g.Wait(); err != nil {
		return 0, fmt.Errorf("统计分表 %s 失败: %w", m.table.Base, err)
	}
	var total int64
	for _, c := range counts {
		total += c
	}
	return total, nil
}

func (m *Manager[T]) find(ctx context.Context, table string, q Query, bounds func(*gorm.DB) *gorm.DB) ([]T, error) {
	orderCol, err := m.orderColumn(q)
	if err != nil {
		return nil, err
	}
	tx := m.filtered(ctx, table, q, bounds).
		Order(clause.OrderByColumn{Column: clause.Column{Name: orderCol}, Desc: q.Desc})
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}
	rows := make([]T, 0)
	if err := tx.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("查询分表 %s 失败: %w", table, err)
	}
	return rows, nil
}

func (m *Manager[T]) filtered(ctx context.Context, table string, q Query, bounds func(*gorm.DB) *gorm.DB) *gorm.DB {
	tx := m.db.WithContext(ctx).Model(new(T)).Table(table)
	if len(q.Where) > 0 {
		tx = tx.Where(q.Where)
	}
	if bounds != nil {
		tx = tx.Scopes(bounds)
	}
	if len(q.Scopes) > 0 {
		tx = tx.Scopes(q.Scopes...)
	}
	return tx
}

func (m *Manager[T]) rangeScope(lo, hi time.Time) func(*gorm.DB) *gorm.DB {
	col := clause.Column{Name: m.table.KeyColumn}
	return func(tx *gorm.DB) *gorm.DB {
		return tx.Where(clause.Gte{Column: col, Value: lo}).Where(clause.Lte{Column: col, Value: hi})
	}
}

func (m *Manager[T]) orderColumn(q Query) (string, error) {
	if q.Order == "" {
		return m.table.KeyColumn, nil
	}
	if m.schema.LookUpField(q.Order) == nil {
		return "", fmt.Errorf("未知的排序列: %s", q.Order)
	}
	return q.Order, nil
}

func (m *Manager[T]) valueOf(ctx context.Context, field *schema.Field, row *T) interface{} {
	v, _ := field.ValueOf(ctx, reflect.ValueOf(row).Elem())
	return v
}

// compareValues 比较排序列的值，nil 排在最前
func compareValues(a, b interface{}) int {
	a, b = deref(a), deref(b)
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}
	switch x := a.(type) {
	case time.Time:
		y := b.(time.Time)
		return x.Compare(y)
	case decimal.Decimal:
		return x.Cmp(b.(decimal.Decimal))
	case decimal.NullDecimal:
		y := b.(decimal.NullDecimal)
		if !x.Valid || !y.Valid {
			return boolCmp(x.Valid, y.Valid)
		}
		return x.Decimal.Cmp(y.Decimal)
	case string:
		return strings.Compare(x, b.(string))
	}

	av, bv := reflect.ValueOf(a), reflect.ValueOf(b)
	switch av.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return cmpOrdered(av.Int(), bv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return cmpOrdered(av.Uint(), bv.Uint())
	case reflect.Float32, reflect.Float64:
		return cmpOrdered(av.Float(), bv.Float())
	case reflect.String:
		return strings.Compare(av.String(), bv.String())
	case reflect.Bool:
		return boolCmp(av.Bool(), bv.Bool())
	}
	return 0
}

func deref(v interface{}) interface{} {
	if v == nil {
		return nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		return rv.Elem().Interface()
	}
	return v
}

func cmpOrdered[N int64 | uint64 | float64](a, b N) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func boolCmp(a, b bool) int {
	switch {
	case a == b:
		return 0
	case !a:
		return -1
	}
	return 1
}
