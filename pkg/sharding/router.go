package sharding

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"QuantSync/pkg/errs"
	"QuantSync/pkg/logger"
)

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Router 按时间键把逻辑表映射到物理分表 <base>_<label>，首次使用时建表
type Router struct {
	db          *gorm.DB
	dialect     Dialect
	granularity Granularity
	cache       ShardCache

	mu    sync.Mutex
	known map[string]struct{}

	logger *logrus.Entry
}

// RouterOption 路由器选项
type RouterOption func(*Router)

// WithShardCache 使用共享缓存记录已建分表
func WithShardCache(cache ShardCache) RouterOption {
	return func(r *Router) {
		r.cache = cache
	}
}

// NewRouter 创建分表路由器
func NewRouter(db *gorm.DB, granularity Granularity, opts ...RouterOption) *Router {
	r := &Router{
		db:          db,
		dialect:     DialectFor(db),
		granularity: granularity,
		known:       make(map[string]struct{}),
		logger:      logger.WithComponent("sharding"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve 计算分表名，不访问数据库
func (r *Router) Resolve(base string, k time.Time) string {
	return base + "_" + r.granularity.Label(k)
}

// ResolveRange 按时间升序列出与 [lo, hi] 有交集的全部分表名
func (r *Router) ResolveRange(base string, lo, hi time.Time) []string {
	if hi.Before(lo) {
		return nil
	}
	var tables []string
	for cur := r.granularity.Truncate(lo); !cur.After(hi); cur = r.granularity.Next(cur) {
		tables = append(tables, r.Resolve(base, cur))
	}
	return tables
}

// Ensure 保证 k 对应的分表存在并返回表名；可并发调用，依赖 IF NOT EXISTS 保证幂等
func (r *Router) Ensure(ctx context.Context, base string, k time.Time) (string, error) {
	if !identPattern.MatchString(base) {
		return "", fmt.Errorf("非法的表名: %s", base)
	}
	table := r.Resolve(base, k)
	if r.isKnown(table) {
		return table, nil
	}

	if r.cache != nil {
		ok, err := r.cache.Known(ctx, table)
		if err != nil {
			r.logger.WithError(err).Warn("读取分表缓存失败")
		} else if ok {
			r.remember(table)
			return table, nil
		}
	}

	if !r.db.WithContext(ctx).Migrator().HasTable(base) {
		return "", errs.New(errs.CodeSchema, "模板表不存在: "+base)
	}

	if err := r.dialect.CloneTable(ctx, r.db, base, table); err != nil && !errs.IsAlreadyExists(err) {
		return "", fmt.Errorf("创建分表 %s 失败: %w", table, err)
	}
	r.logger.WithField("table", table).Info("分表已就绪")

	r.remember(table)
	if r.cache != nil {
		if err := r.cache.Remember(ctx, table); err != nil {
			r.logger.WithError(err).Warn("写入分表缓存失败")
		}
	}
	return table, nil
}

// Exists 分表是否已存在，读路径使用，不会建表
func (r *Router) Exists(ctx context.Context, table string) (bool, error) {
	found, err := r.Existing(ctx, []string{table})
	if err != nil {
		return false, err
	}
	return len(found) == 1, nil
}

// Existing 过滤出已存在的分表，保持顺序；有未知表时只查询一次目录
func (r *Router) Existing(ctx context.Context, tables []string) ([]string, error) {
	unknown := 0
	for _, t := range tables {
		if !identPattern.MatchString(t) {
			return nil, fmt.Errorf("非法的表名: %s", t)
		}
		if !r.isKnown(t) {
			unknown++
		}
	}
	if unknown == 0 {
		return tables, nil
	}

	names, err := r.db.WithContext(ctx).Migrator().GetTables()
	if err != nil {
		return nil, errs.FromStore(err)
	}
	catalog := make(map[string]struct{}, len(names))
	for _, n := range names {
		catalog[n] = struct{}{}
	}

	out := make([]string, 0, len(tables))
	for _, t := range tables {
		if r.isKnown(t) {
			out = append(out, t)
			continue
		}
		if _, ok := catalog[t]; ok {
			r.remember(t)
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *Router) isKnown(table string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.known[table]
	return ok
}

func (r *Router) remember(table string) {
	r.mu.Lock()
	r.known[table] = struct{}{}
	r.mu.Unlock()
}
