package sharding

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"QuantSync/pkg/errs"
)

// Dialect 按模板表创建分表，需保留索引与唯一约束
type Dialect interface {
	CloneTable(ctx context.Context, db *gorm.DB, template, target string) error
}

// DialectFor 根据 gorm 驱动选择建表方言
func DialectFor(db *gorm.DB) Dialect {
	if db.Dialector.Name() == "sqlite" {
		return sqliteDialect{}
	}
	return postgresDialect{}
}

type postgresDialect struct{}

func (postgresDialect) CloneTable(ctx context.Context, db *gorm.DB, template, target string) error {
	return db.WithContext(ctx).Exec(
		"CREATE TABLE IF NOT EXISTS ? (LIKE ? INCLUDING ALL)",
		clause.Table{Name: target}, clause.Table{Name: template},
	).Error
}

// sqliteDialect 没有 LIKE 语法，复制 sqlite_master 中的建表与建索引语句
type sqliteDialect struct{}

func (sqliteDialect) CloneTable(ctx context.Context, db *gorm.DB, template, target string) error {
	tx := db.WithContext(ctx)

	var ddls []string
	if err := tx.Table("sqlite_master").
		Where("type = ? AND name = ?", "table", template).
		Pluck("sql", &ddls).Error; err != nil {
		return err
	}
	if len(ddls) == 0 {
		return errs.New(errs.CodeSchema, "模板表不存在: "+template)
	}

	ddl := ddls[0]
	open := strings.Index(ddl, "(")
	if open < 0 {
		return fmt.Errorf("无法解析模板表结构: %s", template)
	}
	if err := tx.Exec(fmt.Sprintf(`CREATE TABLE IF NOT EXISTS "%s" %s`, target, ddl[open:])).Error; err != nil {
		return err
	}

	var indexes []string
	if err := tx.Table("sqlite_master").
		Where("type = ? AND tbl_name = ? AND sql IS NOT NULL", "index", template).
		Pluck("sql", &indexes).Error; err != nil {
		return err
	}
	for _, idx := range indexes {
		stmt, err := rewriteSQLiteIndex(idx, target)
		if err != nil {
			return err
		}
		if err := tx.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}

// rewriteSQLiteIndex 把模板表上的索引改写到分表，索引名加分表前缀避免冲突
func rewriteSQLiteIndex(ddl, target string) (string, error) {
	upper := strings.ToUpper(ddl)
	unique := strings.HasPrefix(upper, "CREATE UNIQUE INDEX")

	head := len("CREATE INDEX")
	if unique {
		head = len("CREATE UNIQUE INDEX")
	}
	on := strings.Index(upper, " ON ")
	if on < head {
		return "", fmt.Errorf("无法解析索引语句: %s", ddl)
	}
	cols := strings.Index(ddl[on:], "(")
	if cols < 0 {
		return "", fmt.Errorf("无法解析索引语句: %s", ddl)
	}

	name := strings.TrimSpace(ddl[head:on])
	if strings.HasPrefix(strings.ToUpper(name), "IF NOT EXISTS") {
		name = strings.TrimSpace(name[len("IF NOT EXISTS"):])
	}
	name = strings.Trim(name, "`\"[]")

	kw := "INDEX"
	if unique {
		kw = "UNIQUE INDEX"
	}
	return fmt.Sprintf(`CREATE %s IF NOT EXISTS "%s_%s" ON "%s" %s`, kw, target, name, target, ddl[on+cols:]), nil
}
