package testkit

import (
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"QuantSync/pkg/database"
	"QuantSync/pkg/logger"
	"QuantSync/pkg/sharding"
)

// OpenDB 在临时目录创建已迁移的 sqlite 数据库
func OpenDB(t testing.TB) *gorm.DB {
	t.Helper()
	logger.Silence()

	path := filepath.Join(t.TempDir(), "quant.db")
	db, err := gorm.Open(sqlite.Open(path+"?_pragma=busy_timeout(5000)"), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// sqlite 单写者
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, database.Migrate(db))
	return db
}

// NewStores 按年分表的存储集合
func NewStores(t testing.TB) *database.Stores {
	t.Helper()
	return NewStoresWith(t, sharding.Year, sharding.Options{})
}

// NewStoresWith 指定分表粒度与写入选项
func NewStoresWith(t testing.TB, g sharding.Granularity, opts sharding.Options) *database.Stores {
	t.Helper()
	db := OpenDB(t)
	stores, err := database.NewStores(db, sharding.NewRouter(db, g), opts)
	require.NoError(t, err)
	return stores
}
