package database

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"QuantSync/pkg/config"
	"QuantSync/pkg/model"
	"QuantSync/pkg/sharding"
)

// Stores 启动时构建并在各组件间传递的存储集合
type Stores struct {
	DB         *gorm.DB
	Stocks     *StockDB
	Categories *CategoryDB
	Members    *MemberDB
	Jobs       *JobDB
	Klines     *sharding.Manager[model.KlineDaily]
}

// Open 连接postgres
func Open(cfg config.PostgresConfig) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取连接池失败: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("测试数据库连接失败: %w", err)
	}
	return db, nil
}

// Migrate 建表，kline_daily 作为分表模板保持为空
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&model.Stock{},
		&model.Category{},
		&model.CategoryLog{},
		&model.CategoryMember{},
		&model.KlineDaily{},
		&model.JobSet{},
		&model.JobRecord{},
	)
	if err != nil {
		return fmt.Errorf("数据库迁移失败: %w", err)
	}
	return nil
}

// KlineTable 日K线分表定义
func KlineTable() sharding.Table[model.KlineDaily] {
	return sharding.Table[model.KlineDaily]{
		Base:            model.KlineDailyTable,
		KeyColumn:       "trade_date",
		ConflictColumns: []string{"stock_id", "trade_date"},
		UpdateColumns:   model.KlineUpdateColumns,
		Key: func(k *model.KlineDaily) time.Time {
			return k.TradeDate
		},
	}
}

// NewStores 构建存储集合
func NewStores(db *gorm.DB, router *sharding.Router, opts sharding.Options) (*Stores, error) {
	klines, err := sharding.NewManager(db, router, KlineTable(), opts)
	if err != nil {
		return nil, err
	}
	return &Stores{
		DB:         db,
		Stocks:     &StockDB{db: db},
		Categories: &CategoryDB{db: db},
		Members:    &MemberDB{db: db},
		Jobs:       &JobDB{db: db},
		Klines:     klines,
	}, nil
}

// Ping 检查数据库连接
func (s *Stores) Ping() error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// Close 关闭数据库连接
func (s *Stores) Close() error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
