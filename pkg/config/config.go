package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"QuantSync/pkg/logger"
)

// Config 应用配置
type Config struct {
	App struct {
		Name string `yaml:"name"`
		Env  string `yaml:"env"`
	} `yaml:"app"`

	Log logger.Config `yaml:"log"`

	Database struct {
		Postgres PostgresConfig `yaml:"postgres"`
	} `yaml:"database"`

	Redis RedisConfig `yaml:"redis"`

	NATS NATSConfig `yaml:"nats"`

	AKShare AKShareConfig `yaml:"akshare"`

	API APIConfig `yaml:"api"`

	Dispatch DispatchConfig `yaml:"dispatch"`

	Retry RetryConfig `yaml:"retry"`

	Sharding ShardingConfig `yaml:"sharding"`

	Ingest IngestConfig `yaml:"ingest"`

	Scheduler SchedulerConfig `yaml:"scheduler"`
}

// PostgresConfig 数据库连接配置
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	DBName          string        `yaml:"dbname"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// RedisConfig Redis配置，为空时不启用
type RedisConfig struct {
	Addr        string `yaml:"addr"`
	Password    string `yaml:"password"`
	DB          int    `yaml:"db"`
	ShardPrefix string `yaml:"shard_prefix"`
	TokenPrefix string `yaml:"token_prefix"`
}

// NATSConfig NATS JetStream配置
type NATSConfig struct {
	URL           string        `yaml:"url"`
	Stream        string        `yaml:"stream"`
	SubjectPrefix string        `yaml:"subject_prefix"`
	AckWait       time.Duration `yaml:"ack_wait"`
}

// BreakerConfig 熔断器配置
type BreakerConfig struct {
	MaxRequests  uint32        `yaml:"max_requests"`
	Interval     time.Duration `yaml:"interval"`
	Timeout      time.Duration `yaml:"timeout"`
	FailureRatio float64       `yaml:"failure_ratio"`
	MinRequests  uint32        `yaml:"min_requests"`
}

// AKShareConfig AKTools服务配置
type AKShareConfig struct {
	BaseURL     string        `yaml:"base_url"`
	Timeout     time.Duration `yaml:"timeout"`
	MinInterval time.Duration `yaml:"min_interval"`
	Breaker     BreakerConfig `yaml:"breaker"`
}

// APIConfig HTTP服务配置
type APIConfig struct {
	Port         string        `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	APIKey       string        `yaml:"api_key"`
}

// DispatchConfig 任务分发配置
type DispatchConfig struct {
	Queues      map[string]int `yaml:"queues"` // 队列名 -> 并发数
	MaxAttempts int            `yaml:"max_attempts"`
	SoftLimit   time.Duration  `yaml:"soft_limit"`
	HardLimit   time.Duration  `yaml:"hard_limit"`
}

// RetryConfig 退避重试配置
type RetryConfig struct {
	Base     time.Duration `yaml:"base"`
	Cap      time.Duration `yaml:"cap"`
	Jitter   float64       `yaml:"jitter"`
	Deadline time.Duration `yaml:"deadline"`
}

// ShardingConfig 分表配置
type ShardingConfig struct {
	Granularity  string `yaml:"granularity"` // year, month, day
	BatchSize    int    `yaml:"batch_size"`
	StoreRetries int    `yaml:"store_retries"`
}

// IngestConfig 数据同步配置
type IngestConfig struct {
	KlineEpoch    string `yaml:"kline_epoch"` // 2006-01-02，为空时按 lookback_years 回溯
	LookbackYears int    `yaml:"lookback_years"`
	EmptyRunLimit int    `yaml:"empty_run_limit"`
	MissingLimit  int    `yaml:"missing_limit"`
	Adjust        string `yaml:"adjust"`
	// 板块快照与任务记录保留天数，prune-logs 使用
	LogRetentionDays int `yaml:"log_retention_days"`
	JobRetentionDays int `yaml:"job_retention_days"`
}

// SchedulerConfig 定时任务配置（带秒字段的cron表达式，留空则不调度）
type SchedulerConfig struct {
	StockList        string `yaml:"stock_list"`
	IndustryList     string `yaml:"industry_list"`
	ConceptList      string `yaml:"concept_list"`
	IndustryRelation string `yaml:"industry_relation"`
	ConceptRelation  string `yaml:"concept_relation"`
	KlineDaily       string `yaml:"kline_daily"`
}

// LoadConfig 从文件加载配置
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	overrideFromEnv(&config)
	applyDefaults(&config)
	if err := config.validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// validate 单次执行硬时限 < 重试周期截止时间 < 消息 ack_wait
func (c *Config) validate() error {
	if c.Retry.Deadline > 0 && c.Retry.Deadline <= c.Dispatch.HardLimit {
		return fmt.Errorf("retry.deadline(%s) 必须大于 dispatch.hard_limit(%s)", c.Retry.Deadline, c.Dispatch.HardLimit)
	}
	if c.Retry.Deadline > 0 && c.Retry.Deadline >= c.NATS.AckWait {
		return fmt.Errorf("retry.deadline(%s) 必须小于 nats.ack_wait(%s)", c.Retry.Deadline, c.NATS.AckWait)
	}
	return nil
}

// Default 返回只包含默认值和环境变量覆盖的配置
func Default() *Config {
	var config Config
	overrideFromEnv(&config)
	applyDefaults(&config)
	return &config
}

// overrideFromEnv 使用环境变量覆盖配置
func overrideFromEnv(config *Config) {
	if env := os.Getenv("APP_NAME"); env != "" {
		config.App.Name = env
	}
	if env := os.Getenv("APP_ENV"); env != "" {
		config.App.Env = env
	}
	if env := os.Getenv("LOG_LEVEL"); env != "" {
		config.Log.Level = env
	}
	if env := os.Getenv("LOG_FORMAT"); env != "" {
		config.Log.Format = env
	}

	// 数据库配置
	pg := &config.Database.Postgres
	if env := os.Getenv("DB_HOST"); env != "" {
		pg.Host = env
	}
	if env := os.Getenv("DB_PORT"); env != "" {
		if port, err := strconv.Atoi(env); err == nil && port > 0 {
			pg.Port = port
		}
	}
	if env := os.Getenv("DB_USER"); env != "" {
		pg.User = env
	}
	if env := os.Getenv("DB_PASSWORD"); env != "" {
		pg.Password = env
	}
	if env := os.Getenv("DB_NAME"); env != "" {
		pg.DBName = env
	}

	if env := os.Getenv("REDIS_ADDR"); env != "" {
		config.Redis.Addr = env
	}
	if env := os.Getenv("REDIS_PASSWORD"); env != "" {
		config.Redis.Password = env
	}

	if env := os.Getenv("NATS_URL"); env != "" {
		config.NATS.URL = env
	}

	if env := os.Getenv("AKSHARE_BASE_URL"); env != "" {
		config.AKShare.BaseURL = env
	}

	if env := os.Getenv("API_PORT"); env != "" {
		config.API.Port = env
	}
	if env := os.Getenv("API_KEY"); env != "" {
		config.API.APIKey = env
	}
}

// applyDefaults 填充未配置项的默认值
func applyDefaults(config *Config) {
	if config.App.Name == "" {
		config.App.Name = "quant-sync"
	}
	if config.Log.Level == "" {
		config.Log.Level = "info"
	}

	pg := &config.Database.Postgres
	if pg.Host == "" {
		pg.Host = "localhost"
	}
	if pg.Port == 0 {
		pg.Port = 5432
	}
	if pg.SSLMode == "" {
		pg.SSLMode = "disable"
	}
	if pg.MaxOpenConns == 0 {
		pg.MaxOpenConns = 25
	}
	if pg.MaxIdleConns == 0 {
		pg.MaxIdleConns = 5
	}
	if pg.ConnMaxLifetime == 0 {
		pg.ConnMaxLifetime = 5 * time.Minute
	}

	if config.Redis.ShardPrefix == "" {
		config.Redis.ShardPrefix = "quant:sharding:tables"
	}
	if config.Redis.TokenPrefix == "" {
		config.Redis.TokenPrefix = "admin:token:"
	}

	if config.NATS.URL == "" {
		config.NATS.URL = "nats://localhost:4222"
	}
	if config.NATS.Stream == "" {
		config.NATS.Stream = "QUANT_JOBS"
	}
	if config.NATS.SubjectPrefix == "" {
		config.NATS.SubjectPrefix = "quant.jobs"
	}

	ak := &config.AKShare
	if ak.BaseURL == "" {
		ak.BaseURL = "http://127.0.0.1:8080"
	}
	if ak.Timeout == 0 {
		ak.Timeout = 120 * time.Second
	}
	if ak.MinInterval == 0 {
		ak.MinInterval = 500 * time.Millisecond
	}
	if ak.Breaker.Interval == 0 {
		ak.Breaker.Interval = time.Minute
	}
	if ak.Breaker.Timeout == 0 {
		ak.Breaker.Timeout = 30 * time.Second
	}
	if ak.Breaker.MaxRequests == 0 {
		ak.Breaker.MaxRequests = 1
	}
	if ak.Breaker.FailureRatio == 0 {
		ak.Breaker.FailureRatio = 0.6
	}
	if ak.Breaker.MinRequests == 0 {
		ak.Breaker.MinRequests = 10
	}

	if config.API.Port == "" {
		config.API.Port = "8000"
	}
	if config.API.ReadTimeout == 0 {
		config.API.ReadTimeout = 15 * time.Second
	}
	if config.API.WriteTimeout == 0 {
		config.API.WriteTimeout = 15 * time.Second
	}

	d := &config.Dispatch
	if len(d.Queues) == 0 {
		d.Queues = map[string]int{"kline": 4, "members": 4, "lists": 1}
	}
	if d.MaxAttempts == 0 {
		d.MaxAttempts = 5
	}
	if d.SoftLimit == 0 {
		d.SoftLimit = 3 * time.Minute
	}
	if d.HardLimit == 0 {
		d.HardLimit = 5 * time.Minute
	}
	if config.NATS.AckWait == 0 {
		// 单个任务最长占用: 硬时限 x 次数 + 退避
		config.NATS.AckWait = 30 * time.Minute
	}

	r := &config.Retry
	if r.Base == 0 {
		r.Base = 5 * time.Second
	}
	if r.Cap == 0 {
		r.Cap = 30 * time.Minute
	}
	if r.Jitter == 0 {
		r.Jitter = 0.3
	}
	if r.Deadline == 0 {
		// 覆盖多次硬时限加退避，且短于 ack_wait，避免执行中被重投
		r.Deadline = 25 * time.Minute
	}

	s := &config.Sharding
	if s.Granularity == "" {
		s.Granularity = "year"
	}
	if s.BatchSize == 0 {
		s.BatchSize = 500
	}
	if s.StoreRetries == 0 {
		s.StoreRetries = 3
	}

	in := &config.Ingest
	if in.LookbackYears == 0 {
		in.LookbackYears = 30
	}
	if in.EmptyRunLimit == 0 {
		in.EmptyRunLimit = 30
	}
	if in.MissingLimit == 0 {
		in.MissingLimit = 3
	}
	if in.Adjust == "" {
		in.Adjust = "qfq"
	}
	if in.LogRetentionDays == 0 {
		in.LogRetentionDays = 365
	}
	if in.JobRetentionDays == 0 {
		in.JobRetentionDays = 30
	}
}

// DSN 构建postgres连接字符串
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.DBName, p.SSLMode,
	)
}

// GetDefaultConfigPath 获取默认配置文件路径
func GetDefaultConfigPath() string {
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		return path
	}
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "dev"
	}
	return fmt.Sprintf("configs/%s/app.yaml", env)
}
