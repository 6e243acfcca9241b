package deposit

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"depositgate.com/pkg/bootstrap"
	"depositgate.com/pkg/orm"
	"depositgate.com/pkg/xredis"
)

const (
	ServiceName          = "deposit-service"
	defaultConfirmations = 5
)

type Cfg struct {
	Name     string                `yaml:"name" mapstructure:"name"`
	LogLevel string                `yaml:"log_level" mapstructure:"log_level"`
	LogFile  string                `yaml:"log_file" mapstructure:"log_file"`
	HTTP     HTTP                  `yaml:"http" mapstructure:"http"`
	Db       DBConfig              `yaml:"db" mapstructure:"db"`
	Redis    Redis                 `yaml:"redis" mapstructure:"redis"`
	Chain    Chain                 `yaml:"chain" mapstructure:"chain"`
	Deposit  Deposit               `yaml:"deposit" mapstructure:"deposit"`
	Repoller Repoller              `yaml:"repoller" mapstructure:"repoller"`
	Scanner  Scanner               `yaml:"scanner" mapstructure:"scanner"`
	OTel     OTel                  `yaml:"otel" mapstructure:"otel"`
	Sentinel bootstrap.SentinelCfg `yaml:"sentinel" mapstructure:"sentinel"`
}

type HTTP struct {
	Addr            string        `yaml:"addr" mapstructure:"addr"`
	PprofAddr       string        `yaml:"pprof_addr" mapstructure:"pprof_addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	CorsOrigins     []string      `yaml:"cors_origins" mapstructure:"cors_origins"`
	RateLimit       RateLimit     `yaml:"rate_limit" mapstructure:"rate_limit"`
}

type RateLimit struct {
	Enabled bool    `yaml:"enabled" mapstructure:"enabled"`
	RPS     float64 `yaml:"rps" mapstructure:"rps"`
	Burst   int     `yaml:"burst" mapstructure:"burst"`
}

type DBConfig struct {
	Type                   string `yaml:"type" mapstructure:"type"`
	SourceName             string `yaml:"source_name" mapstructure:"source_name"`
	MaxOpenConns           int    `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes" mapstructure:"conn_max_lifetime_minutes"`
	LogSQL                 bool   `yaml:"log_sql" mapstructure:"log_sql"`
	AutoMigrate            bool   `yaml:"auto_migrate" mapstructure:"auto_migrate"`
}

func (d DBConfig) ORM() *orm.Config {
	return &orm.Config{
		Type:        d.Type,
		DSN:         d.SourceName,
		MaxIdle:     d.MaxIdleConns,
		MaxOpen:     d.MaxOpenConns,
		MaxLifetime: d.ConnMaxLifetimeMinutes * 60,
		LogSQL:      d.LogSQL,
	}
}

type Redis struct {
	Addr         string        `yaml:"addr" mapstructure:"addr"`
	Database     int           `yaml:"db" mapstructure:"db"`
	Auth         string        `yaml:"auth" mapstructure:"auth"`
	PoolSize     int           `yaml:"pool_size" mapstructure:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns" mapstructure:"min_idle_conns"`
	CreditedTTL  time.Duration `yaml:"credited_ttl" mapstructure:"credited_ttl"`
}

func (r Redis) Client() *xredis.Config {
	return &xredis.Config{
		Addr:         r.Addr,
		Password:     r.Auth,
		DB:           r.Database,
		PoolSize:     r.PoolSize,
		MinIdleConns: r.MinIdleConns,
	}
}

type Chain struct {
	RPCURL                string        `yaml:"rpc_url" mapstructure:"rpc_url"`
	ChainID               int64         `yaml:"chain_id" mapstructure:"chain_id"` // 0 = 启动时问节点
	CallTimeout           time.Duration `yaml:"call_timeout" mapstructure:"call_timeout"`
	RequiredConfirmations *uint64       `yaml:"required_confirmations" mapstructure:"required_confirmations"` // 不配置默认 5，显式 0 表示打包即入账
	Retry                 Retry         `yaml:"retry" mapstructure:"retry"`
	Breaker               Breaker       `yaml:"breaker" mapstructure:"breaker"`
}

type Retry struct {
	InitialInterval time.Duration `yaml:"initial_interval" mapstructure:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval" mapstructure:"max_interval"`
	MaxTries        uint          `yaml:"max_tries" mapstructure:"max_tries"`
}

// Confirmations ApplyDefaults 之后才保证非 nil
func (c Chain) Confirmations() uint64 {
	if c.RequiredConfirmations == nil {
		return defaultConfirmations
	}
	return *c.RequiredConfirmations
}

type Breaker struct {
	ConsecutiveFailures uint32        `yaml:"consecutive_failures" mapstructure:"consecutive_failures"`
	OpenTimeout         time.Duration `yaml:"open_timeout" mapstructure:"open_timeout"`
}

type Deposit struct {
	Address           string        `yaml:"address" mapstructure:"address"`
	MinimumDeposit    string        `yaml:"minimum_deposit" mapstructure:"minimum_deposit"` // 整币单位，比如 "0.5"
	Decimals          int32         `yaml:"decimals" mapstructure:"decimals"`
	ClaimTimeout      time.Duration `yaml:"claim_timeout" mapstructure:"claim_timeout"`
	NotFoundGrace     time.Duration `yaml:"not_found_grace" mapstructure:"not_found_grace"`
	PendingRetryAfter time.Duration `yaml:"pending_retry_after" mapstructure:"pending_retry_after"`
}

type Repoller struct {
	Enabled   bool          `yaml:"enabled" mapstructure:"enabled"`
	Interval  time.Duration `yaml:"interval" mapstructure:"interval"`
	BatchSize int           `yaml:"batch_size" mapstructure:"batch_size"`
	MaxDelay  time.Duration `yaml:"max_delay" mapstructure:"max_delay"`
	MaxAge    time.Duration `yaml:"max_age" mapstructure:"max_age"`
	LockKey   string        `yaml:"lock_key" mapstructure:"lock_key"`
	LockTTL   time.Duration `yaml:"lock_ttl" mapstructure:"lock_ttl"`
}

// Scanner 主动扫块：不等用户提交，发现打到充值地址的交易直接入账
type Scanner struct {
	Enabled     bool          `yaml:"enabled" mapstructure:"enabled"`
	Interval    time.Duration `yaml:"interval" mapstructure:"interval"`
	BatchBlocks uint64        `yaml:"batch_blocks" mapstructure:"batch_blocks"`
	StartBlock  uint64        `yaml:"start_block" mapstructure:"start_block"` // 没有游标时的起点，0 = 从当前已确认高度开始
	LockKey     string        `yaml:"lock_key" mapstructure:"lock_key"`
	LockTTL     time.Duration `yaml:"lock_ttl" mapstructure:"lock_ttl"`
}

type OTel struct {
	Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
	Exporter string `yaml:"exporter" mapstructure:"exporter"` // otlp / stdout
	Addr     string `yaml:"addr" mapstructure:"addr"`
}

// ApplyDefaults 没配置的项填默认值
func (c *Cfg) ApplyDefaults() {
	if c.Name == "" {
		c.Name = ServiceName
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.HTTP.ReadTimeout <= 0 {
		c.HTTP.ReadTimeout = 5 * time.Second
	}
	if c.HTTP.WriteTimeout <= 0 {
		c.HTTP.WriteTimeout = 15 * time.Second
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		c.HTTP.ShutdownTimeout = 10 * time.Second
	}
	if c.Db.Type == "" {
		c.Db.Type = "mysql"
	}
	if c.Redis.CreditedTTL <= 0 {
		c.Redis.CreditedTTL = 24 * time.Hour
	}
	if c.Chain.CallTimeout <= 0 {
		c.Chain.CallTimeout = 3 * time.Second
	}
	if c.Chain.RequiredConfirmations == nil {
		n := uint64(defaultConfirmations)
		c.Chain.RequiredConfirmations = &n
	}
	if c.Chain.Retry.InitialInterval <= 0 {
		c.Chain.Retry.InitialInterval = 200 * time.Millisecond
	}
	if c.Chain.Retry.MaxInterval <= 0 {
		c.Chain.Retry.MaxInterval = 2 * time.Second
	}
	if c.Chain.Retry.MaxTries == 0 {
		c.Chain.Retry.MaxTries = 3
	}
	if c.Chain.Breaker.ConsecutiveFailures == 0 {
		c.Chain.Breaker.ConsecutiveFailures = 5
	}
	if c.Chain.Breaker.OpenTimeout <= 0 {
		c.Chain.Breaker.OpenTimeout = 10 * time.Second
	}
	if c.Deposit.Decimals == 0 {
		c.Deposit.Decimals = 18
	}
	if c.Deposit.ClaimTimeout <= 0 {
		c.Deposit.ClaimTimeout = 10 * time.Second
	}
	if c.Deposit.NotFoundGrace <= 0 {
		c.Deposit.NotFoundGrace = 30 * time.Minute
	}
	if c.Deposit.PendingRetryAfter <= 0 {
		c.Deposit.PendingRetryAfter = 15 * time.Second
	}
	if c.Repoller.Interval <= 0 {
		c.Repoller.Interval = 12 * time.Second
	}
	if c.Repoller.BatchSize <= 0 {
		c.Repoller.BatchSize = 50
	}
	if c.Repoller.MaxDelay <= 0 {
		c.Repoller.MaxDelay = 5 * time.Minute
	}
	if c.Repoller.MaxAge <= 0 {
		c.Repoller.MaxAge = 24 * time.Hour
	}
	if c.Repoller.LockKey == "" {
		c.Repoller.LockKey = "lock:" + c.Name + ":repoller"
	}
	if c.Repoller.LockTTL <= 0 {
		c.Repoller.LockTTL = 3 * c.Repoller.Interval
	}
	if c.Scanner.Interval <= 0 {
		c.Scanner.Interval = 12 * time.Second
	}
	if c.Scanner.BatchBlocks == 0 {
		c.Scanner.BatchBlocks = 20
	}
	if c.Scanner.LockKey == "" {
		c.Scanner.LockKey = "lock:" + c.Name + ":scanner"
	}
	if c.Scanner.LockTTL <= 0 {
		c.Scanner.LockTTL = 3 * c.Scanner.Interval
	}
}

// Validate 启动时校验，配置错误直接拒绝启动
func (c *Cfg) Validate() error {
	var errs []error
	if !common.IsHexAddress(c.Deposit.Address) {
		errs = append(errs, fmt.Errorf("deposit.address %q is not a hex address", c.Deposit.Address))
	}
	if _, err := c.Deposit.MinimumWei(); err != nil {
		errs = append(errs, err)
	}
	if c.Chain.RPCURL == "" {
		errs = append(errs, errors.New("chain.rpc_url is required"))
	}
	if c.Db.SourceName == "" {
		errs = append(errs, errors.New("db.source_name is required"))
	}
	return errors.Join(errs...)
}

// MinimumWei 整币单位 -> 最小单位
func (d Deposit) MinimumWei() (*big.Int, error) {
	return ToWei(d.MinimumDeposit, d.Decimals)
}

// ToWei "1.5" + 18 位精度 -> 1500000000000000000；不能出现小于 1 wei 的部分
func ToWei(units string, decimals int32) (*big.Int, error) {
	d, err := decimal.NewFromString(units)
	if err != nil {
		return nil, fmt.Errorf("deposit.minimum_deposit %q: %w", units, err)
	}
	if !d.IsPositive() {
		return nil, fmt.Errorf("deposit.minimum_deposit %q must be positive", units)
	}
	wei := d.Shift(decimals)
	if !wei.IsInteger() {
		return nil, fmt.Errorf("deposit.minimum_deposit %q has more than %d decimals", units, decimals)
	}
	return wei.BigInt(), nil
}

// FromWei 最小单位 -> 整币单位的十进制
func FromWei(wei *big.Int, decimals int32) decimal.Decimal {
	if wei == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(wei, -decimals)
}
