package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"depositgate.com/internal/deposit"
	"depositgate.com/internal/deposit/chain/eth"
	"depositgate.com/internal/deposit/handler"
	dhttp "depositgate.com/internal/deposit/http"
	"depositgate.com/internal/deposit/policy"
	"depositgate.com/internal/deposit/repo"
	"depositgate.com/internal/deposit/service"
	"depositgate.com/internal/deposit/worker"
	"depositgate.com/pkg/bootstrap"
	vipConfig "depositgate.com/pkg/config"
	"depositgate.com/pkg/logger"
	"depositgate.com/pkg/metrics"
	"depositgate.com/pkg/orm"
	"depositgate.com/pkg/ratelimit"
	"depositgate.com/pkg/safe"
	"depositgate.com/pkg/trace"
	"depositgate.com/pkg/xredis"
)

type App struct {
	cfg *deposit.Cfg
	v   *viper.Viper

	db    *gorm.DB
	rdb   *redis.Client
	chain *eth.Adapter
	svc   *service.DepositService
	lock  *xredis.RedisLockMaster

	traceShutdown func(context.Context) error
}

// New 加载并校验配置，配置有问题直接返回错误，不启动
func New(configName string) (*App, error) {
	if configName == "" {
		configName = deposit.ServiceName
	}
	cfg := &deposit.Cfg{}
	v, err := vipConfig.Load(configName, cfg)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", configName, err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &App{cfg: cfg, v: v}, nil
}

// StartService 按顺序初始化依赖，返回的 cleanUp 逆序释放
func (app *App) StartService(ctx context.Context) (func(), error) {
	cfg := app.cfg
	logger.InitWithFile(cfg.Name, cfg.LogLevel, cfg.LogFile)
	vipConfig.WatchLogLevel(app.v, "log_level", logger.SetLevel)
	logger.Info(ctx, "服务开始启动", zap.String("deposit_address", cfg.Deposit.Address))

	var closers []func()
	cleanUp := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
		logger.Sync()
	}
	fail := func(err error) (func(), error) {
		cleanUp()
		return nil, err
	}

	if err := app.startTrace(); err != nil {
		return fail(err)
	}
	closers = append(closers, func() {
		c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := app.traceShutdown(c); err != nil {
			logger.Error(ctx, "shutdown tracer error", zap.Error(err))
		}
	})

	if err := bootstrap.InitSentinel(&cfg.Sentinel); err != nil {
		return fail(err)
	}

	if err := app.startDB(ctx); err != nil {
		return fail(err)
	}
	closers = append(closers, func() {
		if sqlDB, err := app.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	rdb, err := xredis.NewRedis(ctx, cfg.Redis.Client())
	if err != nil {
		return fail(fmt.Errorf("init redis: %w", err))
	}
	if rdb != nil {
		app.rdb = rdb
		observeRedisStats(ctx, rdb)
		closers = append(closers, func() { _ = rdb.Close() })
	} else {
		logger.Warn(ctx, "redis disabled: credited cache off, workers run without master lock")
	}
	app.lock = xredis.NewRedisLockMaster(app.rdb)

	if err := app.startChain(ctx); err != nil {
		return fail(err)
	}
	closers = append(closers, app.chain.Close)

	svc, err := app.buildService()
	if err != nil {
		return fail(err)
	}
	app.svc = svc

	if cfg.Repoller.Enabled {
		rp := worker.NewRepoller(worker.Config{
			Interval:  cfg.Repoller.Interval,
			BatchSize: cfg.Repoller.BatchSize,
			MaxAge:    cfg.Repoller.MaxAge,
			LockKey:   cfg.Repoller.LockKey,
			LockTTL:   cfg.Repoller.LockTTL,
		}, svc, app.lock)
		safe.GoCtx(ctx, rp.Start)
	}

	if cfg.Scanner.Enabled {
		sc := worker.NewScanner(worker.ScannerConfig{
			Name:           cfg.Name + ":" + app.chain.ChainID().String(),
			DepositAddress: common.HexToAddress(cfg.Deposit.Address).Hex(),
			Confirmations:  cfg.Chain.Confirmations(),
			Interval:       cfg.Scanner.Interval,
			BatchBlocks:    cfg.Scanner.BatchBlocks,
			StartBlock:     cfg.Scanner.StartBlock,
			LockKey:        cfg.Scanner.LockKey,
			LockTTL:        cfg.Scanner.LockTTL,
		}, app.chain, svc, repo.NewCursorRepo(app.db), app.lock)
		safe.GoCtx(ctx, sc.Start)
	}

	if srv := bootstrap.StartPprof(ctx, cfg.HTTP.PprofAddr); srv != nil {
		closers = append(closers, func() {
			c, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = srv.Shutdown(c)
		})
	}
	return cleanUp, nil
}

// StartHttp 只组装 server，不监听
func (app *App) StartHttp(ctx context.Context) *http.Server {
	return dhttp.NewServer(ctx, dhttp.Options{
		Name:     app.cfg.Name,
		HTTP:     app.cfg.HTTP,
		Sentinel: app.cfg.Sentinel.Enabled,
		Ready:    app.ready,
	}, handler.NewDeposit(app.svc, app.cfg.Deposit.Decimals))
}

// Run 启动到 ctx 结束，然后优雅关闭
func (app *App) Run(ctx context.Context) error {
	cleanUp, err := app.StartService(ctx)
	if err != nil {
		return err
	}
	defer cleanUp()

	srv := app.StartHttp(ctx)
	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "http listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info(ctx, "shutdown signal received")
	case err = <-errCh:
		logger.Error(ctx, "http server error", zap.Error(err))
	}

	// 先停接入再等 in-flight 完成
	shutdownCtx, cancel := context.WithTimeout(context.Background(), app.cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if e := srv.Shutdown(shutdownCtx); e != nil {
		logger.Error(ctx, "http shutdown error", zap.Error(e))
	}
	logger.Info(ctx, "service stopped")
	return err
}

func (app *App) startTrace() error {
	if !app.cfg.OTel.Enabled {
		app.traceShutdown = func(context.Context) error { return nil }
		return nil
	}
	shutdown, err := trace.InitTrace(app.cfg.Name, app.cfg.OTel.Exporter, app.cfg.OTel.Addr)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	app.traceShutdown = shutdown
	return nil
}

func (app *App) startDB(ctx context.Context) error {
	db, err := orm.Open(app.cfg.Db.ORM())
	if err != nil {
		return fmt.Errorf("init db: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("init db: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return fmt.Errorf("ping db: %w", err)
	}
	if app.cfg.Db.AutoMigrate {
		if err := repo.Migrate(db); err != nil {
			_ = sqlDB.Close()
			return fmt.Errorf("migrate: %w", err)
		}
	}
	observeDBStats(ctx, sqlDB)
	app.db = db
	return nil
}

func (app *App) startChain(ctx context.Context) error {
	c := app.cfg.Chain
	var chainID *big.Int
	if c.ChainID > 0 {
		chainID = big.NewInt(c.ChainID)
	}
	adapter, err := eth.Dial(ctx, c.RPCURL, eth.Options{
		CallTimeout: c.CallTimeout,
		ChainID:     chainID,
		Breakers: eth.NewBreakers(ratelimit.Rule{
			Timeout:                 c.Breaker.OpenTimeout,
			TripConsecutiveFailures: c.Breaker.ConsecutiveFailures,
		}),
	})
	if err != nil {
		return fmt.Errorf("dial chain %s: %w", c.RPCURL, err)
	}
	logger.Info(ctx, "chain connected", zap.String("chain_id", adapter.ChainID().String()))
	app.chain = adapter
	return nil
}

func (app *App) buildService() (*service.DepositService, error) {
	cfg := app.cfg
	minWei, err := cfg.Deposit.MinimumWei()
	if err != nil {
		return nil, err
	}
	return service.NewDepositService(service.Config{
		DepositAddress:      common.HexToAddress(cfg.Deposit.Address),
		MinimumDeposit:      minWei,
		MinimumDepositUnits: cfg.Deposit.MinimumDeposit,
		ClaimTimeout:        cfg.Deposit.ClaimTimeout,
		NotFoundGrace:       cfg.Deposit.NotFoundGrace,
		RetryAfter:          cfg.Deposit.PendingRetryAfter,
		MaxRetryAfter:       cfg.Repoller.MaxDelay,
		Retry: service.Retry{
			InitialInterval: cfg.Chain.Retry.InitialInterval,
			MaxInterval:     cfg.Chain.Retry.MaxInterval,
			MaxTries:        cfg.Chain.Retry.MaxTries,
		},
	},
		app.chain,
		policy.NewConfirmation(cfg.Chain.Confirmations()),
		repo.New(app.db),
		repo.NewPendingRepo(app.db),
		repo.NewCreditedCache(app.rdb, cfg.Redis.CreditedTTL),
	), nil
}

// ready db 必须可用；redis 配了就必须可用
func (app *App) ready(ctx context.Context) error {
	sqlDB, err := app.db.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("db: %w", err)
	}
	if app.rdb != nil {
		if err := app.rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

// observeDBStats 采集 DB 连接池指标
func observeDBStats(ctx context.Context, db *sql.DB) {
	safe.GoCtx(ctx, func(ctx context.Context) {
		t := time.NewTicker(5 * time.Second)
		defer t.Stop()
		var lastWaitCount int64
		var lastWaitDuration time.Duration
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
			}
			st := db.Stats()
			metrics.DbPoolOpen.Set(float64(st.OpenConnections))
			metrics.DbPoolIdle.Set(float64(st.Idle))
			metrics.DbPoolInuse.Set(float64(st.InUse))

			if d := st.WaitCount - lastWaitCount; d > 0 {
				metrics.DbPoolWaitCount.Add(float64(d))
				lastWaitCount = st.WaitCount
			}
			if d := st.WaitDuration - lastWaitDuration; d > 0 {
				metrics.DbPoolWaitDuration.Add(d.Seconds())
				lastWaitDuration = st.WaitDuration
			}
		}
	})
}

// observeRedisStats 采集 Redis 连接池指标
func observeRedisStats(ctx context.Context, rdb *redis.Client) {
	safe.GoCtx(ctx, func(ctx context.Context) {
		t := time.NewTicker(5 * time.Second)
		defer t.Stop()
		var lastWaitCount int64
		var lastWaitDuration time.Duration
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
			}
			st := rdb.PoolStats()
			metrics.RedisPoolOpen.Set(float64(st.TotalConns))
			metrics.RedisPoolIdle.Set(float64(st.IdleConns))
			metrics.RedisPoolInuse.Set(float64(st.TotalConns) - float64(st.IdleConns))

			if d := int64(st.WaitCount) - lastWaitCount; d > 0 {
				metrics.RedisPoolWaitCount.Add(float64(d))
				lastWaitCount = int64(st.WaitCount)
			}
			if d := time.Duration(st.WaitDurationNs) - lastWaitDuration; d > 0 {
				metrics.RedisPoolWaitDuration.Add(d.Seconds())
				lastWaitDuration = time.Duration(st.WaitDurationNs)
			}
		}
	})
}
