package database

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/lib/pq"

	"quantbt/internal/config"
	"quantbt/internal/errors"
	"quantbt/internal/logger"
)

const (
	defaultMaxOpen     = 25
	defaultMaxIdle     = 5
	defaultPingTimeout = 5 * time.Second
	connMaxLifetime    = time.Hour
	connMaxIdleTime    = 15 * time.Minute
	pingRetries        = 3
)

// DB is the results warehouse connection pool.
type DB struct {
	*sql.DB
	cfg config.DatabaseConfig
	log logger.Logger
}

// PoolStats is a point-in-time snapshot of the connection pool.
type PoolStats struct {
	MaxOpenConnections int           `json:"max_open_connections"`
	OpenConnections    int           `json:"open_connections"`
	InUse              int           `json:"in_use"`
	Idle               int           `json:"idle"`
	WaitCount          int64         `json:"wait_count"`
	WaitDuration       time.Duration `json:"wait_duration"`
}

// NewConnection opens the warehouse pool and verifies it with a few
// ping attempts before handing it out.
func NewConnection(cfg config.DatabaseConfig, log logger.Logger) (*DB, error) {
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, errors.NewAppError(errors.ErrCodeDBConnection, "打开数据库失败", err)
	}

	if cfg.MaxOpen <= 0 {
		cfg.MaxOpen = defaultMaxOpen
	}
	if cfg.MaxIdle <= 0 {
		cfg.MaxIdle = defaultMaxIdle
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultPingTimeout
	}

	db.SetMaxOpenConns(cfg.MaxOpen)
	db.SetMaxIdleConns(cfg.MaxIdle)
	db.SetConnMaxLifetime(connMaxLifetime)
	db.SetConnMaxIdleTime(connMaxIdleTime)

	var pingErr error
	for i := 0; i < pingRetries; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
		pingErr = db.PingContext(ctx)
		cancel()
		if pingErr == nil {
			break
		}
		log.Warn("数据库连接测试失败", "attempt", i+1, "error", pingErr.Error())
		if i < pingRetries-1 {
			time.Sleep(time.Second * time.Duration(i+1))
		}
	}
	if pingErr != nil {
		db.Close()
		return nil, errors.NewAppError(errors.ErrCodeDBConnection, "数据库不可达", pingErr)
	}

	log.Info("数据库连接建立",
		"host", cfg.Host,
		"dbname", cfg.DBName,
		"max_open", cfg.MaxOpen,
		"max_idle", cfg.MaxIdle)

	return &DB{DB: db, cfg: cfg, log: log}, nil
}

// Close closes the pool.
func (db *DB) Close() error {
	return db.DB.Close()
}

// HealthCheck pings the warehouse.
func (db *DB) HealthCheck(ctx context.Context) error {
	if err := db.PingContext(ctx); err != nil {
		return errors.NewAppError(errors.ErrCodeDBConnection, "数据库健康检查失败", err)
	}
	return nil
}

// Stats returns a snapshot of the pool.
func (db *DB) Stats() PoolStats {
	s := db.DB.Stats()
	return PoolStats{
		MaxOpenConnections: s.MaxOpenConnections,
		OpenConnections:    s.OpenConnections,
		InUse:              s.InUse,
		Idle:               s.Idle,
		WaitCount:          s.WaitCount,
		WaitDuration:       s.WaitDuration,
	}
}

// MonitorPool reports pool snapshots to callback every interval until
// ctx ends, warning when requests had to wait for a connection.
func (db *DB) MonitorPool(ctx context.Context, interval time.Duration, callback func(PoolStats)) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastWaits int64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			if callback != nil {
				callback(stats)
			}
			if stats.WaitCount > lastWaits {
				db.log.Warn("数据库连接池出现等待",
					"wait_count", stats.WaitCount,
					"in_use", stats.InUse,
					"idle", stats.Idle)
			}
			lastWaits = stats.WaitCount
		}
	}
}
