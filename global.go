package flowengine

import (
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// Dependencies holds the process-wide connections. It is built by the entry point
// and handed to every service instead of living in package globals.
type Dependencies struct {
	Config AppConfig
	DB     *gorm.DB
	Logger zerolog.Logger
	Redis  *redis.Client
	Nats   *nats.Conn
}

func NewDependencies(cfg AppConfig) *Dependencies {
	deps := &Dependencies{
		Config: cfg,
		Logger: NewLogger(cfg.Mode),
	}
	deps.DB = ConnectToPostgres(cfg.MainDatabase)
	deps.Redis = ConnectToRedis(cfg.RedisConfig)

	// Progress streaming is best-effort: a missing broker never blocks runs.
	if cfg.NatsConfig.URL != "" {
		nc, err := nats.Connect(cfg.NatsConfig.URL, nats.Name("flowengine-api"), nats.MaxReconnects(-1))
		if err != nil {
			deps.Logger.Warn().Err(err).Str("url", cfg.NatsConfig.URL).Msg("NATS connection failed, progress streaming disabled")
		} else {
			deps.Nats = nc
		}
	}
	return deps
}

func (slf *Dependencies) Close() {
	if slf.Nats != nil {
		if err := slf.Nats.Drain(); err != nil {
			slf.Logger.Warn().Err(err).Msg("NATS drain failed")
		}
	}
	if slf.Redis != nil {
		_ = slf.Redis.Close()
	}
	if slf.DB != nil {
		if conn, err := slf.DB.DB(); err == nil {
			_ = conn.Close()
		}
	}
}
