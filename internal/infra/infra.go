package infra

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ruslano69/tdtp-explorer/pkg/countcache"
	"github.com/ruslano69/tdtp-explorer/pkg/resilience"
	"github.com/ruslano69/tdtp-explorer/pkg/resultlog"
)

// Infra holds all live infrastructure handles for the running service.
type Infra struct {
	Redis *redis.Client // nil when Redis is not configured

	// dev-mode internal instance; nil in production
	mini *miniredis.Miniredis
}

// Setup initialises Redis.
//   - dev=true: starts an in-process miniredis instance.
//   - dev=false: connects to cfg.Redis.Addr, or runs without Redis when it is empty.
func Setup(ctx context.Context, cfg *Config, dev bool) (*Infra, error) {
	inf := &Infra{}

	switch {
	case dev:
		var err error
		inf.mini, err = miniredis.Run()
		if err != nil {
			return nil, fmt.Errorf("infra: miniredis: %w", err)
		}
		inf.Redis = redis.NewClient(&redis.Options{Addr: inf.mini.Addr()})
		log.Info().Str("redis", inf.mini.Addr()).Msg("dev: in-process miniredis started")
	case cfg.Redis.Addr != "":
		inf.Redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	default:
		log.Info().Msg("redis not configured: in-memory count cache, no cycle events")
		return inf, nil
	}

	if err := inf.Redis.Ping(ctx).Err(); err != nil {
		inf.Close()
		return nil, fmt.Errorf("infra: redis ping: %w", err)
	}
	return inf, nil
}

// Ping checks Redis. It succeeds when Redis is not configured.
func (inf *Infra) Ping(ctx context.Context) error {
	if inf.Redis == nil {
		return nil
	}
	return inf.Redis.Ping(ctx).Err()
}

// CountCache returns the count cache selected by cfg: Redis-backed behind a
// circuit breaker when Redis is available, in-memory otherwise, nil when
// disabled.
func (inf *Infra) CountCache(cfg CacheConfig) countcache.Cache {
	if !cfg.Enabled {
		return nil
	}
	if inf.Redis == nil {
		return countcache.NewMemory(cfg.TTL)
	}
	bc := resilience.DefaultConfig("countcache")
	if cfg.BreakerFailures > 0 {
		bc.MaxFailures = cfg.BreakerFailures
	}
	if cfg.BreakerCooldown > 0 {
		bc.Cooldown = cfg.BreakerCooldown
	}
	bc.OnStateChange = func(name string, from, to resilience.State) {
		ev := log.Info()
		if to == resilience.StateOpen {
			ev = log.Warn()
		}
		ev.Str("breaker", name).Stringer("from", from).Stringer("to", to).Msg("count cache circuit changed")
	}
	cb, err := resilience.New(bc)
	if err != nil {
		log.Error().Err(err).Msg("count cache breaker disabled")
		return countcache.NewRedis(inf.Redis, cfg.TTL)
	}
	return countcache.NewGuarded(countcache.NewRedis(inf.Redis, cfg.TTL), cb)
}

// Publisher returns the cycle event publisher, or nil when events are
// disabled or Redis is not available.
func (inf *Infra) Publisher(cfg EventsConfig) *resultlog.RedisPublisher {
	if !cfg.Enabled || inf.Redis == nil {
		return nil
	}
	return resultlog.NewRedisPublisher(inf.Redis, cfg.TTL)
}

// Close releases all infrastructure resources.
func (inf *Infra) Close() {
	if inf.Redis != nil {
		_ = inf.Redis.Close()
	}
	if inf.mini != nil {
		inf.mini.Close()
	}
}

// NewLogger builds the process logger: a pretty console writer or JSON
// lines, at the configured level.
func NewLogger(cfg LoggingConfig, w io.Writer) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	if cfg.Format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}
