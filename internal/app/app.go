// Package app assembles the relay from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/cheese-relay/internal/auth"
	"github.com/park285/cheese-relay/internal/backend"
	"github.com/park285/cheese-relay/internal/chess"
	"github.com/park285/cheese-relay/internal/config"
	"github.com/park285/cheese-relay/internal/fanout"
	"github.com/park285/cheese-relay/internal/httpapi"
	"github.com/park285/cheese-relay/internal/hub"
	"github.com/park285/cheese-relay/internal/msgcat"
	"github.com/park285/cheese-relay/internal/obslog"
	"github.com/park285/cheese-relay/internal/relay"
	"github.com/park285/cheese-relay/internal/textgen"
	"github.com/park285/cheese-relay/internal/wsconn"
)

type Deps struct {
	Config      *config.AppConfig
	Registry    *hub.Registry
	Dispatcher  *hub.Dispatcher
	Engine      *chess.Engine
	Coordinator *relay.Coordinator
	API         *httpapi.Server
	HTTP        *http.Server

	redis  *redis.Client
	bridge *fanout.Bridge
}

// New builds every dependency. Redis fan-out is only wired when REDIS_URL is set.
func New(ctx context.Context, cfg *config.AppConfig) (*Deps, error) {
	if cfg == nil {
		return nil, errors.New("nil config")
	}

	msgs, err := msgcat.New(cfg.MsgcatDir)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	validator, err := auth.NewJWTValidator(cfg.JWTSecret, cfg.JWTAlgorithm)
	if err != nil {
		return nil, fmt.Errorf("init auth: %w", err)
	}
	engine, err := chess.NewEngine(chess.Config{
		BinaryPath: cfg.StockfishPath,
		MaxProcs:   cfg.EngineMaxProcs,
		Timeout:    cfg.EngineTimeout,
		Threads:    cfg.EngineThreads,
		HashMB:     cfg.EngineHashMB,
	})
	if err != nil {
		return nil, fmt.Errorf("init engine: %w", err)
	}

	d := &Deps{Config: cfg, Engine: engine}
	d.Registry = hub.NewRegistry(cfg.RegistryShards)
	d.Dispatcher = hub.NewDispatcher(d.Registry)
	d.Coordinator = relay.NewCoordinator(d.Dispatcher, engine, relay.WithMessages(msgs))

	instance := cfg.RelayInstanceID
	if cfg.RedisURL != "" {
		if err := d.startFanout(ctx, cfg); err != nil {
			_ = engine.Close()
			return nil, err
		}
		instance = d.bridge.Instance()
	}

	d.API = httpapi.New(httpapi.Deps{
		Auth: validator,
		Backend: backend.NewClient(cfg.BackendURL,
			backend.WithTimeout(cfg.BackendTimeout),
			backend.WithRetry(cfg.BackendRetry)),
		TextGen: textgen.NewClient(textgen.Config{
			URL:     cfg.TextgenURL,
			APIKey:  cfg.TextgenAPIKey,
			Model:   cfg.TextgenModel,
			Timeout: cfg.TextgenTimeout,
		}, msgs),
		Engine:      engine,
		Coordinator: d.Coordinator,
		Registry:    d.Registry,
		Messages:    msgs,
		WS: wsconn.Options{
			QueueSize:      cfg.WSSendQueue,
			WriteTimeout:   cfg.WSWriteTimeout,
			PingInterval:   cfg.WSPingInterval,
			ReadLimit:      cfg.WSMaxMessageBytes,
			OriginPatterns: cfg.AllowedOrigins,
		},
		Instance: instance,
	})
	d.HTTP = &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           d.API.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return d, nil
}

func (d *Deps) startFanout(ctx context.Context, cfg *config.AppConfig) error {
	rdb, err := fanout.NewRedisClient(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return fmt.Errorf("ping redis: %w", err)
	}

	opts := []fanout.Option{fanout.WithTopic(cfg.FanoutTopic)}
	if id := strings.TrimSpace(cfg.RelayInstanceID); id != "" {
		opts = append(opts, fanout.WithInstanceID(id))
	}
	bridge := fanout.NewBridge(rdb, d.Dispatcher, opts...)
	if err := bridge.Start(ctx); err != nil {
		_ = rdb.Close()
		return fmt.Errorf("start fanout: %w", err)
	}
	d.Dispatcher.SetRelay(bridge)
	d.redis, d.bridge = rdb, bridge
	return nil
}

// Shutdown stops accepting requests, closes sockets with 1001, drains
// detached broadcasts and releases the engine and Redis.
func (d *Deps) Shutdown(ctx context.Context) error {
	var errs []error
	if err := d.HTTP.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	closed := d.API.CloseConnections()
	if err := d.Dispatcher.Wait(ctx); err != nil {
		errs = append(errs, fmt.Errorf("drain broadcasts: %w", err))
	}
	if d.bridge != nil {
		d.Dispatcher.SetRelay(nil)
		if err := d.bridge.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if d.redis != nil {
		if err := d.redis.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := d.Engine.Close(); err != nil {
		errs = append(errs, fmt.Errorf("engine close: %w", err))
	}
	obslog.L().Info("relay_stopped", zap.Int("closed_sockets", closed))
	return errors.Join(errs...)
}
