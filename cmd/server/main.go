package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"blind_relay/internal/config"
	"blind_relay/internal/repository/conversation"
	"blind_relay/internal/repository/user"
	"blind_relay/internal/service/auth"
	"blind_relay/internal/service/directory"
	"blind_relay/internal/service/presence"
	"blind_relay/internal/service/ratelimit"
	redisSvc "blind_relay/internal/service/redis"
	"blind_relay/internal/service/relay"
	"blind_relay/internal/service/server"
	"blind_relay/internal/utils/log"

	"github.com/benbjohnson/clock"
	"github.com/dgraph-io/badger/v4"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := log.Init(cfg.LogLevel); err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var closers []func() error
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				log.Warn("close failed", zap.Error(err))
			}
		}
	}()

	var db *badger.DB
	if cfg.StoreBackend == config.BackendBadger || cfg.DirectoryBackend == config.BackendBadger {
		db, err = badger.Open(badger.DefaultOptions(cfg.BadgerPath).WithLoggingLevel(badger.WARNING))
		if err != nil {
			return fmt.Errorf("open badger: %w", err)
		}
		closers = append(closers, db.Close)
	}

	var store conversation.Store
	switch cfg.StoreBackend {
	case config.BackendRedis:
		rdb, err := initRedis(ctx, cfg)
		if err != nil {
			return err
		}
		closers = append(closers, rdb.Close)
		store = conversation.NewRedisStore(rdb)
	default:
		bs := conversation.NewBadgerStore(db)
		closers = append(closers, bs.Close)
		store = bs
	}

	var users user.Store
	switch cfg.DirectoryBackend {
	case config.BackendMongo:
		client, err := initMongo(ctx, cfg.MongoURI)
		if err != nil {
			return err
		}
		closers = append(closers, func() error { return client.Disconnect(context.Background()) })
		repo := user.NewUserRepo(client.Database(cfg.MongoDatabase))
		if err := repo.EnsureIndexes(ctx); err != nil {
			return err
		}
		users = repo
	default:
		users = user.NewBadgerRepo(db)
	}

	clk := clock.New()
	var (
		tokens  *auth.TokenIssuer
		hubOpts = []relay.Option{relay.WithClock(clk)}
	)
	if cfg.JWTSecret != "" {
		tokens = auth.NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL, clk)
		if cfg.RequireToken {
			hubOpts = append(hubOpts, relay.WithVerifier(tokens))
		}
	}

	limiter := ratelimit.NewLimiter(ratelimit.Policy{Window: cfg.RateWindow, MaxPerWindow: cfg.RateMaxPerWindow}, clk)
	hub := relay.NewHub(presence.NewRegistry(), limiter, store, hubOpts...)
	dir := directory.NewDirectory(users, directory.WithClock(clk), directory.WithSearchLimit(cfg.SearchLimit))

	srv := server.NewHttpServer(server.Options{
		Addr:          cfg.Address(),
		AuthTimeout:   cfg.AuthTimeout,
		PingPeriod:    cfg.PingPeriod,
		PongWait:      cfg.PongWait,
		WriteWait:     cfg.WriteWait,
		SendBuffer:    cfg.SendBuffer,
		MaxFrameBytes: cfg.MaxFrameBytes,
		RequireToken:  cfg.RequireToken,
	}, hub, dir, store, tokens)

	log.Info("starting relay",
		zap.String("store", cfg.StoreBackend),
		zap.String("directory", cfg.DirectoryBackend),
		zap.Bool("require_token", cfg.RequireToken))
	return srv.Run(ctx)
}

func initRedis(ctx context.Context, cfg *config.Config) (*redisSvc.RedisService, error) {
	rdb := redisSvc.NewRedis(redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}))

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return rdb, nil
}

func initMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return client, nil
}
