package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/shubham-shewale/stockpush/cmd/gateway/internal/gateway"
	"github.com/shubham-shewale/stockpush/cmd/gateway/internal/hub"
	"github.com/shubham-shewale/stockpush/cmd/gateway/internal/pricestore"
	"github.com/shubham-shewale/stockpush/cmd/gateway/internal/repository"
	"github.com/shubham-shewale/stockpush/cmd/gateway/internal/updater"
	"github.com/shubham-shewale/stockpush/pkg/config"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// 1. Load Config
	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}

	// 2. Initialize Zap Logger
	logger, err := config.NewLogger(cfg.Logger)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if cfg.App.Env != "local" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Sinks and seed
	var mirror *repository.RedisMirror
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		mirror = repository.NewRedisMirror(rdb, cfg.Redis.TTL)
	}

	seed, err := cfg.SeedPrices()
	if err != nil {
		logger.Fatal("Invalid price seed", zap.Error(err))
	}
	logger.Info("Price table seeded", zap.Strings("symbols", cfg.SeedSymbols()))
	if mirror != nil && cfg.Redis.WarmStart {
		seed = warmStart(ctx, logger, mirror, seed)
	}

	sinks, err := buildSinks(ctx, logger, cfg, mirror)
	if err != nil {
		logger.Fatal("Failed to set up tick sinks", zap.Error(err))
	}

	// 4. Price store and updater
	store := pricestore.New(seed, storeOptions(cfg.Updater)...)
	upd := updater.NewUpdater(
		logger.Named("updater"),
		store,
		updaterConfig(cfg.Updater),
		updater.NewRealRand(time.Now().UnixNano()),
		updater.RealClock{},
		sinks...,
	)

	updaterDone := make(chan struct{})
	go func() {
		defer close(updaterDone)
		// a failed updater freezes prices but the server keeps serving
		_ = upd.Run(ctx)
	}()

	// 5. Hub and HTTP
	wsHub := hub.NewHub(ctx, store, logger.Named("hub"), hub.Config{
		PushInterval: cfg.Push.Interval,
		NotifyErrors: cfg.Gateway.NotifyErrors,
	})
	router := gateway.NewRouter(wsHub, logger.Named("gateway"), gateway.OptionsFromConfig(cfg.Gateway), time.Now)

	srv := &http.Server{
		Addr:              cfg.App.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		logger.Info("Server Started", zap.String("addr", srv.Addr), zap.Strings("symbols", store.Symbols()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP Error", zap.Error(err))
		}
	}()

	// 6. Wait for Shutdown Signal
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	logger.Info("Shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown failed", zap.Error(err))
	}
	wsHub.Shutdown()

	cancel()
	<-updaterDone

	// 7. Flush sinks
	for _, s := range sinks {
		if err := s.Close(); err != nil {
			logger.Error("Error closing sink", zap.String("sink", s.Name()), zap.Error(err))
		}
	}
	logger.Info("Shutdown Complete")
}

// warmStart replaces seed prices with the last mirrored ones. Symbols come from the seed only.
func warmStart(ctx context.Context, logger *zap.Logger, mirror *repository.RedisMirror, seed map[string]float64) map[string]float64 {
	symbols := make([]string, 0, len(seed))
	for sym := range seed {
		symbols = append(symbols, sym)
	}

	lctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	last, err := mirror.LoadPrices(lctx, symbols)
	if err != nil {
		logger.Warn("Warm start skipped, using configured seed", zap.Error(err))
		return seed
	}

	out := make(map[string]float64, len(seed))
	for sym, p := range seed {
		out[sym] = p
		if v, ok := last[sym]; ok {
			out[sym] = v
		}
	}
	logger.Info("Warm start from redis", zap.Int("restored", len(last)))
	return out
}

func buildSinks(ctx context.Context, logger *zap.Logger, cfg *config.Config, mirror *repository.RedisMirror) ([]repository.TickSink, error) {
	var sinks []repository.TickSink
	if mirror != nil {
		sinks = append(sinks, mirror)
	}

	if cfg.Kafka.Enabled {
		if cfg.Kafka.CreateTopic {
			tc := repository.NewTopicCreator(logger.Named("kafka"), repository.NewRealKafkaDialer(), repository.RealSleeper{})
			if err := tc.Create(ctx, cfg.Kafka.Brokers, cfg.Kafka.Topic); err != nil {
				return nil, err
			}
		}
		sinks = append(sinks, repository.NewKafkaPublisher(repository.NewKafkaWriter(logger.Named("kafka"), cfg.Kafka.Brokers, cfg.Kafka.Topic)))
	}
	return sinks, nil
}

func storeOptions(cfg config.UpdaterConfig) []pricestore.Option {
	if cfg.PriceFloorEnabled {
		return []pricestore.Option{pricestore.WithFloor(cfg.PriceFloor)}
	}
	return nil
}

func updaterConfig(cfg config.UpdaterConfig) updater.Config {
	return updater.Config{
		MinStep:          cfg.MinStep,
		MaxStep:          cfg.MaxStep,
		StepScale:        cfg.StepScale,
		MinDelay:         cfg.MinDelay,
		MaxDelay:         cfg.MaxDelay,
		RestartOnFailure: cfg.RestartOnFailure,
		RestartBackoff:   cfg.RestartBackoff,
	}
}
