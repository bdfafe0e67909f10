package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/prudhivi99/Distributed-Systems/shopsaga/internal/app"
	"github.com/prudhivi99/Distributed-Systems/shopsaga/internal/cache"
	"github.com/prudhivi99/Distributed-Systems/shopsaga/internal/config"
	"github.com/prudhivi99/Distributed-Systems/shopsaga/internal/db"
	"github.com/prudhivi99/Distributed-Systems/shopsaga/internal/discovery"
	"github.com/prudhivi99/Distributed-Systems/shopsaga/internal/logger"
	"github.com/prudhivi99/Distributed-Systems/shopsaga/internal/messaging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("shop service failed", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	database, err := db.NewPostgresDB(cfg.Postgres)
	if err != nil {
		return err
	}
	defer database.Close()
	log.Info("connected to postgres", zap.String("host", cfg.Postgres.Host), zap.String("db", cfg.Postgres.DBName))

	if cfg.Postgres.AutoMigrate {
		if err := database.Migrate(ctx); err != nil {
			return err
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	infra := app.Infra{Registerer: reg, Gatherer: reg}

	if cfg.Redis.Enabled {
		redisCache, err := cache.NewRedisCache(ctx, cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.TTL)
		if err != nil {
			return err
		}
		defer redisCache.Close()
		infra.Cache = redisCache
		log.Info("product cache enabled", zap.Duration("ttl", cfg.Redis.TTL))
	}

	if cfg.RabbitMQ.Enabled {
		mq, err := messaging.NewRabbitMQ(cfg.RabbitMQ.Host, cfg.RabbitMQ.Port, cfg.RabbitMQ.User, cfg.RabbitMQ.Password)
		if err != nil {
			return err
		}
		defer mq.Close()
		if err := mq.DeclareQueue(cfg.RabbitMQ.Queue); err != nil {
			return err
		}
		infra.Broker = mq
		log.Info("event relay enabled", zap.String("queue", cfg.RabbitMQ.Queue))
	}

	shop, err := app.New(cfg, database, infra, log)
	if err != nil {
		return err
	}

	if cfg.Consul.Enabled {
		consul, err := discovery.NewConsulClient(cfg.Consul.Host, cfg.Consul.Port, log.Named("consul"))
		if err != nil {
			return err
		}
		err = consul.Register(discovery.ServiceConfig{
			Name: cfg.ServiceName,
			ID:   cfg.ServiceID,
			Port: cfg.Port,
			Tags: []string{"shop", "saga"},
		})
		if err != nil {
			return err
		}
		defer func() {
			if err := consul.Deregister(cfg.ServiceID); err != nil {
				log.Warn("consul deregistration failed", zap.Error(err))
			}
		}()
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           shop.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return shop.Dispatcher.Run(gctx)
	})
	g.Go(func() error {
		log.Info("shop service starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down shop service")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("shop service stopped gracefully")
	return nil
}
