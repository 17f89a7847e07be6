// Package main запускает реплику сервиса живых аукционов.
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

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/mmeshcher/live-auction/internal/bus"
	"github.com/mmeshcher/live-auction/internal/config"
	"github.com/mmeshcher/live-auction/internal/dispatcher"
	"github.com/mmeshcher/live-auction/internal/handler"
	"github.com/mmeshcher/live-auction/internal/hub"
	"github.com/mmeshcher/live-auction/internal/member"
	"github.com/mmeshcher/live-auction/internal/metrics"
	"github.com/mmeshcher/live-auction/internal/middleware"
	"github.com/mmeshcher/live-auction/internal/repository"
	"github.com/mmeshcher/live-auction/internal/service"
	"github.com/mmeshcher/live-auction/internal/store"
)

const (
	hubBuffer        = 32
	presenceInterval = 30 * time.Second
	presenceTimeout  = 2 * time.Second
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	if cfg.ReplicaGroup == "" {
		cfg.ReplicaGroup = uuid.NewString()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer repo.Close()

	redisClient, err := store.Connect(ctx, cfg.RedisAddress, cfg.RedisPassword)
	if err != nil {
		sugar.Fatalw("redis initialization error", "error", err.Error())
	}
	st := store.New(redisClient, cfg.StateTTL)
	defer st.Close()

	publisher, err := bus.NewPublisher(cfg.RabbitURL, cfg.BroadcastExchange)
	if err != nil {
		sugar.Fatalw("bus publisher initialization error", "error", err.Error())
	}
	defer publisher.Close()

	consumer, err := bus.NewConsumer(bus.ConsumerConfig{
		URL:      cfg.RabbitURL,
		Exchange: cfg.BroadcastExchange,
		Queue:    "auction.replica." + cfg.ReplicaGroup,
		Keys:     bus.BroadcastTopics,
	}, logger)
	if err != nil {
		sugar.Fatalw("bus consumer initialization error", "error", err.Error())
	}
	defer consumer.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(registry)

	svc := service.NewService(repo, st, publisher, member.NewClient(cfg.MemberServiceAddress), logger, service.Options{
		ReplicaGroup:       cfg.ReplicaGroup,
		PresenceMultiplier: cfg.PresenceMultiplier,
		NoticeName:         cfg.NoticeName,
		NoticeImage:        cfg.NoticeImage,
		Recorder:           collector,
	})

	subscriptions := hub.New(hubBuffer)
	subscriptions.SetRecorder(collector)
	subscriptions.OnSessionsChanged(func(total int64) {
		recordSessions(svc, total, logger)
	})

	relay := dispatcher.New(svc, subscriptions, logger, collector)

	limiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		Rate:  rate.Limit(cfg.BidRatePerSecond),
		Burst: cfg.BidRateBurst,
	}, logger)
	defer limiter.Stop()

	h := handler.NewHandler(svc, subscriptions, limiter, logger)

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(metrics.Handler(registry)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	// Ретрансляция событий шины подписчикам реплики
	g.Go(func() error {
		sugar.Infow("starting bus consumer", "replica", cfg.ReplicaGroup)
		if err := consumer.Run(ctx, relay.Handle); err != nil {
			return fmt.Errorf("bus consumer error: %w", err)
		}
		return nil
	})

	// Периодическое обновление счётчика присутствия
	g.Go(func() error {
		ticker := time.NewTicker(presenceInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				recordSessions(svc, subscriptions.Sessions(), logger)
			}
		}
	})

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting auction server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}

func recordSessions(svc *service.Service, total int64, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()

	if err := svc.RecordSessions(ctx, total); err != nil {
		logger.Warn("record sessions error", zap.Int64("sessions", total), zap.Error(err))
	}
}
