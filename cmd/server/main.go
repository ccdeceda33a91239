package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"corebank/internal/audit"
	"corebank/internal/config"
	"corebank/internal/handler"
	"corebank/internal/infrastructure/cache"
	"corebank/internal/infrastructure/database"
	"corebank/internal/infrastructure/lock"
	"corebank/internal/infrastructure/mq"
	"corebank/internal/job"
	"corebank/internal/repository"
	"corebank/internal/repository/memory"
	"corebank/internal/service"
	"corebank/pkg/idgen"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config file")
	flag.Parse()

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logrus.Fatalf("load config: %v", err)
	}
	if err := idgen.Init(cfg.Server.WorkerID); err != nil {
		logrus.Fatalf("id generator: %v", err)
	}

	store, err := openStore(cfg)
	if err != nil {
		logrus.Fatalf("open store: %v", err)
	}

	var (
		redisClient  *redis.Client
		accountCache service.AccountCache
	)
	if cfg.Redis.Enabled {
		redisClient, err = cache.InitRedis(&cfg.Redis)
		if err != nil {
			logrus.Fatalf("redis: %v", err)
		}
		defer redisClient.Close()
		accountCache = cache.NewAccountCache(redisClient, cfg.Redis.CacheTTL)
	}

	publisher, err := openPublisher(&cfg.Notify)
	if err != nil {
		logrus.Fatalf("publisher: %v", err)
	}
	defer publisher.Close()

	policy, err := service.NewPolicy(cfg.Ledger)
	if err != nil {
		logrus.Fatalf("ledger policy: %v", err)
	}

	codeService := service.NewCodeService(store, cfg.Codes)
	ledgerOpts := []service.LedgerOption{service.WithTopic(cfg.Notify.Topic)}
	if accountCache != nil {
		ledgerOpts = append(ledgerOpts, service.WithCache(accountCache))
	}
	if cfg.Ledger.DistributedLock {
		if redisClient == nil {
			logrus.Fatal("ledger.distributed_lock needs redis.enabled")
		}
		ledgerOpts = append(ledgerOpts, service.WithLocker(lock.NewAccountLocker(redisClient, cfg.Storage.LockTimeout)))
	}
	ledgerService := service.NewLedgerService(store, policy, codeService, ledgerOpts...)
	accountService := service.NewAccountService(store, accountCache)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	outboxSender := job.NewOutboxSender(store, publisher, cfg.Jobs)
	go outboxSender.Start(ctx)

	reconcileJob := job.NewReconcileJob(store, cfg.Jobs.ReconcileInterval)
	go reconcileJob.Start(ctx)

	h := handler.NewHandler(accountService, ledgerService, codeService, audit.NewLogrusLogger(os.Stdout))
	router := handler.SetupRouter(h, cfg.Auth.JWTSecret, cfg.Server.Mode)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logrus.WithField("port", cfg.Server.Port).Info("http server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Fatalf("http server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Error("http shutdown")
	}
	logrus.Info("server stopped")
}

func openStore(cfg *config.Config) (repository.Store, error) {
	switch cfg.Storage.Driver {
	case "memory":
		logrus.Warn("using the in-memory store, data is lost on exit")
		return memory.NewStore(cfg.Storage.LockTimeout), nil
	default:
		db, err := database.InitMySQL(&cfg.MySQL)
		if err != nil {
			return nil, err
		}
		return repository.NewGormStore(db, cfg.Storage.LockTimeout), nil
	}
}

func openPublisher(cfg *config.NotifyConfig) (mq.Publisher, error) {
	switch cfg.Provider {
	case "kafka":
		return mq.NewKafkaPublisher(&cfg.Kafka)
	case "nats":
		return mq.NewNATSPublisher(&cfg.NATS)
	default:
		return mq.NewLogPublisher(), nil
	}
}
