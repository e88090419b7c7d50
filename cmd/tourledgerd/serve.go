package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/tourledger/internal/config"
	"github.com/MarkoPoloResearchLab/tourledger/internal/grpcserver"
	"github.com/MarkoPoloResearchLab/tourledger/internal/httpapi"
	"github.com/MarkoPoloResearchLab/tourledger/internal/logging"
	"github.com/MarkoPoloResearchLab/tourledger/internal/notify"
	"github.com/MarkoPoloResearchLab/tourledger/internal/reconcile"
	"github.com/MarkoPoloResearchLab/tourledger/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/tourledger/pkg/ledger"
	"github.com/MarkoPoloResearchLab/tourledger/pkg/notification"
	"github.com/MarkoPoloResearchLab/tourledger/pkg/problem"
	"github.com/MarkoPoloResearchLab/tourledger/pkg/purchase"
	"github.com/MarkoPoloResearchLab/tourledger/pkg/replacement"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

const defaultRecipientDomain = "tourists.invalid"

func runServe(ctx context.Context, cfg *config.Config) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	gormDB, cleanup, driver, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer func() { _ = cleanup() }()
	if err := prepareSchema(gormDB); err != nil {
		return err
	}
	logger.Info("database ready", zap.String("driver", driver))

	sender, closeSender, err := buildSender(cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = closeSender() }()

	clock := func() time.Time { return time.Now().UTC() }
	catalogStore := gormstore.NewCatalogStore(gormDB)
	purchaseStore := gormstore.NewPurchaseStore(gormDB)

	bonus, err := ledger.NewService(gormstore.NewLedgerStore(gormDB), clock,
		ledger.WithOperationLogger(logging.NewZapOperationLogger(logger.Named("ledger"))))
	if err != nil {
		return fmt.Errorf("ledger service init: %w", err)
	}
	dispatcher := notification.NewAsyncDispatcher(logger.Named("dispatcher"), 0)
	defer dispatcher.Wait()
	purchases, err := purchase.NewService(purchaseStore, catalogStore, gormstore.NewCartStore(gormDB), bonus, sender, clock,
		purchase.WithLogger(logger.Named("purchase")),
		purchase.WithDispatcher(dispatcher),
	)
	if err != nil {
		return fmt.Errorf("purchase service init: %w", err)
	}
	problems, err := problem.NewService(gormstore.NewProblemStore(gormDB), catalogStore, purchaseStore, clock,
		problem.WithLogger(logger.Named("problem")))
	if err != nil {
		return fmt.Errorf("problem service init: %w", err)
	}
	replacements, err := replacement.NewService(gormstore.NewReplacementStore(gormDB), catalogStore, clock,
		replacement.WithLogger(logger.Named("replacement")))
	if err != nil {
		return fmt.Errorf("replacement service init: %w", err)
	}

	metrics := reconcile.NewMetrics(prometheus.DefaultRegisterer)
	workerLogger := logger.Named("reconcile")
	reminders, err := reconcile.NewReminderWorker(catalogStore, purchaseStore, sender,
		reconcile.WithLogger(workerLogger), reconcile.WithMetrics(metrics))
	if err != nil {
		return fmt.Errorf("reminder worker init: %w", err)
	}
	expiry, err := reconcile.NewExpiryWorker(replacements, catalogStore, purchaseStore, bonus, sender,
		reconcile.WithLogger(workerLogger), reconcile.WithMetrics(metrics))
	if err != nil {
		return fmt.Errorf("expiry worker init: %w", err)
	}

	healthState := grpcserver.NewHealth([]string{reconcile.JobReminders, reconcile.JobExpiry}, logger.Named("health"))
	schedulerOptions := []reconcile.SchedulerOption{
		reconcile.WithSchedulerLogger(workerLogger),
		reconcile.WithSchedulerMetrics(metrics),
		reconcile.WithStateListener(healthState.SetJobState),
		reconcile.WithClock(clock),
	}
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer func() { _ = redisClient.Close() }()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		lease, err := reconcile.NewRedisLease(redisClient, "")
		if err != nil {
			return err
		}
		schedulerOptions = append(schedulerOptions, reconcile.WithLease(lease))
		logger.Info("job lease shared through redis", zap.String("redis_addr", cfg.RedisAddr))
	}
	scheduler, err := reconcile.NewScheduler([]reconcile.Job{
		reminders.Job(cfg.ReminderInterval),
		expiry.Job(cfg.ExpiryInterval),
	}, schedulerOptions...)
	if err != nil {
		return fmt.Errorf("scheduler init: %w", err)
	}

	session, err := httpapi.NewSessionMiddleware(cfg.SessionSigningKey, cfg.SessionIssuer, cfg.SessionCookieName)
	if err != nil {
		return err
	}
	router, err := httpapi.NewRouter(httpapi.RouterConfig{
		AllowedOrigins: cfg.AllowedOrigins,
		Gatherer:       prometheus.DefaultGatherer,
	}, httpapi.Services{
		Bonus:        bonus,
		Purchases:    purchases,
		Problems:     problems,
		Replacements: replacements,
	}, session, logger.Named("http"))
	if err != nil {
		return err
	}

	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(grpcserver.UnaryErrorInterceptor(logger.Named("grpc"))))
	healthState.Register(grpcServer)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	scheduler.Start(runCtx)
	healthState.MarkServing()

	errCh := make(chan error, 2)
	go func() {
		errCh <- httpapi.Serve(runCtx, cfg.HTTPListenAddr, router, logger)
	}()
	go func() {
		errCh <- grpcserver.Serve(runCtx, cfg.GRPCListenAddr, grpcServer, logger)
	}()

	var serveErr error
	pending := 2
	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case serveErr = <-errCh:
		pending--
		logger.Error("server exited", zap.Error(serveErr))
	}
	healthState.Shutdown()
	cancel()
	scheduler.Stop()
	for ; pending > 0; pending-- {
		if err := <-errCh; err != nil && serveErr == nil {
			serveErr = err
		}
	}
	return serveErr
}

func buildSender(cfg *config.Config, logger *zap.Logger) (notification.Sender, func() error, error) {
	noop := func() error { return nil }
	domain := cfg.RecipientDomain
	if domain == "" {
		domain = defaultRecipientDomain
	}
	directory := notify.PatternDirectory{Domain: domain}
	switch cfg.NotificationTransport {
	case config.TransportAMQP:
		publisher, err := notify.DialAMQPPublisher(cfg.AMQPURL, cfg.AMQPQueue)
		if err != nil {
			return nil, nil, fmt.Errorf("amqp publisher: %w", err)
		}
		return publisher, publisher.Close, nil
	case config.TransportSMTP:
		transport, err := notify.NewSMTPTransport(smtpConfig(cfg), logger.Named("smtp"))
		if err != nil {
			return nil, nil, err
		}
		mailer, err := notify.NewMailer(directory, transport, logger.Named("mailer"))
		if err != nil {
			return nil, nil, err
		}
		return mailer, noop, nil
	case config.TransportLog:
		mailer, err := notify.NewMailer(directory, notify.NewLogTransport(logger.Named("mail")), logger.Named("mailer"))
		if err != nil {
			return nil, nil, err
		}
		return mailer, noop, nil
	default:
		return nil, nil, fmt.Errorf("%w: unknown notification transport %q", config.ErrInvalidConfig, cfg.NotificationTransport)
	}
}

func smtpConfig(cfg *config.Config) notify.SMTPConfig {
	return notify.SMTPConfig{
		Host:             cfg.SMTPHost,
		Port:             cfg.SMTPPort,
		Username:         cfg.SMTPUsername,
		Password:         cfg.SMTPPassword,
		From:             cfg.SMTPFrom,
		AllowedRecipient: cfg.AllowedRecipient,
	}
}

func runRelay(ctx context.Context, cfg *config.Config) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	transport, err := notify.NewSMTPTransport(smtpConfig(cfg), logger.Named("smtp"))
	if err != nil {
		return err
	}
	mailer, err := notify.NewMailer(notify.PatternDirectory{Domain: cfg.RecipientDomain}, transport, logger.Named("mailer"))
	if err != nil {
		return err
	}
	relay, err := notify.NewRelay(cfg.AMQPURL, cfg.AMQPQueue, mailer, logger.Named("relay"))
	if err != nil {
		return err
	}
	logger.Info("mail relay starting", zap.String("queue", cfg.AMQPQueue))
	if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
