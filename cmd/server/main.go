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

	"golang.org/x/sync/errgroup"

	"printflow/internal/certificate/service"
	"printflow/internal/certificate/store"
	"printflow/internal/platform/config"
	"printflow/internal/platform/httpserver"
	"printflow/internal/platform/kafka"
	"printflow/internal/platform/lock"
	"printflow/internal/platform/logger"
	"printflow/internal/platform/metrics"
	"printflow/internal/platform/postgres"
	"printflow/internal/platform/redis"
	"printflow/internal/platform/sftp"
	"printflow/internal/print/dispatcher"
	"printflow/internal/print/fileprocessor"
	"printflow/internal/print/messages"
	"printflow/internal/print/photo"
	"printflow/internal/print/reconciler"
	"printflow/internal/print/scheduler"
	transporthttp "printflow/internal/transport/http"
	"printflow/pkg/identifier"
	"printflow/pkg/platform/tx"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.FromEnv()
	log := logger.New()

	db, err := postgres.Open(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	defer db.Close()

	redisClient, err := redis.New(cfg.Redis)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	if err := kafka.EnsureTopics(ctx, cfg.Kafka.Brokers,
		messages.TopicProcessBatch,
		messages.TopicResponseFile,
		messages.TopicBatchResponse,
		messages.TopicPrintResponse,
	); err != nil {
		return err
	}

	publisher, err := kafka.NewPublisher(cfg.Kafka.Brokers)
	if err != nil {
		return err
	}
	defer publisher.Close()

	sftpClient, err := sftp.Dial(cfg.SFTP)
	if err != nil {
		return err
	}
	defer sftpClient.Close()

	photos, err := photo.NewGCS(ctx, cfg.Photos)
	if err != nil {
		return err
	}
	defer photos.Close()

	idgen, err := identifier.NewGenerator()
	if err != nil {
		return err
	}

	m := metrics.New()
	certStore := store.NewPostgres(db)
	txRunner := tx.NewRunner(db)
	locker := lock.NewRedisLocker(redisClient.Client)

	sched, err := scheduler.New(certStore, txRunner, publisher, locker, idgen, log,
		scheduler.WithMetrics(m),
		scheduler.WithInterval(cfg.Scheduler.Interval),
		scheduler.WithLock(cfg.Scheduler.LockKey, cfg.Scheduler.LockTTL),
	)
	if err != nil {
		return err
	}

	disp, err := dispatcher.New(certStore, txRunner, sftpClient, photos, cfg.SFTP.InboundDir, log,
		dispatcher.WithMetrics(m))
	if err != nil {
		return err
	}

	poller, err := fileprocessor.NewPoller(sftpClient, publisher, locker, cfg.SFTP.OutboundDir, log,
		fileprocessor.WithPollInterval(cfg.Poller.Interval),
		fileprocessor.WithPollLock(cfg.Poller.LockKey, cfg.Poller.LockTTL),
	)
	if err != nil {
		return err
	}

	processor, err := fileprocessor.NewProcessor(sftpClient, publisher, log)
	if err != nil {
		return err
	}

	batchRec, err := reconciler.NewBatchReconciler(certStore, txRunner, idgen, log,
		reconciler.WithBatchMetrics(m))
	if err != nil {
		return err
	}

	responseRec, err := reconciler.NewResponseReconciler(certStore, txRunner, log,
		reconciler.WithResponseMetrics(m))
	if err != nil {
		return err
	}

	certService, err := service.New(certStore, idgen, log)
	if err != nil {
		return err
	}

	router := transporthttp.NewRouter(
		transporthttp.NewCertificateHandler(certService, log),
		map[string]transporthttp.Pinger{
			"postgres": transporthttp.PingerFunc(db.PingContext),
			"redis":    transporthttp.PingerFunc(redisClient.Health),
		},
	)
	server := httpserver.New(cfg.HTTP.Addr, router)

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error { return sched.Run(ctx) })
	group.Go(func() error { return poller.Run(ctx) })

	for topic, handler := range map[string]kafka.Handler{
		messages.TopicProcessBatch:  disp,
		messages.TopicResponseFile:  processor,
		messages.TopicBatchResponse: batchRec,
		messages.TopicPrintResponse: responseRec,
	} {
		consumer, err := kafka.NewConsumer(cfg.Kafka.Brokers,
			cfg.Kafka.GroupPrefix+"."+topic, topic, handler, log)
		if err != nil {
			return err
		}
		group.Go(func() error { return consumer.Run(ctx) })
	}

	group.Go(func() error {
		log.Info("http server listening", "addr", cfg.HTTP.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	log.Info("printflow started")
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("printflow stopped")
	return nil
}
