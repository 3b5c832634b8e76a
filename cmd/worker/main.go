package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fiapx/fiapx-annotation-service/internal/bootstrap"
	"github.com/fiapx/fiapx-annotation-service/internal/domain/entity"
	"github.com/fiapx/fiapx-annotation-service/internal/infra/config"
	"github.com/fiapx/fiapx-annotation-service/internal/infra/email"
	"github.com/fiapx/fiapx-annotation-service/internal/infra/metrics"
	miniostorage "github.com/fiapx/fiapx-annotation-service/internal/infra/minio"
	"github.com/fiapx/fiapx-annotation-service/internal/infra/rabbitmq"
	"github.com/fiapx/fiapx-annotation-service/internal/infra/tracing"
	"github.com/fiapx/fiapx-annotation-service/internal/usecase"
	"github.com/fiapx/fiapx-annotation-service/pkg/logger"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	fatalOnErr(err, "load config")

	log, err := logger.New(cfg.LogLevel)
	fatalOnErr(err, "init logger")
	defer log.Sync()

	log.Info("starting fiapx-annotation-worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Tracing (non-fatal if Jaeger unavailable)
	tp, err := tracing.Setup(ctx, tracing.Options{
		Endpoint:    cfg.JaegerEndpoint,
		ServiceName: "fiapx-annotation-worker",
		SampleRatio: cfg.TracingSampleRatio,
	})
	if err != nil {
		log.Warn("tracing init failed, continuing without tracing", zap.Error(err))
	} else {
		defer tp.Shutdown(ctx)
	}

	defaultRes, err := entity.ParseResolution(cfg.DefaultResolution)
	fatalOnErr(err, "parse DEFAULT_RESOLUTION")
	limits, err := cfg.OutputLimits()
	fatalOnErr(err, "parse output limits")

	// Record store, detector and encoder
	rt, err := bootstrap.Build(ctx, cfg, log)
	fatalOnErr(err, "build annotation session")
	defer rt.Close()

	// MinIO
	storage, err := miniostorage.NewStorage(miniostorage.StorageConfig{
		Endpoint:      cfg.MinIOEndpoint,
		AccessKey:     cfg.MinIOAccessKey,
		SecretKey:     cfg.MinIOSecretKey,
		UseSSL:        cfg.MinIOUseSSL,
		UploadBucket:  cfg.MinIOUploadBucket,
		ExportsBucket: cfg.MinIOExportsBucket,
	})
	fatalOnErr(err, "create minio storage")
	fatalOnErr(storage.EnsureBuckets(ctx), "ensure minio buckets")

	// RabbitMQ publisher connection
	rmqConn, err := amqp.Dial(cfg.RabbitMQURL)
	fatalOnErr(err, "connect to rabbitmq for publisher")
	defer rmqConn.Close()

	pub, err := rabbitmq.NewPublisher(rmqConn, cfg.RabbitMQExchange)
	fatalOnErr(err, "create rabbitmq publisher")

	statusPub := rabbitmq.NewStatusPublisher(pub)
	dlqPub := rabbitmq.NewDLQPublisher(pub, cfg.RabbitMQDLQ)
	notifier := email.NewSMTPNotifier(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPFrom, log)

	uc := usecase.NewProcessAnnotationUseCase(
		rt.Session, storage,
		statusPub, dlqPub, notifier,
		log,
		usecase.ProcessAnnotationConfig{
			TempDir:           cfg.TempDir,
			DefaultResolution: defaultRes,
			DefaultFPS:        cfg.DefaultFPS,
			Limits:            limits,
			ClipContentType:   rt.Encoder.ContentType(),
		},
	)

	metricsSrv := metrics.NewServer(ctx, cfg.MetricsPort, log,
		metrics.ReadinessCheck{Name: "rabbitmq", Check: func(context.Context) error {
			if rmqConn.IsClosed() {
				return errors.New("publisher connection closed")
			}
			return nil
		}},
		metrics.ReadinessCheck{Name: "minio", Check: storage.Ready},
		metrics.ReadinessCheck{Name: "store", Check: func(ctx context.Context) error {
			_, err := rt.Session.List(ctx)
			return err
		}},
	)
	metricsSrv.Start()

	consumer, err := rabbitmq.NewConsumer(rabbitmq.ConsumerConfig{
		URL:         cfg.RabbitMQURL,
		Queue:       cfg.RabbitMQRequestQueue,
		Exchange:    cfg.RabbitMQExchange,
		DLQ:         cfg.RabbitMQDLQ,
		StatusQueue: cfg.RabbitMQStatusQueue,
		Prefetch:    cfg.RabbitMQPrefetch,
	}, uc.Execute, log)
	fatalOnErr(err, "create consumer")

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Info("received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	}()

	log.Info("fiapx-annotation-worker started, consuming messages")

	if err := consumer.Start(ctx); err != nil {
		log.Error("consumer error", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsSrv.Shutdown(shutdownCtx)

	consumer.Close()
	log.Info("fiapx-annotation-worker stopped")
}

func fatalOnErr(err error, msg string) {
	if err != nil {
		panic(msg + ": " + err.Error())
	}
}
