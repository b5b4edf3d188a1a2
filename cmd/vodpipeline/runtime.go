package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/vodpipeline/internal/pipeline"
	"github.com/your-org/vodpipeline/internal/trigger"
	"github.com/your-org/vodpipeline/pkg/config"
	"github.com/your-org/vodpipeline/pkg/kafka"
	"github.com/your-org/vodpipeline/pkg/logger"
	"github.com/your-org/vodpipeline/pkg/metrics"
	"github.com/your-org/vodpipeline/pkg/storage/objectstore"
	"github.com/your-org/vodpipeline/pkg/tracing"
)

// runtime holds the process-wide dependencies shared by every stage.
type runtime struct {
	cfg      *config.Config
	logger   *zap.Logger
	metrics  *metrics.Metrics
	reporter pipeline.Reporter

	closers []func(context.Context) error
}

func newRuntime(ctx context.Context, stageName string) (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logr, err := logger.New(logger.Options{
		Level:       cfg.App.LogLevel,
		Service:     cfg.App.Name,
		Version:     cfg.App.Version,
		Environment: cfg.App.Environment,
		Stage:       stageName,
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	rt := &runtime{cfg: cfg, logger: logr, metrics: metrics.New("vodpipeline")}

	traceShutdown, err := tracing.Init(ctx, tracing.Config{
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		SampleRatio: cfg.Tracing.SampleRatio,
		Attributes:  tracing.ParseAttributes(cfg.Tracing.ResourceAttr),
		ServiceName: cfg.App.Name,
		Version:     cfg.App.Version,
		Environment: cfg.App.Environment,
		Stage:       stageName,
	})
	if err != nil {
		logr.Error("init tracing", zap.Error(err))
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	rt.closers = append(rt.closers, traceShutdown)

	reporters := pipeline.Reporters{pipeline.MetricsReporter{Metrics: rt.metrics}}
	if cfg.Kafka.FailuresTopic != "" {
		producer := kafka.NewProducer(kafka.ProducerConfig{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.FailuresTopic,
			BatchSize:    cfg.Kafka.BatchSize,
			BatchTimeout: cfg.Kafka.BatchTimeout,
			Compression:  cfg.Kafka.CompressionCodec,
			MaxAttempts:  cfg.Kafka.Retries,
		})
		reporters = append(reporters, pipeline.FailurePublisher{Publisher: producer, Logger: logr})
		rt.closers = append(rt.closers, func(context.Context) error { return producer.Close() })
	}
	rt.reporter = reporters

	return rt, nil
}

func (rt *runtime) policy() (pipeline.Policy, error) {
	return pipeline.ParsePolicy(rt.cfg.Pipeline.FailurePolicy)
}

func (rt *runtime) objectStore() (objectstore.Client, error) {
	store, err := objectstore.New(objectstore.Config{
		Provider:  rt.cfg.Storage.Provider,
		Endpoint:  rt.cfg.Storage.Endpoint,
		Region:    rt.cfg.Storage.Region,
		AccessKey: rt.cfg.Storage.AccessKey,
		SecretKey: rt.cfg.Storage.SecretKey,
		UseSSL:    rt.cfg.Storage.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init object store: %w", err)
	}
	rt.closers = append(rt.closers, func(context.Context) error { return store.Close() })
	return store, nil
}

// close releases resources in reverse order of acquisition.
func (rt *runtime) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](ctx); err != nil {
			rt.logger.Warn("shutdown step failed", zap.Error(err))
		}
	}
	_ = rt.logger.Sync()
}

func (rt *runtime) serve(ctx context.Context, mode string, h trigger.PayloadHandler, topic string) error {
	timeout := rt.cfg.Pipeline.HandlerTimeout
	switch mode {
	case triggerLambda:
		rt.logger.Info("starting lambda handler")
		trigger.StartLambda(h, rt.logger)
		return nil

	case triggerHTTP:
		handler := trigger.NewHTTPHandler(trigger.HTTPOptions{
			Handler:      h,
			Logger:       rt.logger,
			MaxBodyBytes: rt.cfg.HTTP.MaxBodyBytes,
			Timeout:      timeout,
			Metrics:      rt.metrics.Handler(),
		})
		return rt.listen(ctx, rt.cfg.HTTP.Addr, handler.Router())

	default:
		ops := trigger.NewHTTPHandler(trigger.HTTPOptions{Logger: rt.logger, Metrics: rt.metrics.Handler()})
		consumer := kafka.NewConsumer(kafka.ConsumerConfig{
			Brokers:  rt.cfg.Kafka.Brokers,
			GroupID:  rt.cfg.Kafka.GroupID,
			Topic:    topic,
			MinBytes: rt.cfg.Kafka.MinBytes,
			MaxBytes: rt.cfg.Kafka.MaxBytes,
			MaxWait:  rt.cfg.Kafka.MaxWait,
		})
		defer consumer.Close() //nolint:errcheck

		rt.logger.Info("consuming", zap.String("topic", topic), zap.String("group", rt.cfg.Kafka.GroupID))
		return runAlongside(ctx, rt.logger,
			func(ctx context.Context) error { return rt.listen(ctx, rt.cfg.Metrics.Addr, ops.Router()) },
			func(ctx context.Context) error { return trigger.RunKafka(ctx, consumer, h, timeout, rt.logger) },
		)
	}
}

// runAlongside runs consume while listen serves the ops routes. Whichever
// fails first cancels the other, and its error is returned.
func runAlongside(ctx context.Context, logr *zap.Logger, listen, consume func(context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	listenErr := make(chan error, 1)
	go func() {
		err := listen(ctx)
		if err != nil {
			logr.Error("ops listener stopped", zap.Error(err))
			cancel()
		}
		listenErr <- err
	}()

	consumeErr := consume(ctx)
	cancel()
	if err := <-listenErr; err != nil {
		return err
	}
	return consumeErr
}

// listen serves until ctx is cancelled, then drains in-flight requests.
func (rt *runtime) listen(ctx context.Context, addr string, handler http.Handler) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  rt.cfg.HTTP.ReadTimeout,
		WriteTimeout: rt.cfg.HTTP.WriteTimeout,
		IdleTimeout:  rt.cfg.HTTP.IdleTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			rt.logger.Error("http server shutdown failed", zap.Error(err))
		}
	}()

	rt.logger.Info("http server starting", zap.String("addr", addr))
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}
