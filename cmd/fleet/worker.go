package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"

	"github.com/supercheck-io/fleet/aggregate"
	"github.com/supercheck-io/fleet/cancel"
	"github.com/supercheck-io/fleet/config"
	"github.com/supercheck-io/fleet/container"
	"github.com/supercheck-io/fleet/k6"
	"github.com/supercheck-io/fleet/livelog"
	"github.com/supercheck-io/fleet/log"
	"github.com/supercheck-io/fleet/metrics"
	"github.com/supercheck-io/fleet/probe"
	"github.com/supercheck-io/fleet/queue"
	"github.com/supercheck-io/fleet/store"
	"github.com/supercheck-io/fleet/upload"
	"github.com/supercheck-io/fleet/worker"
)

func workerCommand() *cli.Command {
	return &cli.Command{
		Name:  "worker",
		Usage: "Run the regional worker loop",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "Path to fleet.yaml",
				Value: "fleet.yaml",
			},
		},
		Action: runWorker,
	}
}

// runWorker wires the process leaves-first: config, logger, shared clients,
// stores, runners, handlers, then the consumer loops. It blocks until a
// shutdown signal arrives and the consumers have drained.
func runWorker(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("load config: %v", err), 1)
	}

	logger := log.NewLogger(cfg.WorkerLocation)
	collector := metrics.NewCollector(cfg.WorkerLocation)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisOpts, err := goredis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid redis url: %v", err), 1)
	}
	redisClient := goredis.NewClient(redisOpts)
	defer redisClient.Close()
	pingCtx, cancelPing := context.WithTimeout(ctx, 10*time.Second)
	err = redisClient.Ping(pingCtx).Err()
	cancelPing()
	if err != nil {
		return cli.Exit(fmt.Sprintf("redis unreachable: %v", err), 1)
	}

	db, err := store.Open(ctx, cfg.Database.URL, logger)
	if err != nil {
		return cli.Exit(fmt.Sprintf("database: %v", err), 1)
	}
	defer db.Close()

	cancels := cancel.NewWithClient(redisClient)
	liveLogs := livelog.NewWithClient(redisClient)

	var artifacts k6.ArtifactStore
	if cfg.Storage.Bucket != "" {
		uploader, err := upload.New(ctx, upload.Config{
			Bucket:        cfg.Storage.Bucket,
			Prefix:        cfg.Storage.Prefix,
			Region:        cfg.Storage.Region,
			Endpoint:      cfg.Storage.Endpoint,
			UsePathStyle:  cfg.Storage.S3PathStyle,
			PublicBaseURL: cfg.Storage.PublicBaseURL,
		}, logger)
		if err != nil {
			return cli.Exit(fmt.Sprintf("artifact storage: %v", err), 1)
		}
		artifacts = uploader
	} else {
		logger.Warn("no artifact bucket configured, reports stay local", nil)
	}

	executor := container.NewExecutor(container.ExecutorConfig{
		Engine:             cfg.Container.Engine,
		SeccompProfilePath: cfg.Container.SeccompProfilePath,
		User:               cfg.Container.User,
		Cancellations:      cancels,
		Logger:             logger,
		Collector:          collector,
	})

	k6Runner := k6.NewRunner(k6.RunnerConfig{
		Executor:      executor,
		Store:         artifacts,
		LiveLogs:      liveLogSource{liveLogs},
		Ports:         k6.NewPortPool(cfg.K6.DashboardStartPort, cfg.K6.DashboardPortRange, cfg.K6.DashboardAddr),
		Logger:        logger,
		Collector:     collector,
		Image:         cfg.Container.Image,
		DashboardAddr: cfg.K6.DashboardAddr,
		MaxAttempts:   cfg.K6.MaxDashboardAttempts,
	})

	prober := probe.New(probe.Config{
		Logger:               logger,
		Metrics:              collector,
		AllowInternalTargets: cfg.Probe.AllowInternalTargets,
		MaxResponseMB:        cfg.Probe.MaxResponseMB,
	})

	gate := aggregate.NewGate(nil, db, redisClient, logger, collector)
	aggregator := aggregate.New(db, db, aggregate.NewBarrier(redisClient), gate, logger, collector)

	monitors := worker.NewMonitorHandler(worker.MonitorHandlerConfig{
		Prober:          prober,
		Results:         aggregator,
		WorkerLocation:  cfg.WorkerLocation,
		FilterLocations: cfg.EnableLocationFiltering,
		Logger:          logger,
	})
	jobs := worker.NewJobHandler(worker.JobHandlerConfig{
		Runs:            db,
		Perf:            db,
		Cancels:         cancels,
		K6:              k6Runner,
		WorkerLocation:  cfg.WorkerLocation,
		FilterLocations: cfg.EnableLocationFiltering,
		Logger:          logger,
		Collector:       collector,
	})

	w := worker.New(worker.Config{
		Broker:                queue.NewBroker(redisClient),
		WorkerLocation:        cfg.WorkerLocation,
		Monitors:              monitors,
		Jobs:                  jobs,
		Logger:                logger,
		MonitorConcurrency:    cfg.Queues.MonitorConcurrency,
		PlaywrightConcurrency: cfg.Queues.PlaywrightConcurrency,
	})
	w.Start(ctx)

	<-ctx.Done()
	logger.Info("shutdown signal received, draining", nil)
	w.Wait()
	logger.Info("worker stopped", nil)
	return nil
}

// liveLogSource adapts the publisher's concrete sink to the runner's
// io.Writer interface.
type liveLogSource struct {
	publisher *livelog.Publisher
}

func (s liveLogSource) NewSink(ctx context.Context, runID string, onError func(error)) io.Writer {
	return s.publisher.NewSink(ctx, runID, onError)
}
