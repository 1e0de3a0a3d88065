package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/kaggleboard/backend/assetcache"
	"github.com/kaggleboard/backend/challenge"
	"github.com/kaggleboard/backend/conf"
	"github.com/kaggleboard/backend/evalqueue"
	"github.com/kaggleboard/backend/evalrunner"
	"github.com/kaggleboard/backend/leaderboard"
	"github.com/kaggleboard/backend/s3bucket"
	"github.com/kaggleboard/backend/submission"
	"github.com/kaggleboard/backend/worker"
	"github.com/lmittmann/tint"
	"github.com/nats-io/nats.go"
	"github.com/pelletier/go-toml/v2"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

// workerConfig is the TOML file the worker reads for everything that is not
// a secret; secrets stay in the environment.
type workerConfig struct {
	CacheDir    string `toml:"cache_dir"`
	Concurrency int    `toml:"concurrency"`

	// Queue selects the broker: "sqs" in production, "nats" for local dev.
	Queue struct {
		Backend string `toml:"backend"`
		NatsURL string `toml:"nats_url"`
		Stream  string `toml:"stream"`
		Subject string `toml:"subject"`
	} `toml:"queue"`
}

func defaultConfig() workerConfig {
	cfg := workerConfig{
		CacheDir:    "/var/cache/kaggleboard-worker",
		Concurrency: 2,
	}
	cfg.Queue.Backend = "sqs"
	cfg.Queue.NatsURL = nats.DefaultURL
	cfg.Queue.Stream = "SUBMISSIONS"
	cfg.Queue.Subject = "submissions.evaluate"
	return cfg
}

func loadConfig(path string) (workerConfig, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

func main() {
	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level: slog.LevelDebug,
	})))

	cmd := &cli.Command{
		Name:  "evalworker",
		Usage: "consume submission evaluation messages and score them",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to the worker TOML config",
			},
		},
		Action: run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("worker exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	// .env is a local dev convenience; production sets real env vars.
	_ = godotenv.Load()

	cfg, err := loadConfig(cmd.String("config"))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, conf.GetPgConnStrFromEnv())
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	defer pool.Close()

	queue, err := buildQueue(ctx, cfg)
	if err != nil {
		return err
	}

	blobs, err := s3bucket.NewS3Bucket(conf.GetAwsRegionFromEnv(), conf.GetArtifactS3BucketFromEnv())
	if err != nil {
		return fmt.Errorf("failed to init artifact bucket: %w", err)
	}

	download := worker.NewHTTPDownloadFunc(nil)
	cache, err := assetcache.New(cfg.CacheDir, download)
	if err != nil {
		return fmt.Errorf("failed to init asset cache: %w", err)
	}

	challenges := challenge.NewPgRepo(pool)
	subs := submission.NewPgRepo(pool)
	store := leaderboard.NewPgStore(pool)
	runner := evalrunner.NewRunner(subs, blobs, leaderboard.NewUpdater(store))
	submSrvc := submission.NewSrvc(challenges, subs, queue, blobs)

	wrk := worker.New(subs, challenges, cache, runner,
		conf.GetBlobResolverFromEnv(), download, submSrvc)

	slog.Info("worker starting",
		"concurrency", cfg.Concurrency,
		"queue_backend", cfg.Queue.Backend,
		"cache_dir", cfg.CacheDir)

	group, ctx := errgroup.WithContext(ctx)
	for i := 0; i < cfg.Concurrency; i++ {
		group.Go(func() error {
			return queue.Consume(ctx, wrk.Handle)
		})
	}
	err = group.Wait()
	if ctx.Err() != nil {
		slog.Info("worker stopped on signal")
		return nil
	}
	return err
}

func buildQueue(ctx context.Context, cfg workerConfig) (evalqueue.Queue, error) {
	switch cfg.Queue.Backend {
	case "sqs":
		awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(conf.GetAwsRegionFromEnv()))
		if err != nil {
			return nil, fmt.Errorf("failed to load aws config: %w", err)
		}
		var poison evalqueue.PoisonArchive = evalqueue.NopPoisonArchive{}
		if table := conf.GetPoisonDynamoTableFromEnv(); table != "" {
			poison = evalqueue.NewDynamoPoisonArchive(awsCfg, table)
		}
		return evalqueue.NewSqsQueue(sqs.NewFromConfig(awsCfg), conf.GetSubmSqsUrlFromEnv(), poison), nil
	case "nats":
		nc, err := nats.Connect(cfg.Queue.NatsURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to nats: %w", err)
		}
		return evalqueue.NewNatsQueue(nc, cfg.Queue.Stream, cfg.Queue.Subject, evalqueue.NopPoisonArchive{})
	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.Queue.Backend)
	}
}
