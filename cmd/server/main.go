package main

import (
	"context"
	"log"
	"log/slog"
	"os"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/kaggleboard/backend/challenge"
	"github.com/kaggleboard/backend/conf"
	"github.com/kaggleboard/backend/evalqueue"
	"github.com/kaggleboard/backend/http"
	"github.com/kaggleboard/backend/leaderboard"
	"github.com/kaggleboard/backend/s3bucket"
	"github.com/kaggleboard/backend/submission"
)

func main() {
	err := godotenv.Load()
	if err != nil {
		panic("Error loading .env file")
	}

	ctx := context.Background()

	pool, err := pgxpool.New(ctx, conf.GetPgConnStrFromEnv())
	if err != nil {
		slog.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(conf.GetAwsRegionFromEnv()))
	if err != nil {
		slog.Error("failed to load aws config", "error", err)
		os.Exit(1)
	}

	var poison evalqueue.PoisonArchive = evalqueue.NopPoisonArchive{}
	if table := conf.GetPoisonDynamoTableFromEnv(); table != "" {
		poison = evalqueue.NewDynamoPoisonArchive(awsCfg, table)
	}
	queue := evalqueue.NewSqsQueue(sqs.NewFromConfig(awsCfg), conf.GetSubmSqsUrlFromEnv(), poison)

	blobs, err := s3bucket.NewS3Bucket(conf.GetAwsRegionFromEnv(), conf.GetArtifactS3BucketFromEnv())
	if err != nil {
		slog.Error("failed to init artifact bucket", "error", err)
		os.Exit(1)
	}

	challenges := challenge.NewPgRepo(pool)
	subs := submission.NewPgRepo(pool)
	submSrvc := submission.NewSrvc(challenges, subs, queue, blobs)

	store := leaderboard.NewPgStore(pool)
	boardSrvc := leaderboard.NewSrvc(challenges, store)
	board := leaderboard.NewUpdater(store)

	httpServer := http.NewHttpServer(
		submSrvc, boardSrvc, board,
		subs, challenges,
		conf.GetBlobResolverFromEnv(),
		blobs,
		conf.GetHostTokenHashFromEnv(),
		conf.GetJwtKeyFromEnv(),
	)

	address := ":8080"
	log.Printf("Starting server on %s", address)
	err = httpServer.Start(address)
	log.Printf("Server stopped with error: %v", err)
}
