// seedq re-publishes evaluation messages for submissions stuck in SUBMITTED,
// which happens when the queue publish failed after the row was durable.
// Operators run it by hand or from cron.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/fatih/color"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/kaggleboard/backend/challenge"
	"github.com/kaggleboard/backend/conf"
	"github.com/kaggleboard/backend/evalqueue"
	"github.com/kaggleboard/backend/s3bucket"
	"github.com/kaggleboard/backend/submission"
)

func main() {
	_ = godotenv.Load()

	olderThan := flag.Duration("older-than", 15*time.Minute,
		"re-publish SUBMITTED submissions older than this")
	dryRun := flag.Bool("dry-run", false, "list stuck submissions without publishing")
	flag.Parse()

	ctx := context.Background()

	pool, err := pgxpool.New(ctx, conf.GetPgConnStrFromEnv())
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()

	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(conf.GetAwsRegionFromEnv()))
	if err != nil {
		log.Fatalf("failed to load aws config: %v", err)
	}
	queue := evalqueue.NewSqsQueue(sqs.NewFromConfig(awsCfg),
		conf.GetSubmSqsUrlFromEnv(), evalqueue.NopPoisonArchive{})

	blobs, err := s3bucket.NewS3Bucket(conf.GetAwsRegionFromEnv(), conf.GetArtifactS3BucketFromEnv())
	if err != nil {
		log.Fatalf("failed to init artifact bucket: %v", err)
	}

	subs := submission.NewPgRepo(pool)
	srvc := submission.NewSrvc(challenge.NewPgRepo(pool), subs, queue, blobs)

	if *dryRun {
		stuck, err := subs.ListStuckSubmitted(ctx, time.Now().Add(-*olderThan))
		if err != nil {
			log.Fatalf("failed to list stuck submissions: %v", err)
		}
		if len(stuck) == 0 {
			color.Green("no stuck submissions older than %s", *olderThan)
			return
		}
		color.Yellow("%d stuck submission(s):", len(stuck))
		for _, s := range stuck {
			color.Yellow("  submission %d (challenge %d, phase %d) submitted %s",
				s.ID, s.ChallengeID, s.PhaseID, s.SubmittedAt.Format(time.RFC3339))
		}
		return
	}

	requeued, err := srvc.RequeueStuck(ctx, *olderThan)
	if err != nil {
		color.Red("requeue failed: %v", err)
		log.Fatal(err)
	}
	if requeued == 0 {
		color.Green("nothing to requeue")
		return
	}
	color.Green("requeued %d submission(s)", requeued)
}
