package evalqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/guregu/dynamo/v2"
)

// PoisonRecord is what gets archived when a message is drained as poison.
// Operators use it to reconstruct what happened to a submission that
// vanished from the pipeline.
type PoisonRecord struct {
	Queue        string    `dynamo:"queue"`
	RawBody      string    `dynamo:"raw_body"`
	SubmissionID int64     `dynamo:"submission_id,hash"`
	ChallengeID  int64     `dynamo:"challenge_id"`
	PhaseID      int64     `dynamo:"phase_id"`
	Reason       string    `dynamo:"reason"`
	ReceivedAt   time.Time `dynamo:"received_at,range"`
}

type PoisonArchive interface {
	Archive(ctx context.Context, rec PoisonRecord) error
}

// DynamoPoisonArchive persists poison records to a DynamoDB table keyed by
// (submission_id, received_at).
type DynamoPoisonArchive struct {
	table dynamo.Table
}

func NewDynamoPoisonArchive(cfg aws.Config, tableName string) *DynamoPoisonArchive {
	db := dynamo.New(cfg)
	return &DynamoPoisonArchive{table: db.Table(tableName)}
}

func (a *DynamoPoisonArchive) Archive(ctx context.Context, rec PoisonRecord) error {
	if err := a.table.Put(rec).Run(ctx); err != nil {
		return fmt.Errorf("failed to put poison record: %w", err)
	}
	return nil
}

// NopPoisonArchive drops records; used when no archive table is configured.
type NopPoisonArchive struct{}

func (NopPoisonArchive) Archive(ctx context.Context, rec PoisonRecord) error {
	return nil
}
