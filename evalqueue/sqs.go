package evalqueue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// SqsQueue is the production queue implementation on AWS SQS. Delivery is
// at-least-once; redelivery relies on the queue's visibility timeout, so a
// Retry outcome simply leaves the message alone.
type SqsQueue struct {
	client   *sqs.Client
	queueUrl string
	prefetch int32
	poison   PoisonArchive
	logger   *slog.Logger
}

func NewSqsQueue(client *sqs.Client, queueUrl string, poison PoisonArchive) *SqsQueue {
	if poison == nil {
		poison = NopPoisonArchive{}
	}
	return &SqsQueue{
		client:   client,
		queueUrl: queueUrl,
		prefetch: 1,
		poison:   poison,
		logger:   slog.Default().With("module", "evalqueue"),
	}
}

// WithPrefetch sets how many messages one receive call may pull (1..10).
// One worker still handles messages sequentially either way.
func (q *SqsQueue) WithPrefetch(n int32) *SqsQueue {
	if n < 1 {
		n = 1
	}
	if n > 10 {
		n = 10
	}
	q.prefetch = n
	return q
}

func (q *SqsQueue) Publish(ctx context.Context, msg Msg) error {
	body, err := encodeBody(msg)
	if err != nil {
		return err
	}
	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueUrl),
		MessageBody: aws.String(body),
	})
	if err != nil {
		return fmt.Errorf("failed to send message to eval queue: %w", err)
	}
	return nil
}

func (q *SqsQueue) Consume(ctx context.Context, handler Handler) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		output, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(q.queueUrl),
			MaxNumberOfMessages: q.prefetch,
			WaitTimeSeconds:     5,
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			q.logger.Error("failed to receive messages", "error", err)
			time.Sleep(1 * time.Second)
			continue
		}

		for _, raw := range output.Messages {
			if raw.Body == nil || raw.ReceiptHandle == nil {
				continue
			}

			msg, err := decodeBody(*raw.Body)
			if err != nil {
				// Undecodable bodies can never be handled; archive and drop.
				q.logger.Error("poison message: undecodable body", "error", err)
				q.archiveAndDelete(ctx, *raw.Body, Msg{}, err.Error(), *raw.ReceiptHandle)
				continue
			}

			outcome := handler(ctx, msg)
			switch outcome {
			case Done:
				q.delete(ctx, *raw.ReceiptHandle)
			case Poison:
				q.logger.Error("poison message",
					"challenge_id", msg.ChallengeID,
					"phase_id", msg.PhaseID,
					"submission_id", msg.SubmissionID)
				q.archiveAndDelete(ctx, *raw.Body, msg, "handler reported poison", *raw.ReceiptHandle)
			case Retry:
				// not acknowledged, visibility timeout re-delivers
				q.logger.Warn("message left for redelivery",
					"submission_id", msg.SubmissionID)
			}
		}
	}
}

func (q *SqsQueue) delete(ctx context.Context, receiptHandle string) {
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueUrl),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		// The handler already ran; at worst the message is re-delivered and
		// the idempotent handler acks it again.
		q.logger.Error("failed to delete message", "error", err)
	}
}

func (q *SqsQueue) archiveAndDelete(ctx context.Context, rawBody string, msg Msg, reason string, receiptHandle string) {
	if err := q.poison.Archive(ctx, PoisonRecord{
		Queue:        q.queueUrl,
		RawBody:      rawBody,
		SubmissionID: msg.SubmissionID,
		ChallengeID:  msg.ChallengeID,
		PhaseID:      msg.PhaseID,
		Reason:       reason,
		ReceivedAt:   time.Now().UTC(),
	}); err != nil {
		q.logger.Error("failed to archive poison message", "error", err)
		// Drop it anyway: an unprocessable message must not block the queue.
	}
	q.delete(ctx, receiptHandle)
}
