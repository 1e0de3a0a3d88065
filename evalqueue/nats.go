package evalqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// NatsQueue is a JetStream-backed queue for local development, where running
// a NATS container beats pointing every developer at a shared SQS queue. The
// durable pull consumer gives the same at-least-once semantics: Ack on Done,
// Nak on Retry.
type NatsQueue struct {
	js      nats.JetStreamContext
	subject string
	durable string
	poison  PoisonArchive
	logger  *slog.Logger
}

func NewNatsQueue(nc *nats.Conn, stream, subject string, poison PoisonArchive) (*NatsQueue, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("failed to get jetstream context: %w", err)
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:     stream,
		Subjects: []string{subject},
	})
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		return nil, fmt.Errorf("failed to ensure stream %s: %w", stream, err)
	}

	if poison == nil {
		poison = NopPoisonArchive{}
	}
	return &NatsQueue{
		js:      js,
		subject: subject,
		durable: stream + "-workers",
		poison:  poison,
		logger:  slog.Default().With("module", "evalqueue"),
	}, nil
}

func (q *NatsQueue) Publish(ctx context.Context, msg Msg) error {
	body, err := encodeBody(msg)
	if err != nil {
		return err
	}
	_, err = q.js.Publish(q.subject, []byte(body), nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("failed to publish to eval stream: %w", err)
	}
	return nil
}

func (q *NatsQueue) Consume(ctx context.Context, handler Handler) error {
	sub, err := q.js.PullSubscribe(q.subject, q.durable)
	if err != nil {
		return fmt.Errorf("failed to subscribe to eval stream: %w", err)
	}
	defer sub.Unsubscribe()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msgs, err := sub.Fetch(1, nats.MaxWait(5*time.Second))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			q.logger.Error("failed to fetch messages", "error", err)
			time.Sleep(1 * time.Second)
			continue
		}

		for _, raw := range msgs {
			msg, err := decodeBody(string(raw.Data))
			if err != nil {
				q.logger.Error("poison message: undecodable body", "error", err)
				q.archive(ctx, string(raw.Data), Msg{}, err.Error())
				q.ack(raw)
				continue
			}

			switch handler(ctx, msg) {
			case Done:
				q.ack(raw)
			case Poison:
				q.logger.Error("poison message",
					"challenge_id", msg.ChallengeID,
					"phase_id", msg.PhaseID,
					"submission_id", msg.SubmissionID)
				q.archive(ctx, string(raw.Data), msg, "handler reported poison")
				q.ack(raw)
			case Retry:
				if err := raw.Nak(); err != nil {
					q.logger.Error("failed to nak message", "error", err)
				}
			}
		}
	}
}

func (q *NatsQueue) ack(raw *nats.Msg) {
	if err := raw.Ack(); err != nil {
		q.logger.Error("failed to ack message", "error", err)
	}
}

func (q *NatsQueue) archive(ctx context.Context, rawBody string, msg Msg, reason string) {
	if err := q.poison.Archive(ctx, PoisonRecord{
		Queue:        q.subject,
		RawBody:      rawBody,
		SubmissionID: msg.SubmissionID,
		ChallengeID:  msg.ChallengeID,
		PhaseID:      msg.PhaseID,
		Reason:       reason,
		ReceivedAt:   time.Now().UTC(),
	}); err != nil {
		q.logger.Error("failed to archive poison message", "error", err)
	}
}
