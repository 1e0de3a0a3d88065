// Package evalqueue moves "evaluate this submission" messages from the API
// process to worker processes with at-least-once delivery.
package evalqueue

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Msg is the queue wire message. submitted_image_uri is only set for
// container-based challenges.
type Msg struct {
	ChallengeID       int64  `json:"challenge_id"`
	PhaseID           int64  `json:"phase_id"`
	SubmissionID      int64  `json:"submission_id"`
	SubmittedImageURI string `json:"submitted_image_uri,omitempty"`
}

// Outcome tells the queue client what to do with a consumed message.
type Outcome int

const (
	// Done: acknowledge, the message is fully handled.
	Done Outcome = iota
	// Retry: do not acknowledge so the broker re-delivers. Used for
	// transient failures (network, database unavailable).
	Retry
	// Poison: the message can never succeed (e.g. the submission row no
	// longer exists). Archive it and acknowledge so it stops looping.
	Poison
)

func (o Outcome) String() string {
	switch o {
	case Done:
		return "done"
	case Retry:
		return "retry"
	case Poison:
		return "poison"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Handler processes one message and reports what to do with it. Handlers
// must be idempotent: the same message can be delivered more than once.
type Handler func(ctx context.Context, msg Msg) Outcome

type Publisher interface {
	Publish(ctx context.Context, msg Msg) error
}

type Consumer interface {
	// Consume blocks pulling messages and invoking the handler until the
	// context is cancelled.
	Consume(ctx context.Context, handler Handler) error
}

type Queue interface {
	Publisher
	Consumer
}

// Bodies are zstd-compressed and base64-encoded on the wire.

func encodeBody(msg Msg) (string, error) {
	jsonMsg, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal queue message: %w", err)
	}

	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return "", fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	defer encoder.Close()

	compressed := encoder.EncodeAll(jsonMsg, make([]byte, 0, len(jsonMsg)))
	return base64.StdEncoding.EncodeToString(compressed), nil
}

func decodeBody(body string) (Msg, error) {
	compressed, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return Msg{}, fmt.Errorf("failed to base64-decode queue message: %w", err)
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return Msg{}, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	defer decoder.Close()

	jsonMsg, err := decoder.DecodeAll(compressed, nil)
	if err != nil {
		return Msg{}, fmt.Errorf("failed to decompress queue message: %w", err)
	}

	var msg Msg
	if err := json.Unmarshal(jsonMsg, &msg); err != nil {
		return Msg{}, fmt.Errorf("failed to unmarshal queue message: %w", err)
	}
	return msg, nil
}
