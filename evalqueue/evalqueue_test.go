package evalqueue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBodyCodecRoundTrip(t *testing.T) {
	msg := Msg{ChallengeID: 1, PhaseID: 2, SubmissionID: 42, SubmittedImageURI: "registry/worker:latest"}
	body, err := encodeBody(msg)
	require.NoError(t, err)

	decoded, err := decodeBody(body)
	require.NoError(t, err)
	assert.Equal(t, msg, decoded)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := decodeBody("not base64!!")
	require.Error(t, err)
}

type recordingArchive struct {
	mu   sync.Mutex
	recs []PoisonRecord
}

func (a *recordingArchive) Archive(ctx context.Context, rec PoisonRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.recs = append(a.recs, rec)
	return nil
}

func (a *recordingArchive) records() []PoisonRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]PoisonRecord(nil), a.recs...)
}

func TestInMemQueueRetryThenDone(t *testing.T) {
	q := NewInMemQueue(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, q.Publish(ctx, Msg{SubmissionID: 7}))

	var mu sync.Mutex
	attempts := 0
	done := make(chan struct{})
	go q.Consume(ctx, func(ctx context.Context, msg Msg) Outcome {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts == 1 {
			return Retry
		}
		close(done)
		return Done
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("message was not redelivered after Retry")
	}
	mu.Lock()
	assert.Equal(t, 2, attempts)
	mu.Unlock()
}

func TestInMemQueuePoisonArchived(t *testing.T) {
	archive := &recordingArchive{}
	q := NewInMemQueue(archive)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, q.Publish(ctx, Msg{ChallengeID: 1, PhaseID: 2, SubmissionID: 9}))

	handled := make(chan struct{})
	go q.Consume(ctx, func(ctx context.Context, msg Msg) Outcome {
		defer close(handled)
		return Poison
	})

	select {
	case <-handled:
	case <-time.After(2 * time.Second):
		t.Fatal("message was not consumed")
	}

	require.Eventually(t, func() bool {
		return len(archive.records()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	rec := archive.records()[0]
	assert.Equal(t, int64(9), rec.SubmissionID)
	assert.Equal(t, 0, q.Len(), "poison message must not loop")
}
