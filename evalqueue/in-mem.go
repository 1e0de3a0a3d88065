package evalqueue

import (
	"context"
	"sync"
	"time"
)

// InMemQueue is a channel-backed queue for tests. Retry outcomes re-enqueue
// the message, mirroring broker redelivery.
type InMemQueue struct {
	ch     chan Msg
	poison PoisonArchive

	mu        sync.Mutex
	published []Msg
}

func NewInMemQueue(poison PoisonArchive) *InMemQueue {
	if poison == nil {
		poison = NopPoisonArchive{}
	}
	return &InMemQueue{
		ch:     make(chan Msg, 1024),
		poison: poison,
	}
}

func (q *InMemQueue) Publish(ctx context.Context, msg Msg) error {
	q.mu.Lock()
	q.published = append(q.published, msg)
	q.mu.Unlock()
	q.ch <- msg
	return nil
}

// Published returns every message ever published, in order.
func (q *InMemQueue) Published() []Msg {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Msg(nil), q.published...)
}

// Len returns the number of messages waiting to be consumed.
func (q *InMemQueue) Len() int {
	return len(q.ch)
}

func (q *InMemQueue) Consume(ctx context.Context, handler Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-q.ch:
			switch handler(ctx, msg) {
			case Done:
			case Poison:
				_ = q.poison.Archive(ctx, PoisonRecord{
					Queue:        "in-mem",
					SubmissionID: msg.SubmissionID,
					ChallengeID:  msg.ChallengeID,
					PhaseID:      msg.PhaseID,
					Reason:       "handler reported poison",
					ReceivedAt:   time.Now().UTC(),
				})
			case Retry:
				q.ch <- msg
			}
		}
	}
}
