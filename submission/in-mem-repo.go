package submission

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// InMemRepo is a map-backed Repo used by tests and local development. It
// enforces the same transition guards as the postgres repo.
type InMemRepo struct {
	mu     sync.Mutex
	nextID int64
	subs   map[int64]*Submission
}

func NewInMemRepo() *InMemRepo {
	return &InMemRepo{nextID: 1, subs: make(map[int64]*Submission)}
}

func (r *InMemRepo) Create(ctx context.Context, s *Submission) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	maxNumber := 0
	for _, other := range r.subs {
		if other.TeamID == s.TeamID && other.PhaseID == s.PhaseID &&
			other.SubmissionNumber > maxNumber {
			maxNumber = other.SubmissionNumber
		}
	}

	s.ID = r.nextID
	r.nextID++
	s.SubmissionNumber = maxNumber + 1
	s.Status = StatusSubmitting

	cp := *s
	r.subs[s.ID] = &cp
	return nil
}

func (r *InMemRepo) Get(ctx context.Context, id int64) (*Submission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subs[id]
	if !ok {
		return nil, fmt.Errorf("submission %d: %w", id, ErrNotFound)
	}
	cp := *s
	return &cp, nil
}

func (r *InMemRepo) MarkSubmitted(ctx context.Context, id int64, inputKey string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subs[id]
	if !ok || s.Status != StatusSubmitting {
		return ErrNoTransition
	}
	s.Status = StatusSubmitted
	s.InputKey = inputKey
	return nil
}

func (r *InMemRepo) MarkRunning(ctx context.Context, id int64, startedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subs[id]
	if !ok || s.Status != StatusSubmitted {
		return ErrNoTransition
	}
	s.Status = StatusRunning
	s.StartedAt = &startedAt
	return nil
}

func (r *InMemRepo) Finalize(ctx context.Context, p FinalizeParams) error {
	if !p.Status.Terminal() {
		return fmt.Errorf("finalize to non-terminal status %s", p.Status)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subs[p.ID]
	if !ok || s.Status.Terminal() {
		return ErrNoTransition
	}
	s.Status = p.Status
	completedAt := p.CompletedAt
	s.CompletedAt = &completedAt
	s.StdoutKey = p.StdoutKey
	s.StderrKey = p.StderrKey
	s.ResultKey = p.ResultKey
	s.MetadataKey = p.MetadataKey
	s.FailureReason = p.FailureReason
	return nil
}

func (r *InMemRepo) Cancel(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subs[id]
	if !ok || s.Status != StatusSubmitted {
		return ErrNoTransition
	}
	s.Status = StatusCancelled
	now := time.Now()
	s.CompletedAt = &now
	return nil
}

func (r *InMemRepo) SetVisibility(ctx context.Context, id int64, public bool, when time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subs[id]
	if !ok {
		return ErrNoTransition
	}
	s.IsPublic = public
	if public {
		s.WhenMadePublic = &when
	}
	return nil
}

func (r *InMemRepo) SetRetentionEligibleDate(ctx context.Context, id int64, date time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subs[id]
	if !ok {
		return ErrNoTransition
	}
	s.RetentionEligibleDate = &date
	return nil
}

func (r *InMemRepo) CountInFlight(ctx context.Context, teamID, phaseID int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, s := range r.subs {
		if s.TeamID == teamID && s.PhaseID == phaseID && !s.Status.Terminal() {
			count++
		}
	}
	return count, nil
}

func (r *InMemRepo) CountSince(ctx context.Context, teamID, phaseID int64, since time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, s := range r.subs {
		if s.TeamID == teamID && s.PhaseID == phaseID &&
			s.Status != StatusFailed && !s.SubmittedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (r *InMemRepo) CountTotal(ctx context.Context, teamID, phaseID int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, s := range r.subs {
		if s.TeamID == teamID && s.PhaseID == phaseID && s.Status != StatusFailed {
			count++
		}
	}
	return count, nil
}

func (r *InMemRepo) ListByPhase(ctx context.Context, phaseID int64, teamID int64) ([]Submission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var subs []Submission
	for _, s := range r.subs {
		if s.PhaseID == phaseID && (teamID == 0 || s.TeamID == teamID) {
			subs = append(subs, *s)
		}
	}
	sort.Slice(subs, func(i, j int) bool {
		if subs[i].SubmittedAt.Equal(subs[j].SubmittedAt) {
			return subs[i].ID > subs[j].ID
		}
		return subs[i].SubmittedAt.After(subs[j].SubmittedAt)
	})
	return subs, nil
}

func (r *InMemRepo) ListStuckSubmitted(ctx context.Context, olderThan time.Time) ([]Submission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var subs []Submission
	for _, s := range r.subs {
		if s.Status == StatusSubmitted && s.SubmittedAt.Before(olderThan) {
			subs = append(subs, *s)
		}
	}
	return subs, nil
}
