package challenge

import (
	"context"
	"fmt"
	"sync"
)

// InMemRepo is a map-backed Repo used by tests and local development.
type InMemRepo struct {
	mu         sync.RWMutex
	challenges map[int64]Challenge
	phases     map[int64]Phase
	splits     map[int64][]PhaseSplit // keyed by phase id
}

func NewInMemRepo() *InMemRepo {
	return &InMemRepo{
		challenges: make(map[int64]Challenge),
		phases:     make(map[int64]Phase),
		splits:     make(map[int64][]PhaseSplit),
	}
}

func (r *InMemRepo) AddChallenge(ch Challenge) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.challenges[ch.ID] = ch
}

func (r *InMemRepo) AddPhase(p Phase) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.phases[p.ID] = p
}

func (r *InMemRepo) AddPhaseSplit(ps PhaseSplit) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.splits[ps.PhaseID] = append(r.splits[ps.PhaseID], ps)
}

func (r *InMemRepo) GetChallenge(ctx context.Context, id int64) (*Challenge, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.challenges[id]
	if !ok {
		return nil, fmt.Errorf("challenge %d: %w", id, ErrNotFound)
	}
	return &ch, nil
}

func (r *InMemRepo) GetPhase(ctx context.Context, id int64) (*Phase, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.phases[id]
	if !ok {
		return nil, fmt.Errorf("phase %d: %w", id, ErrNotFound)
	}
	return &p, nil
}

func (r *InMemRepo) ListPhases(ctx context.Context, challengeID int64) ([]Phase, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var phases []Phase
	for _, p := range r.phases {
		if p.ChallengeID == challengeID {
			phases = append(phases, p)
		}
	}
	return phases, nil
}

func (r *InMemRepo) ListPhaseSplits(ctx context.Context, phaseID int64) ([]PhaseSplit, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]PhaseSplit(nil), r.splits[phaseID]...), nil
}

func (r *InMemRepo) GetPhaseSplit(ctx context.Context, id int64) (*PhaseSplit, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, splits := range r.splits {
		for _, ps := range splits {
			if ps.ID == id {
				cp := ps
				return &cp, nil
			}
		}
	}
	return nil, fmt.Errorf("phase split %d: %w", id, ErrNotFound)
}
