package challenge

import "context"

// Repo is the read surface of challenge metadata the evaluation pipeline
// needs. Challenge/phase CRUD itself lives outside this service.
type Repo interface {
	GetChallenge(ctx context.Context, id int64) (*Challenge, error)
	GetPhase(ctx context.Context, id int64) (*Phase, error)
	ListPhases(ctx context.Context, challengeID int64) ([]Phase, error)
	ListPhaseSplits(ctx context.Context, phaseID int64) ([]PhaseSplit, error)
	GetPhaseSplit(ctx context.Context, id int64) (*PhaseSplit, error)
}
