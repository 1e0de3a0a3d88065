package submission

import (
	"context"
	"errors"
	"time"
)

// ErrNoTransition is returned by status-changing repo operations when the
// row was not in a status the transition is legal from. Re-delivered queue
// messages hit this constantly and treat it as "already handled".
var ErrNoTransition = errors.New("submission not in a status the transition is legal from")

var ErrNotFound = errors.New("submission not found")

type FinalizeParams struct {
	ID          int64
	Status      Status // FINISHED, FAILED or CANCELLED
	CompletedAt time.Time

	StdoutKey   string
	StderrKey   string
	ResultKey   string
	MetadataKey string

	FailureReason string
}

// Repo persists submissions. Status-changing operations enforce the
// monotonic state machine at the storage layer so that concurrent workers
// cannot regress a terminal row.
type Repo interface {
	// Create inserts the submission in SUBMITTING state and assigns both the
	// id and the per-(team,phase) monotonic submission number.
	Create(ctx context.Context, s *Submission) error
	Get(ctx context.Context, id int64) (*Submission, error)

	// MarkSubmitted moves SUBMITTING -> SUBMITTED once the input file is in
	// the blob store.
	MarkSubmitted(ctx context.Context, id int64, inputKey string) error
	// MarkRunning moves SUBMITTED -> RUNNING and stamps started_at.
	MarkRunning(ctx context.Context, id int64, startedAt time.Time) error
	// Finalize moves a non-terminal submission to a terminal status.
	Finalize(ctx context.Context, p FinalizeParams) error
	// Cancel moves SUBMITTED -> CANCELLED. A submission that already started
	// running cannot be cancelled.
	Cancel(ctx context.Context, id int64) error

	SetVisibility(ctx context.Context, id int64, public bool, when time.Time) error
	SetRetentionEligibleDate(ctx context.Context, id int64, date time.Time) error

	// CountInFlight counts SUBMITTING/SUBMITTED/RUNNING rows for the team+phase.
	CountInFlight(ctx context.Context, teamID, phaseID int64) (int, error)
	// CountSince counts non-FAILED rows submitted at or after the given time.
	CountSince(ctx context.Context, teamID, phaseID int64, since time.Time) (int, error)
	// CountTotal counts non-FAILED rows for the team+phase.
	CountTotal(ctx context.Context, teamID, phaseID int64) (int, error)

	// ListStuckSubmitted returns SUBMITTED rows older than the cutoff; used
	// by the administrative re-queue path after a publish failure.
	ListStuckSubmitted(ctx context.Context, olderThan time.Time) ([]Submission, error)

	// ListByPhase returns the phase's submissions newest first. A zero teamID
	// lists every team's rows; hosts use that, participants pass their own.
	ListByPhase(ctx context.Context, phaseID int64, teamID int64) ([]Submission, error)
}
