package submission

import "time"

type Status string

const (
	// StatusSubmitting is the bounded pre-state while the input file is still
	// being transferred to the blob store.
	StatusSubmitting Status = "SUBMITTING"
	StatusSubmitted  Status = "SUBMITTED"
	StatusRunning    Status = "RUNNING"
	StatusFinished   Status = "FINISHED"
	StatusFailed     Status = "FAILED"
	StatusCancelled  Status = "CANCELLED"
)

func (s Status) Terminal() bool {
	switch s {
	case StatusFinished, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether moving from one status to another is legal.
// Transitions are monotonic: a terminal status is never left, and a
// cancellation is accepted only before the evaluation has started.
func CanTransition(from, to Status) bool {
	if from.Terminal() {
		return false
	}
	switch from {
	case StatusSubmitting:
		return to == StatusSubmitted || to == StatusFailed || to == StatusCancelled
	case StatusSubmitted:
		return to == StatusRunning || to == StatusFailed || to == StatusCancelled
	case StatusRunning:
		return to == StatusFinished || to == StatusFailed
	}
	return false
}

type Submission struct {
	ID          int64
	TeamID      int64
	PhaseID     int64
	ChallengeID int64

	Status           Status
	SubmissionNumber int
	IsPublic         bool
	Flagged          bool

	SubmittedAt           time.Time
	StartedAt             *time.Time
	CompletedAt           *time.Time
	WhenMadePublic        *time.Time
	RetentionEligibleDate *time.Time

	InputKey    string
	StdoutKey   string
	StderrKey   string
	ResultKey   string
	MetadataKey string

	ExecTimeLimitSecs int

	MethodName        string
	MethodDescription string
	Metadata          map[string]string

	FailureReason    string
	ArtifactsDeleted bool

	// SubmittedImageURI is set for container-based challenges where the
	// participant submits an image instead of an output file.
	SubmittedImageURI string
}
