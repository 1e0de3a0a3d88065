package challenge

import "time"

type Challenge struct {
	ID         int64
	Title      string
	HostTeamID int64
	Published  bool
	StartDate  time.Time
	EndDate    time.Time

	// EvalScriptKey references the .tar.zst archive with the challenge's
	// evaluation code in the blob store.
	EvalScriptKey string
}

func (c Challenge) ActiveAt(now time.Time) bool {
	return c.Published && !now.Before(c.StartDate) && now.Before(c.EndDate)
}

type Phase struct {
	ID          int64
	ChallengeID int64
	Codename    string
	Name        string
	StartDate   time.Time
	EndDate     time.Time

	IsPublic          bool
	LeaderboardPublic bool

	// AnnotationKey references the phase's ground-truth file in the blob store.
	AnnotationKey string

	MaxSubmissions           int
	MaxSubmissionsPerDay     int
	MaxConcurrentSubmissions int

	ExecTimeLimitSecs int
}

// ActiveAt reports whether the phase accepts submissions at the given time.
// The end bound is exclusive.
func (p Phase) ActiveAt(now time.Time) bool {
	return !now.Before(p.StartDate) && now.Before(p.EndDate)
}

type DatasetSplit struct {
	ID       int64
	Codename string
	Name     string
}

// Visibility governs who may view a leaderboard for a phase split.
type Visibility int

const (
	VisibilityOwnerOnly Visibility = 1
	VisibilityHostOnly  Visibility = 2
	VisibilityPublic    Visibility = 3
)

// LeaderboardSchema declares which metrics a leaderboard displays and which
// one ranks entries.
type LeaderboardSchema struct {
	ID             int64
	DefaultOrderBy string
	Labels         []string
}

// PhaseSplit pairs a phase with a dataset split under one leaderboard schema.
type PhaseSplit struct {
	ID         int64
	PhaseID    int64
	Split      DatasetSplit
	Schema     LeaderboardSchema
	Visibility Visibility
}
