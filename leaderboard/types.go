package leaderboard

import (
	"context"
	"time"
)

// Row is one persisted leaderboard data row: the metric values one
// submission reported for one phase split. Rows are immutable once written;
// newer submissions add rows, they never overwrite.
type Row struct {
	ID                int64
	PhaseSplitID      int64
	SubmissionID      int64
	LeaderboardID     int64
	TeamID            int64
	Result            map[string]float64
	ShowToParticipant bool
	SubmittedAt       time.Time
}

// RankableRow is a Row joined with the display fields the ranking read path
// needs.
type RankableRow struct {
	Row
	TeamName string
}

// Store persists and reads leaderboard rows. SaveRows must be atomic across
// all rows of one submission and must silently skip rows that already exist
// for the same (phase split, submission) pair, so that re-delivered queue
// messages cannot double-count.
type Store interface {
	SaveRows(ctx context.Context, rows []Row) error
	// ListRankable returns rows eligible for public ranking on a split:
	// owning submission public, FINISHED, not flagged, and not from the
	// challenge host's own team.
	ListRankable(ctx context.Context, phaseSplitID int64) ([]RankableRow, error)
}
