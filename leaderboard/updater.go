package leaderboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kaggleboard/backend/challenge"
	"github.com/kaggleboard/backend/evalresult"
	"github.com/kaggleboard/backend/submission"
)

// ErrResultMismatch marks results that disagree with the challenge's
// configured splits or leaderboard schema. The runner fails the submission
// on it instead of retrying, since redelivery cannot fix the result.
var ErrResultMismatch = errors.New("result does not match challenge configuration")

// Updater turns a validated evaluation result into persisted leaderboard
// rows, one per reported split, in a single atomic batch.
type Updater struct {
	logger *slog.Logger
	store  Store
}

func NewUpdater(store Store) *Updater {
	return &Updater{
		logger: slog.Default().With("module", "leaderboard"),
		store:  store,
	}
}

// BuildRows validates a result against the phase's splits and schemas and
// maps it to rows. Any unknown split codename or metric mismatch fails the
// whole result; a partially scored submission must not reach the board.
func BuildRows(sub submission.Submission, splits []challenge.PhaseSplit, res *evalresult.Result) ([]Row, error) {
	byCodename := make(map[string]challenge.PhaseSplit, len(splits))
	for _, ps := range splits {
		byCodename[ps.Split.Codename] = ps
	}

	rows := make([]Row, 0, len(res.Splits))
	for _, entry := range res.Splits {
		ps, ok := byCodename[entry.Split]
		if !ok {
			return nil, fmt.Errorf("%w: no challenge phase split with codename %q", ErrResultMismatch, entry.Split)
		}
		if err := evalresult.ValidateMetrics(ps.Schema.Labels, entry); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrResultMismatch, err)
		}
		rows = append(rows, Row{
			PhaseSplitID:      ps.ID,
			SubmissionID:      sub.ID,
			LeaderboardID:     ps.Schema.ID,
			TeamID:            sub.TeamID,
			Result:            entry.Accuracies,
			ShowToParticipant: entry.ShowToParticipant,
			SubmittedAt:       sub.SubmittedAt,
		})
	}
	return rows, nil
}

// Update validates and persists the result of one successful evaluation.
func (u *Updater) Update(ctx context.Context, sub submission.Submission, splits []challenge.PhaseSplit, res *evalresult.Result) error {
	rows, err := BuildRows(sub, splits, res)
	if err != nil {
		return err
	}
	if err := u.store.SaveRows(ctx, rows); err != nil {
		return fmt.Errorf("failed to persist leaderboard rows for submission %d: %w", sub.ID, err)
	}
	u.logger.Info("leaderboard rows written",
		"submission_id", sub.ID, "rows", len(rows))
	return nil
}
