package leaderboard_test

import (
	"context"
	"testing"
	"time"

	"github.com/kaggleboard/backend/challenge"
	"github.com/kaggleboard/backend/evalresult"
	"github.com/kaggleboard/backend/leaderboard"
	"github.com/kaggleboard/backend/srvcerror"
	"github.com/kaggleboard/backend/submission"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var scoreSchema = challenge.LeaderboardSchema{
	ID:             1,
	DefaultOrderBy: "score",
	Labels:         []string{"score"},
}

func row(teamID int64, submissionID int64, score float64, submittedAt time.Time) leaderboard.RankableRow {
	return leaderboard.RankableRow{
		Row: leaderboard.Row{
			PhaseSplitID: 10,
			SubmissionID: submissionID,
			TeamID:       teamID,
			Result:       map[string]float64{"score": score},
			SubmittedAt:  submittedAt,
		},
	}
}

func TestRankDeduplicatesByBestScoreNotRecency(t *testing.T) {
	t0 := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	rows := []leaderboard.RankableRow{
		row(1, 100, 0.9, t0),                 // team A, older, lower than their best
		row(2, 101, 0.7, t0.Add(time.Hour)),  // team B
		row(1, 102, 0.95, t0.Add(2*time.Hour)), // team A, more recent, best
	}

	entries := leaderboard.Rank(rows, scoreSchema)
	require.Len(t, entries, 2)

	assert.Equal(t, int64(1), entries[0].TeamID)
	assert.Equal(t, int64(102), entries[0].SubmissionID, "highest score wins the dedup")
	assert.Equal(t, []float64{0.95}, entries[0].Metrics)
	assert.Equal(t, 1, entries[0].Rank)

	assert.Equal(t, int64(2), entries[1].TeamID)
	assert.Equal(t, 2, entries[1].Rank)
}

func TestRankTieGoesToEarlierSubmission(t *testing.T) {
	t0 := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	rows := []leaderboard.RankableRow{
		row(1, 100, 0.8, t0.Add(time.Hour)),
		row(2, 101, 0.8, t0),
	}
	entries := leaderboard.Rank(rows, scoreSchema)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(2), entries[0].TeamID)
}

func TestRankSkipsRowsWithoutOrderMetric(t *testing.T) {
	t0 := time.Now()
	rows := []leaderboard.RankableRow{
		row(1, 100, 0.8, t0),
		{Row: leaderboard.Row{TeamID: 2, SubmissionID: 101,
			Result: map[string]float64{"other": 1.0}, SubmittedAt: t0}},
	}
	entries := leaderboard.Rank(rows, scoreSchema)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(1), entries[0].TeamID)
}

func TestRankProjectsLabelsInSchemaOrder(t *testing.T) {
	schema := challenge.LeaderboardSchema{
		DefaultOrderBy: "f1",
		Labels:         []string{"precision", "recall", "f1"},
	}
	rows := []leaderboard.RankableRow{{
		Row: leaderboard.Row{
			TeamID: 1, SubmissionID: 100,
			Result: map[string]float64{"f1": 0.5, "recall": 0.6, "precision": 0.4},
		},
	}}
	entries := leaderboard.Rank(rows, schema)
	require.Len(t, entries, 1)
	assert.Equal(t, []float64{0.4, 0.6, 0.5}, entries[0].Metrics)
}

func phaseSplits() []challenge.PhaseSplit {
	return []challenge.PhaseSplit{{
		ID:         10,
		PhaseID:    2,
		Split:      challenge.DatasetSplit{ID: 1, Codename: "test-split"},
		Schema:     scoreSchema,
		Visibility: challenge.VisibilityPublic,
	}}
}

func TestBuildRowsUnknownSplit(t *testing.T) {
	sub := submission.Submission{ID: 1, TeamID: 5}
	res := &evalresult.Result{Splits: []evalresult.SplitEntry{{
		Split: "no-such-split", Accuracies: map[string]float64{"score": 0.5},
	}}}
	_, err := leaderboard.BuildRows(sub, phaseSplits(), res)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no-such-split")
}

func TestBuildRowsMetricMismatch(t *testing.T) {
	sub := submission.Submission{ID: 1, TeamID: 5}
	res := &evalresult.Result{Splits: []evalresult.SplitEntry{{
		Split: "test-split", Accuracies: map[string]float64{"bleu": 0.5},
	}}}
	_, err := leaderboard.BuildRows(sub, phaseSplits(), res)
	require.Error(t, err)
}

func TestUpdaterIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := leaderboard.NewInMemStore(nil)
	updater := leaderboard.NewUpdater(store)

	sub := submission.Submission{ID: 1, TeamID: 5, SubmittedAt: time.Now()}
	res := &evalresult.Result{Splits: []evalresult.SplitEntry{{
		Split: "test-split", ShowToParticipant: true,
		Accuracies: map[string]float64{"score": 0.8},
	}}}

	require.NoError(t, updater.Update(ctx, sub, phaseSplits(), res))
	require.NoError(t, updater.Update(ctx, sub, phaseSplits(), res))

	assert.Len(t, store.Rows(), 1, "re-evaluating the same submission must not duplicate rows")
}

func TestSrvcPrivateBoardHostOnly(t *testing.T) {
	ctx := context.Background()
	challenges := challenge.NewInMemRepo()
	challenges.AddPhase(challenge.Phase{ID: 2, ChallengeID: 1, LeaderboardPublic: true})
	challenges.AddPhaseSplit(challenge.PhaseSplit{
		ID: 10, PhaseID: 2, Schema: scoreSchema,
		Visibility: challenge.VisibilityHostOnly,
	})
	srvc := leaderboard.NewSrvc(challenges, leaderboard.NewInMemStore(nil))

	_, _, err := srvc.Get(ctx, 10, false)
	srvcErr := &srvcerror.Error{}
	require.ErrorAs(t, err, &srvcErr)
	assert.Equal(t, leaderboard.ErrCodeLeaderboardPrivate, srvcErr.ErrorCode())

	_, _, err = srvc.Get(ctx, 10, true)
	assert.NoError(t, err)
}

func TestSrvcFiltersNonRankableSubmissions(t *testing.T) {
	ctx := context.Background()
	subs := submission.NewInMemRepo()
	store := leaderboard.NewInMemStore(subs)
	store.TeamNames[5] = "team five"

	challenges := challenge.NewInMemRepo()
	challenges.AddPhase(challenge.Phase{ID: 2, ChallengeID: 1, LeaderboardPublic: true})
	challenges.AddPhaseSplit(challenge.PhaseSplit{
		ID: 10, PhaseID: 2, Schema: scoreSchema, Visibility: challenge.VisibilityPublic,
	})

	// A finished public submission and a failed one.
	mkSub := func(public bool, finish submission.Status) int64 {
		s := &submission.Submission{TeamID: 5, PhaseID: 2, ChallengeID: 1,
			SubmittedAt: time.Now(), IsPublic: public}
		require.NoError(t, subs.Create(ctx, s))
		require.NoError(t, subs.MarkSubmitted(ctx, s.ID, "in"))
		require.NoError(t, subs.MarkRunning(ctx, s.ID, time.Now()))
		require.NoError(t, subs.Finalize(ctx, submission.FinalizeParams{
			ID: s.ID, Status: finish, CompletedAt: time.Now(),
		}))
		return s.ID
	}
	okID := mkSub(true, submission.StatusFinished)
	failedID := mkSub(true, submission.StatusFailed)

	require.NoError(t, store.SaveRows(ctx, []leaderboard.Row{
		{PhaseSplitID: 10, SubmissionID: okID, TeamID: 5,
			Result: map[string]float64{"score": 0.8}},
		{PhaseSplitID: 10, SubmissionID: failedID, TeamID: 5,
			Result: map[string]float64{"score": 0.99}},
	}))

	entries, schema, err := leaderboard.NewSrvc(challenges, store).Get(ctx, 10, false)
	require.NoError(t, err)
	assert.Equal(t, "score", schema.DefaultOrderBy)
	require.Len(t, entries, 1)
	assert.Equal(t, okID, entries[0].SubmissionID)
	assert.Equal(t, "team five", entries[0].TeamName)
}
