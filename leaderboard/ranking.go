package leaderboard

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/kaggleboard/backend/challenge"
	"github.com/kaggleboard/backend/srvcerror"
)

// Entry is one ranked leaderboard line: a team's best submission on a split,
// with metric values projected in schema label order.
type Entry struct {
	Rank         int       `json:"rank"`
	TeamID       int64     `json:"team_id"`
	TeamName     string    `json:"team_name"`
	SubmissionID int64     `json:"submission_id"`
	SubmittedAt  time.Time `json:"submitted_at"`
	Metrics      []float64 `json:"metrics"`
}

// Rank computes the ranked, per-team-deduplicated view of a split's rows.
// Sort is descending on the schema's default_order_by metric; ties go to the
// earlier submission. Deduplication keeps the first row seen after sorting,
// i.e. a team's highest score wins regardless of recency.
func Rank(rows []RankableRow, schema challenge.LeaderboardSchema) []Entry {
	ranked := make([]RankableRow, 0, len(rows))
	for _, row := range rows {
		if _, ok := row.Result[schema.DefaultOrderBy]; ok {
			ranked = append(ranked, row)
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		a := ranked[i].Result[schema.DefaultOrderBy]
		b := ranked[j].Result[schema.DefaultOrderBy]
		if a != b {
			return a > b
		}
		return ranked[i].SubmittedAt.Before(ranked[j].SubmittedAt)
	})

	seen := make(map[int64]bool)
	entries := make([]Entry, 0, len(ranked))
	for _, row := range ranked {
		if seen[row.TeamID] {
			continue
		}
		seen[row.TeamID] = true

		metrics := make([]float64, len(schema.Labels))
		for i, label := range schema.Labels {
			metrics[i] = row.Result[label]
		}
		entries = append(entries, Entry{
			Rank:         len(entries) + 1,
			TeamID:       row.TeamID,
			TeamName:     row.TeamName,
			SubmissionID: row.SubmissionID,
			SubmittedAt:  row.SubmittedAt,
			Metrics:      metrics,
		})
	}
	return entries
}

const ErrCodeLeaderboardPrivate = "leaderboard_private"

func ErrLeaderboardPrivate() *srvcerror.Error {
	return srvcerror.New(ErrCodeLeaderboardPrivate,
		"this leaderboard is only visible to challenge hosts",
	).SetHttpStatusCode(http.StatusForbidden)
}

const ErrCodePhaseSplitNotFound = "phase_split_not_found"

func ErrPhaseSplitNotFound() *srvcerror.Error {
	return srvcerror.New(ErrCodePhaseSplitNotFound,
		"challenge phase split does not exist",
	).SetHttpStatusCode(http.StatusNotFound)
}

// Srvc is the leaderboard read service.
type Srvc struct {
	challenges challenge.Repo
	store      Store
}

func NewSrvc(challenges challenge.Repo, store Store) *Srvc {
	return &Srvc{challenges: challenges, store: store}
}

// Get returns the ranked leaderboard for a phase split. Non-public boards
// are reserved for challenge hosts.
func (s *Srvc) Get(ctx context.Context, phaseSplitID int64, viewerIsHost bool) ([]Entry, *challenge.LeaderboardSchema, error) {
	ps, err := s.challenges.GetPhaseSplit(ctx, phaseSplitID)
	if err != nil {
		return nil, nil, ErrPhaseSplitNotFound().SetDebug(err)
	}
	if ps.Visibility != challenge.VisibilityPublic && !viewerIsHost {
		return nil, nil, ErrLeaderboardPrivate()
	}
	phase, err := s.challenges.GetPhase(ctx, ps.PhaseID)
	if err != nil {
		return nil, nil, srvcerror.ErrInternalSE().SetDebug(err)
	}
	if !phase.LeaderboardPublic && !viewerIsHost {
		return nil, nil, ErrLeaderboardPrivate()
	}

	rows, err := s.store.ListRankable(ctx, phaseSplitID)
	if err != nil {
		return nil, nil, srvcerror.ErrInternalSE().SetDebug(err)
	}
	return Rank(rows, ps.Schema), &ps.Schema, nil
}
