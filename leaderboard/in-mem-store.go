package leaderboard

import (
	"context"
	"sync"

	"github.com/kaggleboard/backend/submission"
)

// SubmissionGetter is the slice of the submission repo the in-mem store
// needs to apply the rankability filters.
type SubmissionGetter interface {
	Get(ctx context.Context, id int64) (*submission.Submission, error)
}

// InMemStore is a Store for tests and local development. It enforces the
// same (split, submission) dedup rule as the postgres store.
type InMemStore struct {
	mu     sync.Mutex
	nextID int64
	rows   []Row

	// Subs and HostTeams feed the rankability filters; TeamNames feeds the
	// display join.
	Subs      SubmissionGetter
	HostTeams map[int64]bool
	TeamNames map[int64]string
}

func NewInMemStore(subs SubmissionGetter) *InMemStore {
	return &InMemStore{
		nextID:    1,
		Subs:      subs,
		HostTeams: map[int64]bool{},
		TeamNames: map[int64]string{},
	}
}

func (s *InMemStore) SaveRows(ctx context.Context, rows []Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range rows {
		if s.exists(row.PhaseSplitID, row.SubmissionID) {
			continue
		}
		row.ID = s.nextID
		s.nextID++
		s.rows = append(s.rows, row)
	}
	return nil
}

func (s *InMemStore) exists(phaseSplitID, submissionID int64) bool {
	for _, row := range s.rows {
		if row.PhaseSplitID == phaseSplitID && row.SubmissionID == submissionID {
			return true
		}
	}
	return false
}

// Rows returns a copy of every stored row.
func (s *InMemStore) Rows() []Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Row(nil), s.rows...)
}

func (s *InMemStore) ListRankable(ctx context.Context, phaseSplitID int64) ([]RankableRow, error) {
	s.mu.Lock()
	rows := append([]Row(nil), s.rows...)
	s.mu.Unlock()

	var out []RankableRow
	for _, row := range rows {
		if row.PhaseSplitID != phaseSplitID {
			continue
		}
		if s.HostTeams[row.TeamID] {
			continue
		}
		if s.Subs != nil {
			sub, err := s.Subs.Get(ctx, row.SubmissionID)
			if err != nil {
				continue
			}
			if sub.Status != submission.StatusFinished || !sub.IsPublic || sub.Flagged {
				continue
			}
		}
		out = append(out, RankableRow{Row: row, TeamName: s.TeamNames[row.TeamID]})
	}
	return out, nil
}
