package leaderboard

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kaggleboard/backend/submission"
)

type pgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) Store {
	return &pgStore{pool: pool}
}

// SaveRows writes all rows of one submission in one transaction. The unique
// constraint on (phase_split_id, submission_id) plus ON CONFLICT DO NOTHING
// makes re-delivered evaluations a no-op instead of a duplicate.
func (s *pgStore) SaveRows(ctx context.Context, rows []Row) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	insertQuery := `
		INSERT INTO leaderboard_data (
			phase_split_id, submission_id, leaderboard_id, result,
			show_to_participant, submitted_at
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (phase_split_id, submission_id) DO NOTHING
	`
	for _, row := range rows {
		resultJson, err := json.Marshal(row.Result)
		if err != nil {
			return fmt.Errorf("failed to marshal result: %w", err)
		}
		_, err = tx.Exec(ctx, insertQuery,
			row.PhaseSplitID,
			row.SubmissionID,
			row.LeaderboardID,
			resultJson,
			row.ShowToParticipant,
			row.SubmittedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert leaderboard row for split %d: %w",
				row.PhaseSplitID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit leaderboard rows: %w", err)
	}
	return nil
}

func (s *pgStore) ListRankable(ctx context.Context, phaseSplitID int64) ([]RankableRow, error) {
	query := `
		SELECT
			ld.id, ld.phase_split_id, ld.submission_id, ld.leaderboard_id,
			sub.team_id, ld.result, ld.show_to_participant, ld.submitted_at,
			pt.name
		FROM leaderboard_data ld
		JOIN submissions sub ON sub.id = ld.submission_id
		JOIN participant_teams pt ON pt.id = sub.team_id
		JOIN challenges c ON c.id = sub.challenge_id
		WHERE ld.phase_split_id = $1
		  AND sub.status = $2
		  AND sub.is_public
		  AND NOT sub.flagged
		  AND sub.team_id != c.host_team_id
	`
	dbRows, err := s.pool.Query(ctx, query, phaseSplitID, string(submission.StatusFinished))
	if err != nil {
		return nil, fmt.Errorf("failed to query leaderboard rows: %w", err)
	}
	defer dbRows.Close()

	var rows []RankableRow
	for dbRows.Next() {
		var row RankableRow
		var resultJson []byte
		err := dbRows.Scan(
			&row.ID,
			&row.PhaseSplitID,
			&row.SubmissionID,
			&row.LeaderboardID,
			&row.TeamID,
			&resultJson,
			&row.ShowToParticipant,
			&row.SubmittedAt,
			&row.TeamName,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan leaderboard row: %w", err)
		}
		if err := json.Unmarshal(resultJson, &row.Result); err != nil {
			return nil, fmt.Errorf("failed to parse leaderboard result: %w", err)
		}
		rows = append(rows, row)
	}
	return rows, dbRows.Err()
}
