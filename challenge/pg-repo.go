package challenge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("not found")

type pgRepo struct {
	pool *pgxpool.Pool
}

func NewPgRepo(pool *pgxpool.Pool) Repo {
	return &pgRepo{pool: pool}
}

func (r *pgRepo) GetChallenge(ctx context.Context, id int64) (*Challenge, error) {
	query := `
		SELECT id, title, host_team_id, published, start_date, end_date, eval_script_key
		FROM challenges
		WHERE id = $1
	`
	var ch Challenge
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&ch.ID,
		&ch.Title,
		&ch.HostTeamID,
		&ch.Published,
		&ch.StartDate,
		&ch.EndDate,
		&ch.EvalScriptKey,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("challenge %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query challenge: %w", err)
	}
	return &ch, nil
}

const phaseColumns = `
	id, challenge_id, codename, name, start_date, end_date,
	is_public, leaderboard_public, annotation_key,
	max_submissions, max_submissions_per_day, max_concurrent_submissions,
	exec_time_limit_secs
`

func scanPhase(row pgx.Row) (*Phase, error) {
	var p Phase
	err := row.Scan(
		&p.ID,
		&p.ChallengeID,
		&p.Codename,
		&p.Name,
		&p.StartDate,
		&p.EndDate,
		&p.IsPublic,
		&p.LeaderboardPublic,
		&p.AnnotationKey,
		&p.MaxSubmissions,
		&p.MaxSubmissionsPerDay,
		&p.MaxConcurrentSubmissions,
		&p.ExecTimeLimitSecs,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *pgRepo) GetPhase(ctx context.Context, id int64) (*Phase, error) {
	query := `SELECT ` + phaseColumns + ` FROM challenge_phases WHERE id = $1`
	p, err := scanPhase(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("phase %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query phase: %w", err)
	}
	return p, nil
}

func (r *pgRepo) ListPhases(ctx context.Context, challengeID int64) ([]Phase, error) {
	query := `SELECT ` + phaseColumns + ` FROM challenge_phases WHERE challenge_id = $1 ORDER BY start_date`
	rows, err := r.pool.Query(ctx, query, challengeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query phases: %w", err)
	}
	defer rows.Close()

	var phases []Phase
	for rows.Next() {
		p, err := scanPhase(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan phase: %w", err)
		}
		phases = append(phases, *p)
	}
	return phases, rows.Err()
}

func (r *pgRepo) GetPhaseSplit(ctx context.Context, id int64) (*PhaseSplit, error) {
	query := `
		SELECT
			cps.id, cps.phase_id, cps.visibility,
			ds.id, ds.codename, ds.name,
			lb.id, lb.default_order_by, lb.labels
		FROM challenge_phase_splits cps
		JOIN dataset_splits ds ON ds.id = cps.dataset_split_id
		JOIN leaderboards lb ON lb.id = cps.leaderboard_id
		WHERE cps.id = $1
	`
	var ps PhaseSplit
	var labelsJson []byte
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&ps.ID,
		&ps.PhaseID,
		&ps.Visibility,
		&ps.Split.ID,
		&ps.Split.Codename,
		&ps.Split.Name,
		&ps.Schema.ID,
		&ps.Schema.DefaultOrderBy,
		&labelsJson,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("phase split %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query phase split: %w", err)
	}
	if err := json.Unmarshal(labelsJson, &ps.Schema.Labels); err != nil {
		return nil, fmt.Errorf("failed to parse leaderboard labels: %w", err)
	}
	return &ps, nil
}

func (r *pgRepo) ListPhaseSplits(ctx context.Context, phaseID int64) ([]PhaseSplit, error) {
	query := `
		SELECT
			cps.id, cps.phase_id, cps.visibility,
			ds.id, ds.codename, ds.name,
			lb.id, lb.default_order_by, lb.labels
		FROM challenge_phase_splits cps
		JOIN dataset_splits ds ON ds.id = cps.dataset_split_id
		JOIN leaderboards lb ON lb.id = cps.leaderboard_id
		WHERE cps.phase_id = $1
		ORDER BY cps.id
	`
	rows, err := r.pool.Query(ctx, query, phaseID)
	if err != nil {
		return nil, fmt.Errorf("failed to query phase splits: %w", err)
	}
	defer rows.Close()

	var splits []PhaseSplit
	for rows.Next() {
		var ps PhaseSplit
		var labelsJson []byte
		err := rows.Scan(
			&ps.ID,
			&ps.PhaseID,
			&ps.Visibility,
			&ps.Split.ID,
			&ps.Split.Codename,
			&ps.Split.Name,
			&ps.Schema.ID,
			&ps.Schema.DefaultOrderBy,
			&labelsJson,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan phase split: %w", err)
		}
		if err := json.Unmarshal(labelsJson, &ps.Schema.Labels); err != nil {
			return nil, fmt.Errorf("failed to parse leaderboard labels: %w", err)
		}
		splits = append(splits, ps)
	}
	return splits, rows.Err()
}
