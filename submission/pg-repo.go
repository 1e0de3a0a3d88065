package submission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type pgRepo struct {
	pool *pgxpool.Pool
}

func NewPgRepo(pool *pgxpool.Pool) Repo {
	return &pgRepo{pool: pool}
}

// Create inserts the submission inside a transaction so that the
// per-(team,phase) submission number stays monotonic under concurrent
// creation. The unique constraint on (team_id, phase_id, submission_number)
// turns a lost race into a retryable error instead of a duplicate number.
func (r *pgRepo) Create(ctx context.Context, s *Submission) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	metadataJson, err := json.Marshal(s.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	insertQuery := `
		INSERT INTO submissions (
			team_id, phase_id, challenge_id, status, submission_number,
			is_public, submitted_at, exec_time_limit_secs,
			method_name, method_description, metadata, submitted_image_uri
		) VALUES (
			$1, $2, $3, $4,
			(SELECT COALESCE(MAX(submission_number), 0) + 1
			 FROM submissions WHERE team_id = $1 AND phase_id = $2),
			$5, $6, $7, $8, $9, $10, $11
		)
		RETURNING id, submission_number
	`
	err = tx.QueryRow(ctx, insertQuery,
		s.TeamID,
		s.PhaseID,
		s.ChallengeID,
		string(StatusSubmitting),
		s.IsPublic,
		s.SubmittedAt,
		s.ExecTimeLimitSecs,
		s.MethodName,
		s.MethodDescription,
		metadataJson,
		s.SubmittedImageURI,
	).Scan(&s.ID, &s.SubmissionNumber)
	if err != nil {
		return fmt.Errorf("failed to insert submission: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit submission insert: %w", err)
	}
	s.Status = StatusSubmitting
	return nil
}

const submissionColumns = `
	id, team_id, phase_id, challenge_id, status, submission_number,
	is_public, flagged, submitted_at, started_at, completed_at,
	when_made_public, retention_eligible_date,
	input_key, stdout_key, stderr_key, result_key, metadata_key,
	exec_time_limit_secs, method_name, method_description, metadata,
	failure_reason, artifacts_deleted, submitted_image_uri
`

func scanSubmission(row pgx.Row) (*Submission, error) {
	var s Submission
	var metadataJson []byte
	err := row.Scan(
		&s.ID,
		&s.TeamID,
		&s.PhaseID,
		&s.ChallengeID,
		&s.Status,
		&s.SubmissionNumber,
		&s.IsPublic,
		&s.Flagged,
		&s.SubmittedAt,
		&s.StartedAt,
		&s.CompletedAt,
		&s.WhenMadePublic,
		&s.RetentionEligibleDate,
		&s.InputKey,
		&s.StdoutKey,
		&s.StderrKey,
		&s.ResultKey,
		&s.MetadataKey,
		&s.ExecTimeLimitSecs,
		&s.MethodName,
		&s.MethodDescription,
		&metadataJson,
		&s.FailureReason,
		&s.ArtifactsDeleted,
		&s.SubmittedImageURI,
	)
	if err != nil {
		return nil, err
	}
	if len(metadataJson) > 0 {
		if err := json.Unmarshal(metadataJson, &s.Metadata); err != nil {
			return nil, fmt.Errorf("failed to parse submission metadata: %w", err)
		}
	}
	return &s, nil
}

func (r *pgRepo) Get(ctx context.Context, id int64) (*Submission, error) {
	query := `SELECT ` + submissionColumns + ` FROM submissions WHERE id = $1`
	s, err := scanSubmission(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("submission %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query submission: %w", err)
	}
	return s, nil
}

// guardedUpdate runs an update whose WHERE clause encodes the legal source
// statuses. Zero affected rows means the transition was not legal anymore.
func (r *pgRepo) guardedUpdate(ctx context.Context, query string, args ...any) error {
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update submission: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNoTransition
	}
	return nil
}

func (r *pgRepo) MarkSubmitted(ctx context.Context, id int64, inputKey string) error {
	return r.guardedUpdate(ctx, `
		UPDATE submissions SET status = $2, input_key = $3
		WHERE id = $1 AND status = $4`,
		id, string(StatusSubmitted), inputKey, string(StatusSubmitting))
}

func (r *pgRepo) MarkRunning(ctx context.Context, id int64, startedAt time.Time) error {
	return r.guardedUpdate(ctx, `
		UPDATE submissions SET status = $2, started_at = $3
		WHERE id = $1 AND status = $4`,
		id, string(StatusRunning), startedAt, string(StatusSubmitted))
}

func (r *pgRepo) Finalize(ctx context.Context, p FinalizeParams) error {
	if !p.Status.Terminal() {
		return fmt.Errorf("finalize to non-terminal status %s", p.Status)
	}
	return r.guardedUpdate(ctx, `
		UPDATE submissions SET
			status = $2, completed_at = $3,
			stdout_key = $4, stderr_key = $5, result_key = $6, metadata_key = $7,
			failure_reason = $8
		WHERE id = $1 AND status NOT IN ($9, $10, $11)`,
		p.ID, string(p.Status), p.CompletedAt,
		p.StdoutKey, p.StderrKey, p.ResultKey, p.MetadataKey,
		p.FailureReason,
		string(StatusFinished), string(StatusFailed), string(StatusCancelled))
}

func (r *pgRepo) Cancel(ctx context.Context, id int64) error {
	return r.guardedUpdate(ctx, `
		UPDATE submissions SET status = $2, completed_at = NOW()
		WHERE id = $1 AND status = $3`,
		id, string(StatusCancelled), string(StatusSubmitted))
}

func (r *pgRepo) SetVisibility(ctx context.Context, id int64, public bool, when time.Time) error {
	if public {
		return r.guardedUpdate(ctx, `
			UPDATE submissions SET is_public = TRUE, when_made_public = $2
			WHERE id = $1`,
			id, when)
	}
	return r.guardedUpdate(ctx, `
		UPDATE submissions SET is_public = FALSE
		WHERE id = $1`,
		id)
}

func (r *pgRepo) SetRetentionEligibleDate(ctx context.Context, id int64, date time.Time) error {
	return r.guardedUpdate(ctx, `
		UPDATE submissions SET retention_eligible_date = $2
		WHERE id = $1`,
		id, date)
}

func (r *pgRepo) CountInFlight(ctx context.Context, teamID, phaseID int64) (int, error) {
	query := `
		SELECT COUNT(*) FROM submissions
		WHERE team_id = $1 AND phase_id = $2 AND status IN ($3, $4, $5)
	`
	var count int
	err := r.pool.QueryRow(ctx, query, teamID, phaseID,
		string(StatusSubmitting), string(StatusSubmitted), string(StatusRunning),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count in-flight submissions: %w", err)
	}
	return count, nil
}

func (r *pgRepo) CountSince(ctx context.Context, teamID, phaseID int64, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM submissions
		WHERE team_id = $1 AND phase_id = $2 AND submitted_at >= $3 AND status != $4
	`
	var count int
	err := r.pool.QueryRow(ctx, query, teamID, phaseID, since, string(StatusFailed)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count daily submissions: %w", err)
	}
	return count, nil
}

func (r *pgRepo) CountTotal(ctx context.Context, teamID, phaseID int64) (int, error) {
	query := `
		SELECT COUNT(*) FROM submissions
		WHERE team_id = $1 AND phase_id = $2 AND status != $3
	`
	var count int
	err := r.pool.QueryRow(ctx, query, teamID, phaseID, string(StatusFailed)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count submissions: %w", err)
	}
	return count, nil
}

func (r *pgRepo) ListByPhase(ctx context.Context, phaseID int64, teamID int64) ([]Submission, error) {
	query := `SELECT ` + submissionColumns + `
		FROM submissions
		WHERE phase_id = $1 AND ($2 = 0 OR team_id = $2)
		ORDER BY submitted_at DESC`
	rows, err := r.pool.Query(ctx, query, phaseID, teamID)
	if err != nil {
		return nil, fmt.Errorf("failed to query phase submissions: %w", err)
	}
	defer rows.Close()

	var subs []Submission
	for rows.Next() {
		s, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan submission: %w", err)
		}
		subs = append(subs, *s)
	}
	return subs, rows.Err()
}

func (r *pgRepo) ListStuckSubmitted(ctx context.Context, olderThan time.Time) ([]Submission, error) {
	query := `SELECT ` + submissionColumns + `
		FROM submissions
		WHERE status = $1 AND submitted_at < $2
		ORDER BY submitted_at`
	rows, err := r.pool.Query(ctx, query, string(StatusSubmitted), olderThan)
	if err != nil {
		return nil, fmt.Errorf("failed to query stuck submissions: %w", err)
	}
	defer rows.Close()

	var subs []Submission
	for rows.Next() {
		s, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan submission: %w", err)
		}
		subs = append(subs, *s)
	}
	return subs, rows.Err()
}
