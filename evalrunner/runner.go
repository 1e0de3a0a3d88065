// Package evalrunner executes one submission's evaluation: it drives the
// SUBMITTED -> RUNNING -> terminal status sequence, runs the challenge's
// scoring code under the phase's time limit, stores the produced artifacts
// and hands validated results to the leaderboard updater.
package evalrunner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/kaggleboard/backend/challenge"
	"github.com/kaggleboard/backend/evalresult"
	"github.com/kaggleboard/backend/leaderboard"
	"github.com/kaggleboard/backend/submission"
)

// SubmissionStore is the slice of the submission repo the runner drives.
type SubmissionStore interface {
	MarkRunning(ctx context.Context, id int64, startedAt time.Time) error
	Finalize(ctx context.Context, p submission.FinalizeParams) error
}

// ArtifactStore persists evaluation artifacts under stable keys.
type ArtifactStore interface {
	Upload(ctx context.Context, content []byte, key string, mediaType string) (string, error)
}

type Runner struct {
	logger    *slog.Logger
	subs      SubmissionStore
	artifacts ArtifactStore
	board     *leaderboard.Updater

	now func() time.Time
}

func NewRunner(subs SubmissionStore, artifacts ArtifactStore, board *leaderboard.Updater) *Runner {
	return &Runner{
		logger:    slog.Default().With("module", "evalrunner"),
		subs:      subs,
		artifacts: artifacts,
		board:     board,
		now:       time.Now,
	}
}

// WithClock overrides the runner's time source; tests pin it.
func (r *Runner) WithClock(now func() time.Time) *Runner {
	r.now = now
	return r
}

// Run evaluates one submission whose input file is already on local disk.
//
// A scoring failure (crash, timeout, malformed or schema-mismatched result)
// finalizes the submission as FAILED and returns nil: the outcome is
// terminal and redelivering the message would not change it. An error is
// returned only for infrastructure faults (status store, artifact store,
// leaderboard store) where a retry can succeed.
func (r *Runner) Run(ctx context.Context, sub submission.Submission, phase challenge.Phase, splits []challenge.PhaseSplit, scorer Scorer, annotationPath string, inputPath string) error {
	if err := r.subs.MarkRunning(ctx, sub.ID, r.now()); err != nil {
		// Already RUNNING means a previous worker died mid-evaluation and
		// the message came back; evaluate again. The caller has already
		// screened out terminal rows.
		if !errors.Is(err, submission.ErrNoTransition) {
			return fmt.Errorf("failed to mark submission %d running: %w", sub.ID, err)
		}
	}

	scratchDir, err := os.MkdirTemp("", fmt.Sprintf("eval-%d-*", sub.ID))
	if err != nil {
		return fmt.Errorf("failed to create scratch dir: %w", err)
	}
	defer os.RemoveAll(scratchDir)

	evalCtx := ctx
	if phase.ExecTimeLimitSecs > 0 {
		var cancel context.CancelFunc
		evalCtx, cancel = context.WithTimeout(ctx,
			time.Duration(phase.ExecTimeLimitSecs)*time.Second)
		defer cancel()
	}

	meta := Metadata{
		MethodName:        sub.MethodName,
		MethodDescription: sub.MethodDescription,
		Extra:             sub.Metadata,
	}

	start := r.now()
	out, evalErr := scorer.Evaluate(evalCtx, annotationPath, inputPath, phase.Codename, meta, scratchDir)
	r.logger.Info("scoring finished",
		"submission_id", sub.ID,
		"took", time.Since(start),
		"err", evalErr)

	if ctx.Err() != nil {
		// Worker shutdown, not the submission's fault. Leave the row
		// RUNNING for redelivery to pick up.
		return ctx.Err()
	}

	keys, err := r.storeProcessOutput(ctx, sub.ID, out)
	if err != nil {
		return err
	}

	if evalErr != nil {
		reason := failureReason(evalErr, ctx, phase)
		return r.finalize(ctx, sub.ID, submission.StatusFailed, keys, reason)
	}

	if err := r.board.Update(ctx, sub, splits, out.Result); err != nil {
		// A result the schema rejects is the submission's fault; anything
		// else is ours and worth a retry.
		if errors.Is(err, leaderboard.ErrResultMismatch) {
			return r.finalize(ctx, sub.ID, submission.StatusFailed, keys,
				fmt.Sprintf("evaluation result rejected: %s", err))
		}
		return fmt.Errorf("failed to update leaderboard for submission %d: %w", sub.ID, err)
	}

	keys.ResultKey, keys.MetadataKey, err = StoreResultArtifacts(ctx, r.artifacts, sub.ID, out.Result, meta)
	if err != nil {
		return err
	}

	return r.finalize(ctx, sub.ID, submission.StatusFinished, keys, "")
}

type artifactKeys struct {
	StdoutKey   string
	StderrKey   string
	ResultKey   string
	MetadataKey string
}

// storeProcessOutput persists stdout and stderr regardless of how scoring
// ended; participants debug failed runs from these.
func (r *Runner) storeProcessOutput(ctx context.Context, submissionID int64, out *ScoreOutput) (artifactKeys, error) {
	keys := artifactKeys{}
	if out == nil {
		return keys, nil
	}

	prefix := fmt.Sprintf("submissions/%d/artifacts", submissionID)
	stdoutKey := prefix + "/stdout.txt"
	if _, err := r.artifacts.Upload(ctx, out.Stdout, stdoutKey, "text/plain"); err != nil {
		return keys, fmt.Errorf("failed to store stdout for submission %d: %w", submissionID, err)
	}
	keys.StdoutKey = stdoutKey

	stderrKey := prefix + "/stderr.txt"
	if _, err := r.artifacts.Upload(ctx, out.Stderr, stderrKey, "text/plain"); err != nil {
		return keys, fmt.Errorf("failed to store stderr for submission %d: %w", submissionID, err)
	}
	keys.StderrKey = stderrKey
	return keys, nil
}

// StoreResultArtifacts writes the participant-visible filtered result and the
// host-only full result with submission metadata. Both the worker and the
// remote grader callback produce these from a validated result.
func StoreResultArtifacts(ctx context.Context, artifacts ArtifactStore, submissionID int64, res *evalresult.Result, meta Metadata) (resultKey, metadataKey string, err error) {
	prefix := fmt.Sprintf("submissions/%d/artifacts", submissionID)

	participantJson, err := json.Marshal(evalresult.ParticipantView(res))
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal participant result: %w", err)
	}
	resultKey = prefix + "/result.json"
	if _, err := artifacts.Upload(ctx, participantJson, resultKey, "application/json"); err != nil {
		return "", "", fmt.Errorf("failed to store result for submission %d: %w", submissionID, err)
	}

	hostJson, err := json.Marshal(struct {
		Result   *evalresult.Result `json:"result"`
		Metadata Metadata           `json:"metadata"`
	}{Result: res, Metadata: meta})
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal host result: %w", err)
	}
	metadataKey = prefix + "/metadata.json"
	if _, err := artifacts.Upload(ctx, hostJson, metadataKey, "application/json"); err != nil {
		return "", "", fmt.Errorf("failed to store metadata for submission %d: %w", submissionID, err)
	}
	return resultKey, metadataKey, nil
}

func (r *Runner) finalize(ctx context.Context, submissionID int64, status submission.Status, keys artifactKeys, reason string) error {
	err := r.subs.Finalize(ctx, submission.FinalizeParams{
		ID:            submissionID,
		Status:        status,
		CompletedAt:   r.now(),
		StdoutKey:     keys.StdoutKey,
		StderrKey:     keys.StderrKey,
		ResultKey:     keys.ResultKey,
		MetadataKey:   keys.MetadataKey,
		FailureReason: reason,
	})
	if err != nil {
		return fmt.Errorf("failed to finalize submission %d as %s: %w", submissionID, status, err)
	}
	r.logger.Info("submission finalized",
		"submission_id", submissionID,
		"status", status,
		"failure_reason", reason)
	return nil
}

// failureReason maps a scoring error to the participant-facing failure text.
// The worker's own shutdown is not the submission's failure, so an outer
// context cancellation is reported distinctly from a time-limit kill.
func failureReason(evalErr error, outerCtx context.Context, phase challenge.Phase) string {
	if errors.Is(evalErr, context.DeadlineExceeded) && outerCtx.Err() == nil {
		return fmt.Sprintf("evaluation exceeded the time limit of %d seconds", phase.ExecTimeLimitSecs)
	}

	var missingErr *evalresult.ErrResultKeyMissing
	var nonNumericErr *evalresult.ErrNonNumericMetric
	if errors.As(evalErr, &missingErr) || errors.As(evalErr, &nonNumericErr) {
		return fmt.Sprintf("evaluation result rejected: %s", evalErr)
	}
	return fmt.Sprintf("evaluation failed: %s", evalErr)
}
