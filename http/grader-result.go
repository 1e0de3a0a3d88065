package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kaggleboard/backend/auth"
	"github.com/kaggleboard/backend/evalresult"
	"github.com/kaggleboard/backend/evalrunner"
	"github.com/kaggleboard/backend/httpjson"
	"github.com/kaggleboard/backend/leaderboard"
	"github.com/kaggleboard/backend/logger"
	"github.com/kaggleboard/backend/submission"
)

// putGraderResult is the remote grader callback: an external evaluation
// cluster reports a submission's terminal status and result here instead of
// going through the queue worker.
//
// Every way the payload can be wrong gets its own 400 so grader operators can
// tell a typo'd status from a schema mismatch without reading our logs.
func (httpserver *HttpServer) putGraderResult(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	if httpserver.graderTokenHash == "" ||
		!auth.VerifyGraderToken(httpserver.graderTokenHash, r.Header.Get("X-Grader-Token")) {
		httpjson.WriteErrorJson(w, "invalid grader token",
			http.StatusUnauthorized, "invalid_grader_token")
		return
	}

	id, ok := urlParamInt64(r, "submissionID")
	if !ok {
		httpjson.WriteErrorJson(w, "invalid submission id",
			http.StatusBadRequest, "invalid_submission_id")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		httpjson.WriteErrorJson(w, "failed to read request body",
			http.StatusBadRequest, "unreadable_body")
		return
	}

	// The body carries the grader's scorer output as-is plus the status
	// wrapper, so the "result" key sits at the top level.
	var req struct {
		Status        string            `json:"status"`
		FailureReason string            `json:"failure_reason"`
		Stdout        string            `json:"stdout"`
		Stderr        string            `json:"stderr"`
		Metadata      map[string]string `json:"metadata"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		httpjson.WriteErrorJson(w, "malformed request json",
			http.StatusBadRequest, "malformed_json")
		return
	}

	status := submission.Status(req.Status)
	switch status {
	case submission.StatusFinished, submission.StatusFailed, submission.StatusCancelled:
	default:
		httpjson.WriteErrorJson(w,
			"status must be FINISHED, FAILED or CANCELLED, got "+req.Status,
			http.StatusBadRequest, "invalid_status")
		return
	}

	sub, err := httpserver.subs.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, submission.ErrNotFound) {
			httpjson.WriteErrorJson(w, "submission does not exist",
				http.StatusNotFound, "submission_not_found")
			return
		}
		httpjson.HandleError(log, w, err)
		return
	}

	var res *evalresult.Result
	if status == submission.StatusFinished {
		res, err = evalresult.Parse(body)
		if err != nil {
			writeResultParseError(w, err)
			return
		}

		splits, err := httpserver.challenges.ListPhaseSplits(r.Context(), sub.PhaseID)
		if err != nil {
			httpjson.HandleError(log, w, err)
			return
		}
		if err := httpserver.board.Update(r.Context(), *sub, splits, res); err != nil {
			if errors.Is(err, leaderboard.ErrResultMismatch) {
				httpjson.WriteErrorJson(w, err.Error(),
					http.StatusBadRequest, "result_schema_mismatch")
				return
			}
			httpjson.HandleError(log, w, err)
			return
		}
	}

	keys, err := httpserver.storeGraderArtifacts(r.Context(), sub, req.Stdout, req.Stderr, req.Metadata, res)
	if err != nil {
		httpjson.HandleError(log, w, err)
		return
	}

	err = httpserver.subs.Finalize(r.Context(), submission.FinalizeParams{
		ID:            id,
		Status:        status,
		CompletedAt:   time.Now(),
		StdoutKey:     keys.StdoutKey,
		StderrKey:     keys.StderrKey,
		ResultKey:     keys.ResultKey,
		MetadataKey:   keys.MetadataKey,
		FailureReason: req.FailureReason,
	})
	if errors.Is(err, submission.ErrNoTransition) {
		// The grader retried a callback we already applied. The leaderboard
		// write above is idempotent too, so just confirm.
		httpjson.WriteSuccessJson(w, map[string]any{"submission_id": id, "status": req.Status})
		return
	}
	if err != nil {
		httpjson.HandleError(log, w, err)
		return
	}

	log.Info("remote grader finalized submission",
		"submission_id", id, "status", req.Status)
	httpjson.WriteSuccessJson(w, map[string]any{"submission_id": id, "status": req.Status})
}

type graderArtifactKeys struct {
	StdoutKey   string
	StderrKey   string
	ResultKey   string
	MetadataKey string
}

// storeGraderArtifacts persists what the grader pushed: raw logs when given,
// and for a successful result the participant-visible result file plus the
// host-only metadata file, the same pair the worker path writes.
func (httpserver *HttpServer) storeGraderArtifacts(ctx context.Context, sub *submission.Submission, stdout, stderr string, metadata map[string]string, res *evalresult.Result) (graderArtifactKeys, error) {
	keys := graderArtifactKeys{}
	prefix := fmt.Sprintf("submissions/%d/artifacts", sub.ID)

	if stdout != "" {
		keys.StdoutKey = prefix + "/stdout.txt"
		if _, err := httpserver.artifacts.Upload(ctx, []byte(stdout), keys.StdoutKey, "text/plain"); err != nil {
			return keys, fmt.Errorf("failed to store stdout for submission %d: %w", sub.ID, err)
		}
	}
	if stderr != "" {
		keys.StderrKey = prefix + "/stderr.txt"
		if _, err := httpserver.artifacts.Upload(ctx, []byte(stderr), keys.StderrKey, "text/plain"); err != nil {
			return keys, fmt.Errorf("failed to store stderr for submission %d: %w", sub.ID, err)
		}
	}
	if res == nil {
		return keys, nil
	}

	extra := make(map[string]string, len(sub.Metadata)+len(metadata))
	for k, v := range sub.Metadata {
		extra[k] = v
	}
	for k, v := range metadata {
		extra[k] = v
	}
	meta := evalrunner.Metadata{
		MethodName:        sub.MethodName,
		MethodDescription: sub.MethodDescription,
		Extra:             extra,
	}
	var err error
	keys.ResultKey, keys.MetadataKey, err = evalrunner.StoreResultArtifacts(ctx, httpserver.artifacts, sub.ID, res, meta)
	return keys, err
}

// writeResultParseError maps each parse failure mode to its own error code.
func writeResultParseError(w http.ResponseWriter, err error) {
	var keyMissingErr *evalresult.ErrResultKeyMissing
	if errors.As(err, &keyMissingErr) {
		httpjson.WriteErrorJson(w, err.Error(),
			http.StatusBadRequest, "result_key_missing")
		return
	}
	var nonNumericErr *evalresult.ErrNonNumericMetric
	if errors.As(err, &nonNumericErr) {
		httpjson.WriteErrorJson(w, err.Error(),
			http.StatusBadRequest, "non_numeric_metric")
		return
	}
	httpjson.WriteErrorJson(w, err.Error(),
		http.StatusBadRequest, "malformed_result")
}
