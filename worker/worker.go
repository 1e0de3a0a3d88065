// Package worker consumes evaluation messages and drives one submission
// through scoring end to end: fetch assets, fetch the input, run the
// challenge's evaluation code and record the outcome.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/kaggleboard/backend/assetcache"
	"github.com/kaggleboard/backend/blobref"
	"github.com/kaggleboard/backend/challenge"
	"github.com/kaggleboard/backend/evalqueue"
	"github.com/kaggleboard/backend/evalrunner"
	"github.com/kaggleboard/backend/logger"
	"github.com/kaggleboard/backend/submission"
)

// RetentionStamper recomputes a terminal submission's retention date. It is
// the slice of the submission service the worker needs after finalizing.
type RetentionStamper interface {
	RecomputeRetention(ctx context.Context, id int64) error
}

type Worker struct {
	logger     *slog.Logger
	subs       submission.Repo
	challenges challenge.Repo
	cache      *assetcache.Cache
	runner     *evalrunner.Runner
	resolver   *blobref.Resolver
	download   assetcache.DownloadFunc
	retention  RetentionStamper
}

func New(
	subs submission.Repo,
	challenges challenge.Repo,
	cache *assetcache.Cache,
	runner *evalrunner.Runner,
	resolver *blobref.Resolver,
	download assetcache.DownloadFunc,
	retention RetentionStamper,
) *Worker {
	return &Worker{
		logger:     slog.Default().With("module", "worker"),
		subs:       subs,
		challenges: challenges,
		cache:      cache,
		runner:     runner,
		resolver:   resolver,
		download:   download,
		retention:  retention,
	}
}

// Handle processes one evaluation message. Outcomes follow the permanence of
// the failure: a message that can never succeed is poisoned, a message that
// failed on infrastructure is left for redelivery, and everything already in
// a terminal state acknowledges immediately.
func (w *Worker) Handle(ctx context.Context, msg evalqueue.Msg) evalqueue.Outcome {
	ctx = logger.WithSubmission(ctx, msg.ChallengeID, msg.PhaseID, msg.SubmissionID)
	log := w.logger.With("submission_id", msg.SubmissionID)

	sub, err := w.subs.Get(ctx, msg.SubmissionID)
	if errors.Is(err, submission.ErrNotFound) {
		log.Warn("submission row missing, poisoning message")
		return evalqueue.Poison
	}
	if err != nil {
		log.Error("failed to load submission", "error", err)
		return evalqueue.Retry
	}

	if sub.Status.Terminal() {
		log.Info("submission already terminal, acking redelivery", "status", sub.Status)
		return evalqueue.Done
	}

	ch, phase, splits, err := w.loadChallengeConfig(ctx, msg)
	if errors.Is(err, challenge.ErrNotFound) {
		log.Warn("challenge configuration missing, poisoning message", "error", err)
		return evalqueue.Poison
	}
	if err != nil {
		log.Error("failed to load challenge configuration", "error", err)
		return evalqueue.Retry
	}

	scorer, err := w.cache.EnsureChallenge(ctx, ch.ID, w.resolver.Resolve(ch.EvalScriptKey), false)
	if err != nil {
		log.Error("failed to load evaluation code", "error", err)
		return evalqueue.Retry
	}
	annotationPath, err := w.cache.EnsurePhaseAnnotation(ctx, ch.ID, phase.ID, w.resolver.Resolve(phase.AnnotationKey))
	if err != nil {
		log.Error("failed to load phase annotation", "error", err)
		return evalqueue.Retry
	}

	inputDir, err := os.MkdirTemp("", fmt.Sprintf("subm-input-%d-*", sub.ID))
	if err != nil {
		log.Error("failed to create input dir", "error", err)
		return evalqueue.Retry
	}
	defer os.RemoveAll(inputDir)

	inputPath := filepath.Join(inputDir, "input")
	if err := w.download(ctx, w.resolver.Resolve(sub.InputKey), inputPath); err != nil {
		log.Error("failed to download submission input", "error", err)
		return evalqueue.Retry
	}

	if err := w.runner.Run(ctx, *sub, *phase, splits, scorer, annotationPath, inputPath); err != nil {
		log.Error("evaluation did not complete", "error", err)
		return evalqueue.Retry
	}

	// Best effort: the submission is already terminal, and retention can be
	// recomputed administratively.
	if err := w.retention.RecomputeRetention(ctx, sub.ID); err != nil {
		log.Error("failed to recompute retention date", "error", err)
	}
	return evalqueue.Done
}

func (w *Worker) loadChallengeConfig(ctx context.Context, msg evalqueue.Msg) (*challenge.Challenge, *challenge.Phase, []challenge.PhaseSplit, error) {
	ch, err := w.challenges.GetChallenge(ctx, msg.ChallengeID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("challenge %d: %w", msg.ChallengeID, err)
	}
	phase, err := w.challenges.GetPhase(ctx, msg.PhaseID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("phase %d: %w", msg.PhaseID, err)
	}
	if phase.ChallengeID != ch.ID {
		return nil, nil, nil, fmt.Errorf("phase %d does not belong to challenge %d: %w",
			msg.PhaseID, msg.ChallengeID, challenge.ErrNotFound)
	}
	splits, err := w.challenges.ListPhaseSplits(ctx, phase.ID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("phase splits for phase %d: %w", msg.PhaseID, err)
	}
	return ch, phase, splits, nil
}
