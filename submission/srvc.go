package submission

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kaggleboard/backend/challenge"
	"github.com/kaggleboard/backend/evalqueue"
	"github.com/kaggleboard/backend/srvcerror"
	"github.com/wailsapp/mimetype"
)

// Uploader is the slice of the blob store the lifecycle controller needs.
// Satisfied by s3bucket.S3Bucket.
type Uploader interface {
	Upload(ctx context.Context, content []byte, key string, mediaType string) (string, error)
}

// Srvc is the submission lifecycle controller: it validates eligibility,
// persists the row, transfers the input file and enqueues the evaluation.
// Status transitions past SUBMITTED belong to the evaluation worker.
type Srvc struct {
	logger *slog.Logger

	challenges challenge.Repo
	repo       Repo
	queue      evalqueue.Publisher
	blobs      Uploader

	now func() time.Time
}

func NewSrvc(challenges challenge.Repo, repo Repo, queue evalqueue.Publisher, blobs Uploader) *Srvc {
	return &Srvc{
		logger:     slog.Default().With("module", "subm"),
		challenges: challenges,
		repo:       repo,
		queue:      queue,
		blobs:      blobs,
		now:        time.Now,
	}
}

// WithClock overrides the service clock; tests use it to pin quota windows.
func (s *Srvc) WithClock(now func() time.Time) *Srvc {
	s.now = now
	return s
}

type CreateParams struct {
	TeamID      int64
	ChallengeID int64
	PhaseID     int64

	FileName string
	File     []byte

	MethodName        string
	MethodDescription string
	Metadata          map[string]string

	IsPublic          bool
	SubmittedImageURI string
}

// Create runs the eligibility checks, persists the submission, transfers the
// input file to the blob store and publishes the evaluation request.
//
// Publish failure after the row is durable is the documented gap: the row
// stays SUBMITTED and RequeueStuck can re-publish it, but the caller is told
// the request did not fully succeed.
func (s *Srvc) Create(ctx context.Context, params CreateParams) (*Submission, error) {
	now := s.now()

	phase, ch, err := s.eligiblePhase(ctx, params.TeamID, params.ChallengeID, params.PhaseID, now)
	if err != nil {
		return nil, err
	}

	if err := s.checkQuotas(ctx, params.TeamID, *phase, now); err != nil {
		return nil, err
	}

	sub := &Submission{
		TeamID:            params.TeamID,
		PhaseID:           phase.ID,
		ChallengeID:       ch.ID,
		SubmittedAt:       now,
		IsPublic:          params.IsPublic,
		ExecTimeLimitSecs: phase.ExecTimeLimitSecs,
		MethodName:        params.MethodName,
		MethodDescription: params.MethodDescription,
		Metadata:          params.Metadata,
		SubmittedImageURI: params.SubmittedImageURI,
	}
	if err := s.repo.Create(ctx, sub); err != nil {
		return nil, srvcerror.ErrInternalSE().SetDebug(
			fmt.Errorf("failed to create submission row: %w", err))
	}

	mediaType := mimetype.Detect(params.File).String()
	key := fmt.Sprintf("submissions/%d/%s/%s", sub.ID, uuid.NewString(), params.FileName)
	if _, err := s.blobs.Upload(ctx, params.File, key, mediaType); err != nil {
		s.logger.Error("input transfer failed",
			"submission_id", sub.ID, "error", err)
		s.failTransfer(ctx, sub.ID, err)
		return nil, ErrTransferFailed().SetDebug(err)
	}

	if err := s.repo.MarkSubmitted(ctx, sub.ID, key); err != nil {
		return nil, srvcerror.ErrInternalSE().SetDebug(
			fmt.Errorf("failed to mark submission %d submitted: %w", sub.ID, err))
	}
	sub.Status = StatusSubmitted
	sub.InputKey = key

	err = s.queue.Publish(ctx, evalqueue.Msg{
		ChallengeID:       ch.ID,
		PhaseID:           phase.ID,
		SubmissionID:      sub.ID,
		SubmittedImageURI: params.SubmittedImageURI,
	})
	if err != nil {
		s.logger.Error("failed to publish evaluation request, submission stays queued for manual requeue",
			"submission_id", sub.ID, "error", err)
		return nil, ErrPublishFailed().SetDebug(err)
	}

	s.logger.Info("submission created",
		"submission_id", sub.ID,
		"challenge_id", ch.ID,
		"phase_id", phase.ID,
		"submission_number", sub.SubmissionNumber)
	return sub, nil
}

func (s *Srvc) eligiblePhase(ctx context.Context, teamID, challengeID, phaseID int64, now time.Time) (*challenge.Phase, *challenge.Challenge, error) {
	phase, err := s.challenges.GetPhase(ctx, phaseID)
	if err != nil {
		return nil, nil, ErrPhaseNotFound().SetDebug(err)
	}
	if phase.ChallengeID != challengeID {
		return nil, nil, ErrPhaseNotFound()
	}

	ch, err := s.challenges.GetChallenge(ctx, challengeID)
	if err != nil {
		return nil, nil, ErrPhaseNotFound().SetDebug(err)
	}
	if !ch.ActiveAt(now) {
		return nil, nil, ErrChallengeInactive()
	}
	if !phase.ActiveAt(now) {
		return nil, nil, ErrPhaseInactive()
	}
	// Hosts may exercise non-public phases of their own challenge.
	if !phase.IsPublic && teamID != ch.HostTeamID {
		return nil, nil, ErrPhaseNotPublic()
	}
	return phase, ch, nil
}

func (s *Srvc) checkQuotas(ctx context.Context, teamID int64, phase challenge.Phase, now time.Time) error {
	inFlight, err := s.repo.CountInFlight(ctx, teamID, phase.ID)
	if err != nil {
		return srvcerror.ErrInternalSE().SetDebug(err)
	}
	if phase.MaxConcurrentSubmissions > 0 && inFlight >= phase.MaxConcurrentSubmissions {
		return ErrConcurrentLimit(inFlight)
	}

	total, err := s.repo.CountTotal(ctx, teamID, phase.ID)
	if err != nil {
		return srvcerror.ErrInternalSE().SetDebug(err)
	}
	midnight := now.UTC().Truncate(24 * time.Hour)
	today, err := s.repo.CountSince(ctx, teamID, phase.ID, midnight)
	if err != nil {
		return srvcerror.ErrInternalSE().SetDebug(err)
	}

	// When both windows have room the smaller remainder is what the
	// participant effectively has left; when one is exhausted that one is
	// reported. Total exhaustion wins over daily exhaustion because it is
	// not going to reset at midnight.
	remainingTotal := phase.MaxSubmissions - total
	remainingToday := phase.MaxSubmissionsPerDay - today
	if phase.MaxSubmissions > 0 && remainingTotal <= 0 {
		return ErrTotalLimit()
	}
	if phase.MaxSubmissionsPerDay > 0 && remainingToday <= 0 {
		untilReset := midnight.Add(24 * time.Hour).Sub(now.UTC())
		return ErrDailyLimit(untilReset)
	}
	return nil
}

func (s *Srvc) failTransfer(ctx context.Context, id int64, cause error) {
	err := s.repo.Finalize(ctx, FinalizeParams{
		ID:            id,
		Status:        StatusFailed,
		CompletedAt:   s.now(),
		FailureReason: fmt.Sprintf("input transfer failed: %v", cause),
	})
	if err != nil {
		s.logger.Error("failed to mark submission failed after transfer error",
			"submission_id", id, "error", err)
	}
}

func (s *Srvc) Get(ctx context.Context, id int64) (*Submission, error) {
	sub, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, ErrSubmissionNotFound().SetDebug(err)
	}
	return sub, nil
}

// List returns the phase's submissions visible to the viewer: the challenge
// host sees every team's rows, a participant only their own.
func (s *Srvc) List(ctx context.Context, phaseID int64, viewerTeamID int64, viewerIsHost bool) ([]Submission, error) {
	teamFilter := viewerTeamID
	if viewerIsHost {
		teamFilter = 0
	}
	subs, err := s.repo.ListByPhase(ctx, phaseID, teamFilter)
	if err != nil {
		return nil, srvcerror.ErrInternalSE().SetDebug(err)
	}
	return subs, nil
}

// Cancel marks a not-yet-running submission cancelled. A submission the
// worker already picked up is past the point of no return; the caller gets a
// conflict instead of a silent no-op.
func (s *Srvc) Cancel(ctx context.Context, id int64, teamID int64) error {
	sub, err := s.repo.Get(ctx, id)
	if err != nil {
		return ErrSubmissionNotFound().SetDebug(err)
	}
	if sub.TeamID != teamID {
		return ErrNotSubmissionOwner()
	}
	if err := s.repo.Cancel(ctx, id); err != nil {
		return ErrInvalidStateForOp("submission is already running or finished").SetDebug(err)
	}
	return nil
}

// SetVisibility toggles is_public, stamping when_made_public on the way up.
func (s *Srvc) SetVisibility(ctx context.Context, id int64, teamID int64, public bool) error {
	sub, err := s.repo.Get(ctx, id)
	if err != nil {
		return ErrSubmissionNotFound().SetDebug(err)
	}
	if sub.TeamID != teamID {
		return ErrNotSubmissionOwner()
	}
	if err := s.repo.SetVisibility(ctx, id, public, s.now()); err != nil {
		return srvcerror.ErrInternalSE().SetDebug(err)
	}
	return nil
}

// RecomputeRetention recomputes retention_eligible_date for a terminal
// submission. Called explicitly after terminal transitions and when a
// phase's dates or visibility change, never as a save hook.
func (s *Srvc) RecomputeRetention(ctx context.Context, id int64) error {
	sub, err := s.repo.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load submission %d: %w", id, err)
	}
	if !sub.Status.Terminal() || sub.CompletedAt == nil {
		return nil
	}
	phase, err := s.challenges.GetPhase(ctx, sub.PhaseID)
	if err != nil {
		return fmt.Errorf("failed to load phase %d: %w", sub.PhaseID, err)
	}
	date := RetentionEligibleDate(*phase, *sub.CompletedAt)
	if err := s.repo.SetRetentionEligibleDate(ctx, id, date); err != nil {
		return fmt.Errorf("failed to set retention date on submission %d: %w", id, err)
	}
	return nil
}

// RequeueStuck re-publishes SUBMITTED rows older than the given age. This is
// the administrative answer to publish failures after a durable insert.
func (s *Srvc) RequeueStuck(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := s.now().Add(-olderThan)
	stuck, err := s.repo.ListStuckSubmitted(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to list stuck submissions: %w", err)
	}
	requeued := 0
	for _, sub := range stuck {
		err := s.queue.Publish(ctx, evalqueue.Msg{
			ChallengeID:       sub.ChallengeID,
			PhaseID:           sub.PhaseID,
			SubmissionID:      sub.ID,
			SubmittedImageURI: sub.SubmittedImageURI,
		})
		if err != nil {
			s.logger.Error("failed to requeue submission",
				"submission_id", sub.ID, "error", err)
			continue
		}
		requeued++
	}
	return requeued, nil
}
