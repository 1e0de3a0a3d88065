package submission_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/kaggleboard/backend/challenge"
	"github.com/kaggleboard/backend/evalqueue"
	"github.com/kaggleboard/backend/srvcerror"
	"github.com/kaggleboard/backend/submission"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBlobs struct {
	failUpload bool
	uploaded   map[string][]byte
}

func (f *fakeBlobs) Upload(ctx context.Context, content []byte, key string, mediaType string) (string, error) {
	if f.failUpload {
		return "", errors.New("connection reset")
	}
	if f.uploaded == nil {
		f.uploaded = map[string][]byte{}
	}
	f.uploaded[key] = content
	return "https://blobs/" + key, nil
}

type failingPublisher struct{}

func (failingPublisher) Publish(ctx context.Context, msg evalqueue.Msg) error {
	return errors.New("broker unavailable")
}

var testNow = time.Date(2026, 9, 1, 18, 0, 0, 0, time.UTC)

func newFixture(t *testing.T) (*submission.Srvc, *submission.InMemRepo, *evalqueue.InMemQueue) {
	t.Helper()
	challenges := challenge.NewInMemRepo()
	challenges.AddChallenge(challenge.Challenge{
		ID:         1,
		Title:      "image segmentation",
		HostTeamID: 99,
		Published:  true,
		StartDate:  testNow.Add(-24 * time.Hour),
		EndDate:    testNow.Add(24 * time.Hour),
	})
	challenges.AddPhase(challenge.Phase{
		ID:                       2,
		ChallengeID:              1,
		Codename:                 "dev",
		StartDate:                testNow.Add(-24 * time.Hour),
		EndDate:                  testNow.Add(24 * time.Hour),
		IsPublic:                 true,
		MaxSubmissions:           100,
		MaxSubmissionsPerDay:     3,
		MaxConcurrentSubmissions: 10,
		ExecTimeLimitSecs:        300,
	})

	repo := submission.NewInMemRepo()
	queue := evalqueue.NewInMemQueue(nil)
	srvc := submission.NewSrvc(challenges, repo, queue, &fakeBlobs{}).
		WithClock(func() time.Time { return testNow })
	return srvc, repo, queue
}

func create(t *testing.T, srvc *submission.Srvc) (*submission.Submission, error) {
	t.Helper()
	return srvc.Create(context.Background(), submission.CreateParams{
		TeamID:      5,
		ChallengeID: 1,
		PhaseID:     2,
		FileName:    "data.zip",
		File:        []byte("PK\x03\x04predictions"),
		MethodName:  "resnet-50",
	})
}

func TestCreatePersistsAndPublishes(t *testing.T) {
	srvc, repo, queue := newFixture(t)

	sub, err := create(t, srvc)
	require.NoError(t, err)
	assert.Equal(t, submission.StatusSubmitted, sub.Status)
	assert.Equal(t, 1, sub.SubmissionNumber)
	assert.NotEmpty(t, sub.InputKey)

	stored, err := repo.Get(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, submission.StatusSubmitted, stored.Status)

	msgs := queue.Published()
	require.Len(t, msgs, 1)
	assert.Equal(t, evalqueue.Msg{ChallengeID: 1, PhaseID: 2, SubmissionID: sub.ID}, msgs[0])
}

func TestCreateSubmissionNumbersAreMonotonic(t *testing.T) {
	srvc, _, _ := newFixture(t)
	first, err := create(t, srvc)
	require.NoError(t, err)
	second, err := create(t, srvc)
	require.NoError(t, err)
	assert.Equal(t, first.SubmissionNumber+1, second.SubmissionNumber)
}

func TestCreateUnknownPhase(t *testing.T) {
	srvc, _, _ := newFixture(t)
	_, err := srvc.Create(context.Background(), submission.CreateParams{
		TeamID: 5, ChallengeID: 1, PhaseID: 404, FileName: "x", File: []byte("x"),
	})
	requireErrCode(t, err, submission.ErrCodePhaseNotFound)
}

func TestCreatePhaseOfDifferentChallenge(t *testing.T) {
	srvc, _, _ := newFixture(t)
	_, err := srvc.Create(context.Background(), submission.CreateParams{
		TeamID: 5, ChallengeID: 77, PhaseID: 2, FileName: "x", File: []byte("x"),
	})
	requireErrCode(t, err, submission.ErrCodePhaseNotFound)
}

func TestCreateInactivePhase(t *testing.T) {
	challenges := challenge.NewInMemRepo()
	challenges.AddChallenge(challenge.Challenge{
		ID: 1, Published: true,
		StartDate: testNow.Add(-48 * time.Hour), EndDate: testNow.Add(48 * time.Hour),
	})
	challenges.AddPhase(challenge.Phase{
		ID: 2, ChallengeID: 1, IsPublic: true,
		StartDate: testNow.Add(-48 * time.Hour), EndDate: testNow.Add(-24 * time.Hour),
	})
	srvc := submission.NewSrvc(challenges, submission.NewInMemRepo(), evalqueue.NewInMemQueue(nil), &fakeBlobs{}).
		WithClock(func() time.Time { return testNow })

	_, err := create(t, srvc)
	requireErrCode(t, err, submission.ErrCodePhaseInactive)
}

func TestCreatePrivatePhaseRejectedForNonHost(t *testing.T) {
	challenges := challenge.NewInMemRepo()
	challenges.AddChallenge(challenge.Challenge{
		ID: 1, HostTeamID: 99, Published: true,
		StartDate: testNow.Add(-time.Hour), EndDate: testNow.Add(time.Hour),
	})
	challenges.AddPhase(challenge.Phase{
		ID: 2, ChallengeID: 1, IsPublic: false,
		StartDate: testNow.Add(-time.Hour), EndDate: testNow.Add(time.Hour),
	})
	srvc := submission.NewSrvc(challenges, submission.NewInMemRepo(), evalqueue.NewInMemQueue(nil), &fakeBlobs{}).
		WithClock(func() time.Time { return testNow })

	_, err := create(t, srvc)
	requireErrCode(t, err, submission.ErrCodePhaseNotPublic)
}

func TestDailyQuotaExhaustedReportsTimeToMidnight(t *testing.T) {
	srvc, _, _ := newFixture(t) // MaxSubmissionsPerDay = 3

	for i := 0; i < 3; i++ {
		_, err := create(t, srvc)
		require.NoError(t, err)
	}

	_, err := create(t, srvc)
	requireErrCode(t, err, submission.ErrCodeDailyLimit)
	// testNow is 18:00 UTC, so the quota resets in six hours.
	assert.Contains(t, err.Error(), "6h0m0s")
}

func TestFailedSubmissionsDoNotCountTowardQuota(t *testing.T) {
	srvc, repo, _ := newFixture(t)

	for i := 0; i < 3; i++ {
		sub, err := create(t, srvc)
		require.NoError(t, err)
		require.NoError(t, repo.Finalize(context.Background(), submission.FinalizeParams{
			ID: sub.ID, Status: submission.StatusFailed, CompletedAt: testNow,
		}))
	}

	_, err := create(t, srvc)
	assert.NoError(t, err)
}

func TestConcurrentLimit(t *testing.T) {
	challenges := challenge.NewInMemRepo()
	challenges.AddChallenge(challenge.Challenge{
		ID: 1, Published: true,
		StartDate: testNow.Add(-time.Hour), EndDate: testNow.Add(time.Hour),
	})
	challenges.AddPhase(challenge.Phase{
		ID: 2, ChallengeID: 1, IsPublic: true,
		StartDate: testNow.Add(-time.Hour), EndDate: testNow.Add(time.Hour),
		MaxSubmissions: 100, MaxSubmissionsPerDay: 100, MaxConcurrentSubmissions: 1,
	})
	srvc := submission.NewSrvc(challenges, submission.NewInMemRepo(), evalqueue.NewInMemQueue(nil), &fakeBlobs{}).
		WithClock(func() time.Time { return testNow })

	_, err := create(t, srvc)
	require.NoError(t, err)
	_, err = create(t, srvc)
	requireErrCode(t, err, submission.ErrCodeConcurrentLimit)
}

func TestTransferFailureMarksSubmissionFailed(t *testing.T) {
	challenges := challenge.NewInMemRepo()
	challenges.AddChallenge(challenge.Challenge{
		ID: 1, Published: true,
		StartDate: testNow.Add(-time.Hour), EndDate: testNow.Add(time.Hour),
	})
	challenges.AddPhase(challenge.Phase{
		ID: 2, ChallengeID: 1, IsPublic: true,
		StartDate: testNow.Add(-time.Hour), EndDate: testNow.Add(time.Hour),
	})
	repo := submission.NewInMemRepo()
	srvc := submission.NewSrvc(challenges, repo, evalqueue.NewInMemQueue(nil), &fakeBlobs{failUpload: true}).
		WithClock(func() time.Time { return testNow })

	_, err := create(t, srvc)
	requireErrCode(t, err, submission.ErrCodeTransferFailed)

	// Row exists and is FAILED with the transfer error captured.
	stored, err := repo.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, submission.StatusFailed, stored.Status)
	assert.Contains(t, stored.FailureReason, "input transfer failed")
}

func TestPublishFailureLeavesRowSubmitted(t *testing.T) {
	challenges := challenge.NewInMemRepo()
	challenges.AddChallenge(challenge.Challenge{
		ID: 1, Published: true,
		StartDate: testNow.Add(-time.Hour), EndDate: testNow.Add(time.Hour),
	})
	challenges.AddPhase(challenge.Phase{
		ID: 2, ChallengeID: 1, IsPublic: true,
		StartDate: testNow.Add(-time.Hour), EndDate: testNow.Add(time.Hour),
	})
	repo := submission.NewInMemRepo()
	srvc := submission.NewSrvc(challenges, repo, failingPublisher{}, &fakeBlobs{}).
		WithClock(func() time.Time { return testNow })

	_, err := create(t, srvc)
	requireErrCode(t, err, submission.ErrCodePublishFailed)

	stored, err := repo.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, submission.StatusSubmitted, stored.Status,
		"row must stay SUBMITTED so an operator can requeue it")
}

func TestRequeueStuck(t *testing.T) {
	challenges := challenge.NewInMemRepo()
	challenges.AddChallenge(challenge.Challenge{
		ID: 1, Published: true,
		StartDate: testNow.Add(-time.Hour), EndDate: testNow.Add(time.Hour),
	})
	challenges.AddPhase(challenge.Phase{
		ID: 2, ChallengeID: 1, IsPublic: true,
		StartDate: testNow.Add(-time.Hour), EndDate: testNow.Add(time.Hour),
	})
	repo := submission.NewInMemRepo()

	// First service publishes into a broken broker.
	broken := submission.NewSrvc(challenges, repo, failingPublisher{}, &fakeBlobs{}).
		WithClock(func() time.Time { return testNow.Add(-10 * time.Minute) })
	_, err := create(t, broken)
	requireErrCode(t, err, submission.ErrCodePublishFailed)

	// A healthy service requeues the stuck row.
	queue := evalqueue.NewInMemQueue(nil)
	healthy := submission.NewSrvc(challenges, repo, queue, &fakeBlobs{}).
		WithClock(func() time.Time { return testNow })
	requeued, err := healthy.RequeueStuck(context.Background(), 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, requeued)
	require.Len(t, queue.Published(), 1)
	assert.Equal(t, int64(1), queue.Published()[0].SubmissionID)
}

func TestCancelOnlyBeforeRunning(t *testing.T) {
	srvc, repo, _ := newFixture(t)
	sub, err := create(t, srvc)
	require.NoError(t, err)

	require.NoError(t, srvc.Cancel(context.Background(), sub.ID, 5))
	stored, _ := repo.Get(context.Background(), sub.ID)
	assert.Equal(t, submission.StatusCancelled, stored.Status)

	// Cancelling again (or after running) conflicts.
	err = srvc.Cancel(context.Background(), sub.ID, 5)
	requireErrCode(t, err, submission.ErrCodeInvalidStateForOp)
}

func TestCancelOtherTeamsSubmission(t *testing.T) {
	srvc, _, _ := newFixture(t)
	sub, err := create(t, srvc)
	require.NoError(t, err)
	err = srvc.Cancel(context.Background(), sub.ID, 6)
	requireErrCode(t, err, submission.ErrCodeNotSubmissionOwner)
}

func TestSetVisibilityStampsWhenMadePublic(t *testing.T) {
	srvc, repo, _ := newFixture(t)
	sub, err := create(t, srvc)
	require.NoError(t, err)

	require.NoError(t, srvc.SetVisibility(context.Background(), sub.ID, 5, true))
	stored, _ := repo.Get(context.Background(), sub.ID)
	assert.True(t, stored.IsPublic)
	require.NotNil(t, stored.WhenMadePublic)
	assert.Equal(t, testNow, *stored.WhenMadePublic)
}

func requireErrCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	srvcErr := &srvcerror.Error{}
	require.True(t, errors.As(err, &srvcErr), fmt.Sprintf("expected srvcerror, got %T: %v", err, err))
	require.Equal(t, code, srvcErr.ErrorCode())
}
