package worker_test

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/kaggleboard/backend/assetcache"
	"github.com/kaggleboard/backend/blobref"
	"github.com/kaggleboard/backend/challenge"
	"github.com/kaggleboard/backend/evalqueue"
	"github.com/kaggleboard/backend/evalrunner"
	"github.com/kaggleboard/backend/leaderboard"
	"github.com/kaggleboard/backend/submission"
	"github.com/kaggleboard/backend/worker"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memBlobs backs both sides of the blob store: the API uploads into it and
// the worker downloads from it.
type memBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemBlobs() *memBlobs {
	return &memBlobs{objects: map[string][]byte{}}
}

func (b *memBlobs) Upload(_ context.Context, content []byte, key string, _ string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = append([]byte(nil), content...)
	return "https://blobs.test/" + key, nil
}

func (b *memBlobs) put(key string, content []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = content
}

func (b *memBlobs) download(_ context.Context, url string, path string) error {
	b.mu.Lock()
	body, ok := b.objects[url]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("no blob at %s", url)
	}
	return os.WriteFile(path, body, 0644)
}

// scorerScript writes a fixed scoring result regardless of input. The flag
// walk mirrors the invocation protocol the runner uses.
const scorerScript = `#!/bin/sh
result=""
while [ $# -gt 0 ]; do
	if [ "$1" = "--result" ]; then
		result="$2"
	fi
	shift
done
echo "scoring started"
cat > "$result" <<'EOF'
{"result": [{"split": "test-split", "show_to_participant": true, "accuracies": {"score": 0.8}}]}
EOF
`

func buildScorerArchive(t *testing.T) []byte {
	t.Helper()
	var raw bytes.Buffer
	tw := tar.NewWriter(&raw)
	require.NoError(t, tw.WriteHeader(&tar.Header{
		Name: "evaluate", Mode: 0755, Size: int64(len(scorerScript)),
		Typeflag: tar.TypeReg,
	}))
	_, err := tw.Write([]byte(scorerScript))
	require.NoError(t, err)
	require.NoError(t, tw.Close())

	var compressed bytes.Buffer
	zw, err := zstd.NewWriter(&compressed)
	require.NoError(t, err)
	_, err = zw.Write(raw.Bytes())
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return compressed.Bytes()
}

type fixture struct {
	blobs      *memBlobs
	subs       *submission.InMemRepo
	challenges *challenge.InMemRepo
	queue      *evalqueue.InMemQueue
	board      *leaderboard.InMemStore
	srvc       *submission.Srvc
	worker     *worker.Worker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	blobs := newMemBlobs()
	blobs.put("challenges/1/code.tar.zst", buildScorerArchive(t))
	blobs.put("challenges/1/phases/2/annotation", []byte("ground truth"))

	challenges := challenge.NewInMemRepo()
	challenges.AddChallenge(challenge.Challenge{
		ID: 1, Published: true, HostTeamID: 9,
		StartDate:     time.Now().Add(-time.Hour),
		EndDate:       time.Now().Add(time.Hour),
		EvalScriptKey: "challenges/1/code.tar.zst",
	})
	challenges.AddPhase(challenge.Phase{
		ID: 2, ChallengeID: 1, Codename: "dev", IsPublic: true,
		StartDate:                time.Now().Add(-time.Hour),
		EndDate:                  time.Now().Add(time.Hour),
		AnnotationKey:            "challenges/1/phases/2/annotation",
		MaxSubmissions:           100,
		MaxSubmissionsPerDay:     100,
		MaxConcurrentSubmissions: 10,
		ExecTimeLimitSecs:        60,
	})
	challenges.AddPhaseSplit(challenge.PhaseSplit{
		ID: 10, PhaseID: 2,
		Split: challenge.DatasetSplit{ID: 1, Codename: "test-split"},
		Schema: challenge.LeaderboardSchema{
			ID: 1, DefaultOrderBy: "score", Labels: []string{"score"},
		},
		Visibility: challenge.VisibilityPublic,
	})

	subs := submission.NewInMemRepo()
	queue := evalqueue.NewInMemQueue(nil)
	srvc := submission.NewSrvc(challenges, subs, queue, blobs)
	board := leaderboard.NewInMemStore(subs)

	cache, err := assetcache.New(t.TempDir(), blobs.download)
	require.NoError(t, err)
	runner := evalrunner.NewRunner(subs, blobs, leaderboard.NewUpdater(board))

	// Resolver in production mode passes stored keys through untouched,
	// which is exactly what the in-mem blob map keys on.
	resolver := blobref.NewResolver(blobref.ModeProduction, "")

	return &fixture{
		blobs:      blobs,
		subs:       subs,
		challenges: challenges,
		queue:      queue,
		board:      board,
		srvc:       srvc,
		worker:     worker.New(subs, challenges, cache, runner, resolver, blobs.download, srvc),
	}
}

// The whole pipeline: a created submission flows through the queue, gets
// scored by the challenge's own evaluation script and lands on the board.
func TestSubmissionFlowsFromCreateToLeaderboard(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	sub, err := f.srvc.Create(ctx, submission.CreateParams{
		TeamID: 5, ChallengeID: 1, PhaseID: 2,
		FileName: "predictions.csv",
		File:     []byte("id,label\n1,cat\n"),
		IsPublic: true,
	})
	require.NoError(t, err)
	require.Len(t, f.queue.Published(), 1)

	outcome := f.worker.Handle(ctx, f.queue.Published()[0])
	assert.Equal(t, evalqueue.Done, outcome)

	stored, err := f.subs.Get(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, submission.StatusFinished, stored.Status)
	assert.NotNil(t, stored.StartedAt)
	assert.NotNil(t, stored.CompletedAt)
	assert.NotNil(t, stored.RetentionEligibleDate, "retention date stamped after finalize")
	assert.NotEmpty(t, stored.StdoutKey)
	assert.NotEmpty(t, stored.ResultKey)

	rows := f.board.Rows()
	require.Len(t, rows, 1)
	assert.Equal(t, sub.ID, rows[0].SubmissionID)
	assert.Equal(t, 0.8, rows[0].Result["score"])
}

func TestHandleRedeliveredMessageIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	sub, err := f.srvc.Create(ctx, submission.CreateParams{
		TeamID: 5, ChallengeID: 1, PhaseID: 2,
		FileName: "predictions.csv", File: []byte("data"), IsPublic: true,
	})
	require.NoError(t, err)
	msg := f.queue.Published()[0]

	require.Equal(t, evalqueue.Done, f.worker.Handle(ctx, msg))
	require.Equal(t, evalqueue.Done, f.worker.Handle(ctx, msg),
		"redelivery of a terminal submission must ack without re-evaluating")

	assert.Len(t, f.board.Rows(), 1, "no duplicate leaderboard rows")
	stored, err := f.subs.Get(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, submission.StatusFinished, stored.Status)
}

func TestHandleMissingSubmissionRowPoisons(t *testing.T) {
	f := newFixture(t)
	outcome := f.worker.Handle(context.Background(), evalqueue.Msg{
		ChallengeID: 1, PhaseID: 2, SubmissionID: 777,
	})
	assert.Equal(t, evalqueue.Poison, outcome)
}

func TestHandleMissingChallengeConfigPoisons(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	sub, err := f.srvc.Create(ctx, submission.CreateParams{
		TeamID: 5, ChallengeID: 1, PhaseID: 2,
		FileName: "p.csv", File: []byte("data"), IsPublic: true,
	})
	require.NoError(t, err)

	outcome := f.worker.Handle(ctx, evalqueue.Msg{
		ChallengeID: 99, PhaseID: 2, SubmissionID: sub.ID,
	})
	assert.Equal(t, evalqueue.Poison, outcome)
}

func TestHandleBlobStoreOutageRetries(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	sub, err := f.srvc.Create(ctx, submission.CreateParams{
		TeamID: 5, ChallengeID: 1, PhaseID: 2,
		FileName: "p.csv", File: []byte("data"), IsPublic: true,
	})
	require.NoError(t, err)
	msg := f.queue.Published()[0]

	// Evaluation code blob vanishes; the worker must leave the message for
	// redelivery instead of failing the submission.
	f.blobs.mu.Lock()
	archive := f.blobs.objects["challenges/1/code.tar.zst"]
	delete(f.blobs.objects, "challenges/1/code.tar.zst")
	f.blobs.mu.Unlock()

	require.Equal(t, evalqueue.Retry, f.worker.Handle(ctx, msg))
	stored, err := f.subs.Get(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, submission.StatusSubmitted, stored.Status)

	f.blobs.put("challenges/1/code.tar.zst", archive)
	require.Equal(t, evalqueue.Done, f.worker.Handle(ctx, msg))
	stored, err = f.subs.Get(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, submission.StatusFinished, stored.Status)
}
