package assetcache_test

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/kaggleboard/backend/assetcache"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tarEntry struct {
	name string
	body string
	mode int64
}

func buildTarZst(t *testing.T, entries []tarEntry) []byte {
	t.Helper()
	var raw bytes.Buffer
	tw := tar.NewWriter(&raw)
	for _, e := range entries {
		mode := e.mode
		if mode == 0 {
			mode = 0644
		}
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name: e.name, Mode: mode, Size: int64(len(e.body)),
			Typeflag: tar.TypeReg,
		}))
		_, err := tw.Write([]byte(e.body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())

	var compressed bytes.Buffer
	zw, err := zstd.NewWriter(&compressed)
	require.NoError(t, err)
	_, err = zw.Write(raw.Bytes())
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return compressed.Bytes()
}

// countingDownloader serves fixed bodies per URL and counts fetches.
type countingDownloader struct {
	bodies map[string][]byte
	errs   map[string]error
	calls  map[string]int
}

func newCountingDownloader() *countingDownloader {
	return &countingDownloader{
		bodies: map[string][]byte{},
		errs:   map[string]error{},
		calls:  map[string]int{},
	}
}

func (d *countingDownloader) download(_ context.Context, url string, path string) error {
	d.calls[url]++
	if err := d.errs[url]; err != nil {
		return err
	}
	body, ok := d.bodies[url]
	if !ok {
		return errors.New("no such blob")
	}
	return os.WriteFile(path, body, 0644)
}

func TestEnsureChallengeDownloadsOnceAndFindsEntrypoint(t *testing.T) {
	dl := newCountingDownloader()
	dl.bodies["code-url"] = buildTarZst(t, []tarEntry{
		{name: "evaluate.py", body: "print('ok')"},
		{name: "lib/helpers.py", body: "pass"},
	})

	cache, err := assetcache.New(t.TempDir(), dl.download)
	require.NoError(t, err)

	scorer, err := cache.EnsureChallenge(context.Background(), 1, "code-url", false)
	require.NoError(t, err)
	assert.Equal(t, "python3", scorer.Program)
	require.Len(t, scorer.Args, 1)
	assert.FileExists(t, scorer.Args[0])
	assert.FileExists(t, filepath.Join(scorer.Dir, "lib", "helpers.py"))

	again, err := cache.EnsureChallenge(context.Background(), 1, "code-url", false)
	require.NoError(t, err)
	assert.Same(t, scorer, again)
	assert.Equal(t, 1, dl.calls["code-url"], "second ensure must hit the cache")
}

func TestEnsureChallengePrefersExecutableOverScript(t *testing.T) {
	dl := newCountingDownloader()
	dl.bodies["code-url"] = buildTarZst(t, []tarEntry{
		{name: "evaluate", body: "#!/bin/sh\n", mode: 0755},
		{name: "evaluate.py", body: "print('ok')"},
	})

	cache, err := assetcache.New(t.TempDir(), dl.download)
	require.NoError(t, err)

	scorer, err := cache.EnsureChallenge(context.Background(), 1, "code-url", false)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(scorer.Dir, "evaluate"), scorer.Program)
	assert.Empty(t, scorer.Args)
}

func TestEnsureChallengeForceRedownloads(t *testing.T) {
	dl := newCountingDownloader()
	dl.bodies["code-url"] = buildTarZst(t, []tarEntry{
		{name: "evaluate.py", body: "print('v1')"},
	})

	cache, err := assetcache.New(t.TempDir(), dl.download)
	require.NoError(t, err)

	_, err = cache.EnsureChallenge(context.Background(), 1, "code-url", false)
	require.NoError(t, err)

	dl.bodies["code-url"] = buildTarZst(t, []tarEntry{
		{name: "evaluate.py", body: "print('v2')"},
	})
	scorer, err := cache.EnsureChallenge(context.Background(), 1, "code-url", true)
	require.NoError(t, err)
	assert.Equal(t, 2, dl.calls["code-url"])

	body, err := os.ReadFile(scorer.Args[0])
	require.NoError(t, err)
	assert.Equal(t, "print('v2')", string(body))
}

func TestEnsureChallengeFailureIsRetriable(t *testing.T) {
	dl := newCountingDownloader()
	dl.errs["code-url"] = errors.New("blob store down")

	cache, err := assetcache.New(t.TempDir(), dl.download)
	require.NoError(t, err)

	_, err = cache.EnsureChallenge(context.Background(), 1, "code-url", false)
	require.Error(t, err)

	// Blob store recovers; the next ensure must try again instead of
	// serving a half-loaded entry.
	delete(dl.errs, "code-url")
	dl.bodies["code-url"] = buildTarZst(t, []tarEntry{
		{name: "evaluate.py", body: "print('ok')"},
	})
	scorer, err := cache.EnsureChallenge(context.Background(), 1, "code-url", false)
	require.NoError(t, err)
	assert.NotNil(t, scorer)
	assert.Equal(t, 2, dl.calls["code-url"])
}

func TestEnsureChallengeRejectsMissingEntrypoint(t *testing.T) {
	dl := newCountingDownloader()
	dl.bodies["code-url"] = buildTarZst(t, []tarEntry{
		{name: "readme.txt", body: "no scorer here"},
	})

	cache, err := assetcache.New(t.TempDir(), dl.download)
	require.NoError(t, err)

	_, err = cache.EnsureChallenge(context.Background(), 1, "code-url", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "entrypoint")
}

func TestEnsureChallengeRejectsPathTraversal(t *testing.T) {
	dl := newCountingDownloader()
	dl.bodies["code-url"] = buildTarZst(t, []tarEntry{
		{name: "../outside.py", body: "print('escape')"},
	})

	root := t.TempDir()
	cache, err := assetcache.New(root, dl.download)
	require.NoError(t, err)

	_, err = cache.EnsureChallenge(context.Background(), 1, "code-url", false)
	require.Error(t, err)
	assert.NoFileExists(t, filepath.Join(root, "challenges", "1", "outside.py"))
}

func TestEnsurePhaseAnnotationCachesPerPhase(t *testing.T) {
	dl := newCountingDownloader()
	dl.bodies["ann-url"] = []byte("ground truth")

	cache, err := assetcache.New(t.TempDir(), dl.download)
	require.NoError(t, err)

	path, err := cache.EnsurePhaseAnnotation(context.Background(), 1, 2, "ann-url")
	require.NoError(t, err)
	body, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "ground truth", string(body))

	again, err := cache.EnsurePhaseAnnotation(context.Background(), 1, 2, "ann-url")
	require.NoError(t, err)
	assert.Equal(t, path, again)
	assert.Equal(t, 1, dl.calls["ann-url"])
}

func TestEvictDropsChallengeEntries(t *testing.T) {
	dl := newCountingDownloader()
	dl.bodies["code-url"] = buildTarZst(t, []tarEntry{
		{name: "evaluate.py", body: "print('ok')"},
	})
	dl.bodies["ann-url"] = []byte("gt")

	cache, err := assetcache.New(t.TempDir(), dl.download)
	require.NoError(t, err)

	_, err = cache.EnsureChallenge(context.Background(), 1, "code-url", false)
	require.NoError(t, err)
	_, err = cache.EnsurePhaseAnnotation(context.Background(), 1, 2, "ann-url")
	require.NoError(t, err)

	cache.Evict(1)

	_, err = cache.EnsureChallenge(context.Background(), 1, "code-url", false)
	require.NoError(t, err)
	_, err = cache.EnsurePhaseAnnotation(context.Background(), 1, 2, "ann-url")
	require.NoError(t, err)
	assert.Equal(t, 2, dl.calls["code-url"])
	assert.Equal(t, 2, dl.calls["ann-url"])
}
