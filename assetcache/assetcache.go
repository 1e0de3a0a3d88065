// Package assetcache keeps a worker-local on-disk copy of each challenge's
// evaluation code and each phase's ground-truth annotation file.
//
// The cache is process-lifetime scoped and re-derivable from the blob store:
// a worker restart simply triggers a re-download on the next submission.
// Workers never coordinate over it.
package assetcache

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/kaggleboard/backend/evalrunner"
	"github.com/puzpuzpuz/xsync/v3"
)

// DownloadFunc fetches a URL into a local file. The blob reference has
// already been resolved to an absolute URL by the caller.
type DownloadFunc func(ctx context.Context, url string, path string) error

type Cache struct {
	logger   *slog.Logger
	root     string
	download DownloadFunc

	// scorers maps challenge id to its loaded scoring handle; annotations
	// maps "challengeID/phaseID" to the local annotation path. Entries are
	// only stored after a fully successful load, so a failed load is
	// naturally retried by the next submission.
	scorers     *xsync.MapOf[int64, *evalrunner.ProcScorer]
	annotations *xsync.MapOf[string, string]
}

func New(root string, download DownloadFunc) (*Cache, error) {
	for _, dir := range []string{root, filepath.Join(root, "tmp")} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create cache dir %s: %w", dir, err)
		}
	}
	return &Cache{
		logger:      slog.Default().With("module", "assetcache"),
		root:        root,
		download:    download,
		scorers:     xsync.NewMapOf[int64, *evalrunner.ProcScorer](),
		annotations: xsync.NewMapOf[string, string](),
	}, nil
}

// EnsureChallenge materializes the challenge's evaluation code archive and
// returns its scoring handle. Idempotent within the worker's lifetime unless
// force is set; a failed load leaves no cache entry behind.
func (c *Cache) EnsureChallenge(ctx context.Context, challengeID int64, archiveURL string, force bool) (*evalrunner.ProcScorer, error) {
	if !force {
		if scorer, ok := c.scorers.Load(challengeID); ok {
			return scorer, nil
		}
	}

	codeDir := filepath.Join(c.root, "challenges", strconv.FormatInt(challengeID, 10), "code")
	if err := os.RemoveAll(codeDir); err != nil {
		return nil, fmt.Errorf("failed to clear challenge code dir: %w", err)
	}
	if err := os.MkdirAll(codeDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create challenge code dir: %w", err)
	}

	archivePath := filepath.Join(c.root, "tmp", uuid.NewString()+".tar.zst")
	start := time.Now()
	if err := c.download(ctx, archiveURL, archivePath); err != nil {
		return nil, fmt.Errorf("failed to download evaluation code for challenge %d: %w", challengeID, err)
	}
	defer os.Remove(archivePath)

	if err := extractTarZst(archivePath, codeDir); err != nil {
		return nil, fmt.Errorf("corrupt evaluation code archive for challenge %d: %w", challengeID, err)
	}

	scorer, err := loadScorer(codeDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load evaluation code for challenge %d: %w", challengeID, err)
	}

	c.scorers.Store(challengeID, scorer)
	c.logger.Info("challenge evaluation code loaded",
		"challenge_id", challengeID,
		"took", time.Since(start))
	return scorer, nil
}

// EnsurePhaseAnnotation downloads the phase's ground-truth file if this
// worker has not fetched it yet, and returns its local path.
func (c *Cache) EnsurePhaseAnnotation(ctx context.Context, challengeID, phaseID int64, annotationURL string) (string, error) {
	key := fmt.Sprintf("%d/%d", challengeID, phaseID)
	if path, ok := c.annotations.Load(key); ok {
		return path, nil
	}

	dir := filepath.Join(c.root, "annotations",
		strconv.FormatInt(challengeID, 10), strconv.FormatInt(phaseID, 10))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create annotation dir: %w", err)
	}

	path := filepath.Join(dir, "annotation")
	tmpPath := filepath.Join(c.root, "tmp", uuid.NewString())
	if err := c.download(ctx, annotationURL, tmpPath); err != nil {
		return "", fmt.Errorf("failed to download annotation for phase %d: %w", phaseID, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return "", fmt.Errorf("failed to move annotation into cache: %w", err)
	}

	c.annotations.Store(key, path)
	return path, nil
}

// Evict drops a challenge's cached scorer and annotation entries. The next
// submission for it reloads everything from the blob store.
func (c *Cache) Evict(challengeID int64) {
	c.scorers.Delete(challengeID)
	prefix := strconv.FormatInt(challengeID, 10) + "/"
	c.annotations.Range(func(key string, _ string) bool {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			c.annotations.Delete(key)
		}
		return true
	})
}
