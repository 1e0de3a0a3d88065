package assetcache

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/kaggleboard/backend/evalrunner"
	"github.com/klauspost/compress/zstd"
)

// extractTarZst unpacks a zstd-compressed tarball into dest. Entries that
// would escape dest are rejected; archives come from challenge hosts, not
// from us.
func extractTarZst(archivePath string, dest string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return fmt.Errorf("failed to init zstd reader: %w", err)
	}
	defer zr.Close()

	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read tar entry: %w", err)
		}

		target, err := safeJoin(dest, hdr.Name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return fmt.Errorf("failed to create dir %s: %w", hdr.Name, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return fmt.Errorf("failed to create parent dir for %s: %w", hdr.Name, err)
			}
			if err := writeEntry(target, tr, hdr.FileInfo().Mode().Perm()); err != nil {
				return fmt.Errorf("failed to extract %s: %w", hdr.Name, err)
			}
		default:
			// Symlinks and devices have no business in an evaluation
			// code archive.
			return fmt.Errorf("unsupported tar entry type %d for %s", hdr.Typeflag, hdr.Name)
		}
	}
}

func safeJoin(dest string, name string) (string, error) {
	cleaned := filepath.Clean(name)
	if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(os.PathSeparator)) || filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("tar entry %s escapes extraction dir", name)
	}
	return filepath.Join(dest, cleaned), nil
}

func writeEntry(target string, r io.Reader, perm os.FileMode) error {
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// loadScorer locates the evaluation entrypoint inside an extracted code dir.
// A challenge ships either an executable named "evaluate" or a python script
// "evaluate.py"; the former wins when both exist.
func loadScorer(codeDir string) (*evalrunner.ProcScorer, error) {
	binPath := filepath.Join(codeDir, "evaluate")
	if info, err := os.Stat(binPath); err == nil && !info.IsDir() && info.Mode().Perm()&0111 != 0 {
		return &evalrunner.ProcScorer{Program: binPath, Dir: codeDir}, nil
	}

	scriptPath := filepath.Join(codeDir, "evaluate.py")
	if info, err := os.Stat(scriptPath); err == nil && !info.IsDir() {
		return &evalrunner.ProcScorer{
			Program: "python3",
			Args:    []string{scriptPath},
			Dir:     codeDir,
		}, nil
	}

	return nil, fmt.Errorf("no evaluation entrypoint found in %s (want executable evaluate or evaluate.py)", codeDir)
}
