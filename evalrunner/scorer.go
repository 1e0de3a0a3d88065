package evalrunner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/kaggleboard/backend/evalresult"
)

// Metadata is the submission-supplied context handed to scoring code.
type Metadata struct {
	MethodName        string            `json:"method_name"`
	MethodDescription string            `json:"method_description"`
	Extra             map[string]string `json:"extra,omitempty"`
}

// Scorer is the capability a loaded challenge evaluation module exposes:
// score one submission output against one phase's ground truth.
//
// Implementations must honor context cancellation with a hard stop; scoring
// code is untrusted and cannot be relied on to yield.
type Scorer interface {
	Evaluate(ctx context.Context, annotationPath, userOutputPath, phaseCodename string, meta Metadata, scratchDir string) (*ScoreOutput, error)
}

// ScoreOutput is what one scoring invocation produced. Stdout/Stderr are
// captured in full regardless of success.
type ScoreOutput struct {
	Result *evalresult.Result
	Stdout []byte
	Stderr []byte
}

// ScorerFunc adapts a function to the Scorer interface; tests use it.
type ScorerFunc func(ctx context.Context, annotationPath, userOutputPath, phaseCodename string, meta Metadata, scratchDir string) (*ScoreOutput, error)

func (f ScorerFunc) Evaluate(ctx context.Context, annotationPath, userOutputPath, phaseCodename string, meta Metadata, scratchDir string) (*ScoreOutput, error) {
	return f(ctx, annotationPath, userOutputPath, phaseCodename, meta, scratchDir)
}

// ProcScorer runs challenge evaluation code as a child process. Keeping the
// untrusted code out of the worker process makes the hard-cancel timeout a
// process kill and shields the worker from scorer crashes.
//
// Invocation protocol:
//
//	<program> [args...] <annotation> <user-output> <phase-codename> \
//	    --metadata <metadata.json> --result <result.json>
//
// The scorer writes its structured result to the --result path; its stdout
// and stderr are captured as submission artifacts.
type ProcScorer struct {
	Program string
	Args    []string
	Dir     string // working directory, the extracted challenge code

	// KillDelay bounds how long after a kill the process gets to flush
	// before Wait gives up on its pipes.
	KillDelay time.Duration
}

func (p *ProcScorer) Evaluate(ctx context.Context, annotationPath, userOutputPath, phaseCodename string, meta Metadata, scratchDir string) (*ScoreOutput, error) {
	metadataPath := filepath.Join(scratchDir, "metadata.json")
	metadataJson, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := os.WriteFile(metadataPath, metadataJson, 0644); err != nil {
		return nil, fmt.Errorf("failed to write metadata file: %w", err)
	}
	resultPath := filepath.Join(scratchDir, "result.json")

	args := append([]string{}, p.Args...)
	args = append(args,
		annotationPath, userOutputPath, phaseCodename,
		"--metadata", metadataPath,
		"--result", resultPath,
	)

	cmd := exec.CommandContext(ctx, p.Program, args...)
	cmd.Dir = p.Dir
	killDelay := p.KillDelay
	if killDelay == 0 {
		killDelay = 5 * time.Second
	}
	cmd.WaitDelay = killDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	out := &ScoreOutput{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}

	if ctx.Err() != nil {
		// Timed out or cancelled; the process has been killed.
		return out, ctx.Err()
	}
	if runErr != nil {
		return out, fmt.Errorf("scoring process failed: %w", runErr)
	}

	rawResult, err := os.ReadFile(resultPath)
	if err != nil {
		return out, fmt.Errorf("scoring process wrote no result file: %w", err)
	}
	res, err := evalresult.Parse(rawResult)
	if err != nil {
		return out, err
	}
	out.Result = res
	return out, nil
}
