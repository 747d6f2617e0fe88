package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/go-cmp/cmp"
)

type Status string

const (
	StatusPass  Status = "PASS"
	StatusFail  Status = "FAIL"
	StatusSkip  Status = "SKIP"
	StatusError Status = "ERROR"
)

type Execution struct {
	Stdout         string        `json:"stdout"`
	Stderr         string        `json:"stderr,omitempty"`
	ExitCode       int           `json:"exitCode"`
	Duration       time.Duration `json:"duration,omitempty"`
	TimedOut       bool          `json:"timed_out,omitempty"`
	UnstableOutput bool          `json:"unstable_output,omitempty"`
}

// Golden is the stored expectation for one fixture.
type Golden struct {
	Stdout   string `json:"stdout"`
	ExitCode int    `json:"exitCode"`
}

type TargetResult struct {
	BinaryPath string    `json:"binary_path,omitempty"`
	Compile    Execution `json:"compile"`
	Run        *Execution `json:"run,omitempty"`
}

type FileTestResult struct {
	File    string        `json:"file"`
	Status  Status        `json:"status"`
	Message string        `json:"message,omitempty"`
	Diff    string        `json:"diff,omitempty"`
	Golden  *Golden       `json:"golden,omitempty"`
	Target  *TargetResult `json:"target,omitempty"`
}

type task struct {
	file string
	hash uint64
}

func hashFile(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	h := xxhash.New()
	if _, err := io.Copy(h, f); err != nil {
		return 0, err
	}
	return h.Sum64(), nil
}

func goldenPath(sourceFile string) string {
	return filepath.Join(filepath.Dir(sourceFile), "."+filepath.Base(sourceFile)+".json")
}

func readGolden(sourceFile string) (*Golden, error) {
	data, err := os.ReadFile(goldenPath(sourceFile))
	if err != nil {
		return nil, err
	}
	var g Golden
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("could not parse golden file %s: %w", goldenPath(sourceFile), err)
	}
	return &g, nil
}

func writeGolden(sourceFile string, g *Golden) error {
	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(goldenPath(sourceFile), append(data, '\n'), 0o644)
}

func testFile(t task, tempDir string, runnable bool) *FileTestResult {
	res := &FileTestResult{File: t.file}
	golden, err := readGolden(t.file)
	switch {
	case err == nil:
		res.Golden = golden
	case !errors.Is(err, os.ErrNotExist):
		res.Status, res.Message = StatusError, err.Error()
		return res
	case !*update:
		res.Status, res.Message = StatusSkip, "Cannot test without a corresponding .json golden file"
		return res
	}

	target, err := compileAndRun(t, tempDir, runnable)
	res.Target = target
	if err != nil {
		res.Status, res.Message = StatusFail, err.Error()
		res.Diff = fmt.Sprintf("Compiler STDERR:\n%s", target.Compile.Stderr)
		return res
	}
	if target.Run == nil {
		res.Status, res.Message = StatusPass, "Compiled; not run on this host"
		return res
	}

	got := &Golden{Stdout: target.Run.Stdout, ExitCode: target.Run.ExitCode}
	if *update {
		if err := writeGolden(t.file, got); err != nil {
			res.Status, res.Message = StatusError, err.Error()
			return res
		}
		res.Status, res.Message, res.Golden = StatusPass, "Golden file written", got
		return res
	}
	return compareWithGolden(res, golden, target.Run)
}

func compareWithGolden(res *FileTestResult, golden *Golden, run *Execution) *FileTestResult {
	var diffs strings.Builder
	if run.TimedOut {
		diffs.WriteString("Run timed out\n")
	}
	if run.UnstableOutput {
		diffs.WriteString("Output differs between runs\n")
	}
	if golden.ExitCode != run.ExitCode {
		fmt.Fprintf(&diffs, "Exit Code mismatch:\n  - Golden: %d\n  - Target: %d\n", golden.ExitCode, run.ExitCode)
	}
	ignored := ignoredSubstrings()
	if filterOutput(golden.Stdout, ignored) != filterOutput(run.Stdout, ignored) {
		fmt.Fprintf(&diffs, "STDOUT mismatch:\n%s", cmp.Diff(golden.Stdout, run.Stdout))
	}
	if diffs.Len() > 0 {
		res.Status, res.Message, res.Diff = StatusFail, "Runtime output or exit code mismatch", diffs.String()
		return res
	}
	res.Status, res.Message = StatusPass, "Output matches golden file"
	return res
}

// executeCommand runs a command with a timeout and captures its output.
func executeCommand(ctx context.Context, command string, args ...string) Execution {
	start := time.Now()
	cmd := exec.CommandContext(ctx, command, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()

	res := Execution{Stdout: stdout.String(), Stderr: stderr.String(), Duration: time.Since(start)}
	var exitErr *exec.ExitError
	switch {
	case ctx.Err() == context.DeadlineExceeded:
		res.TimedOut = true
		res.ExitCode = -1
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	case err != nil:
		res.ExitCode = -2
		res.Stderr += "\nExecution error: " + err.Error()
	}
	return res
}

// compileAndRun names the image after the source hash so reruns of an
// unchanged fixture reuse it within one suite run.
func compileAndRun(t task, tempDir string, runnable bool) (*TargetResult, error) {
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	binaryPath := filepath.Join(tempDir, fmt.Sprintf("%016x", t.hash))
	args := []string{"-o", binaryPath}
	if *target != "" {
		args = append(args, "-t", *target)
	}
	args = append(args, strings.Fields(*compilerArg)...)
	args = append(args, t.file)

	result := &TargetResult{BinaryPath: binaryPath}
	result.Compile = executeCommand(ctx, *compiler, args...)
	if result.Compile.ExitCode != 0 || result.Compile.TimedOut {
		return result, fmt.Errorf("compilation failed with exit code %d", result.Compile.ExitCode)
	}
	if _, err := os.Stat(binaryPath); err != nil {
		return result, fmt.Errorf("compilation succeeded but image was not created at %s", binaryPath)
	}
	if !runnable {
		return result, nil
	}

	ignored := ignoredSubstrings()
	var first Execution
	for i := 0; i < *runs; i++ {
		runCtx, runCancel := context.WithTimeout(context.Background(), *timeout)
		r := executeCommand(runCtx, binaryPath)
		runCancel()
		if i == 0 {
			first = r
		} else if r.ExitCode != first.ExitCode || filterOutput(r.Stdout, ignored) != filterOutput(first.Stdout, ignored) {
			first.UnstableOutput = true
			break
		} else if r.Duration < first.Duration {
			first.Duration = r.Duration
		}
		if r.TimedOut {
			break
		}
	}
	result.Run = &first
	return result, nil
}

func ignoredSubstrings() []string {
	if *ignoreLines == "" {
		return nil
	}
	return strings.Split(*ignoreLines, ",")
}

// filterOutput removes lines containing any of the given substrings
func filterOutput(output string, ignored []string) string {
	if len(ignored) == 0 || output == "" {
		return output
	}
	lines := strings.Split(output, "\n")
	kept := lines[:0]
	for _, line := range lines {
		drop := false
		for _, sub := range ignored {
			if sub != "" && strings.Contains(line, sub) {
				drop = true
				break
			}
		}
		if !drop {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}
