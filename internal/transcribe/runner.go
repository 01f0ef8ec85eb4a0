package transcribe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
)

// Output is what a finished process produced.
type Output struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Runner starts a process and waits for it. A non-zero exit is reported in
// Output.ExitCode, not as an error; err is reserved for processes that could
// not be run at all.
type Runner interface {
	Run(ctx context.Context, dir string, argv []string) (Output, error)
}

// execCommand is replaced in tests.
var execCommand = exec.CommandContext

// ExecRunner runs processes with os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, dir string, argv []string) (Output, error) {
	if len(argv) == 0 {
		return Output{}, errors.New("empty command")
	}
	var stdout, stderr bytes.Buffer
	cmd := execCommand(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	out := Output{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err == nil {
		return out, nil
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) && ctx.Err() == nil {
		out.ExitCode = ee.ExitCode()
		return out, nil
	}
	if ctx.Err() != nil {
		return out, fmt.Errorf("run %s: %w", argv[0], ctx.Err())
	}
	return out, fmt.Errorf("run %s: %w", argv[0], err)
}
