// Package transcribe runs the external speech recognizer over a staged file.
package transcribe

import (
	"context"
	"errors"
	"time"

	"github.com/gaspardpetit/mms-asr/internal/logx"
)

// Request names a staged audio file and how it should be transcribed.
type Request struct {
	Path     string
	Language string
	Format   string
}

// Options configures a Dispatcher.
type Options struct {
	// Command is the transcriber program and its leading arguments.
	Command []string
	Model   string
	WorkDir string
	// Timeout bounds one run; zero means no limit beyond the caller's context.
	Timeout time.Duration
	// Runner defaults to ExecRunner.
	Runner Runner
}

// Dispatcher invokes the transcriber once per request. It holds no mutable
// state and is safe for concurrent use.
type Dispatcher struct {
	command []string
	model   string
	workDir string
	timeout time.Duration
	runner  Runner
}

func NewDispatcher(opts Options) *Dispatcher {
	r := opts.Runner
	if r == nil {
		r = ExecRunner{}
	}
	return &Dispatcher{
		command: append([]string(nil), opts.Command...),
		model:   opts.Model,
		workDir: opts.WorkDir,
		timeout: opts.Timeout,
		runner:  r,
	}
}

// Argv returns the full command line for req.
func (d *Dispatcher) Argv(req Request) []string {
	argv := append([]string(nil), d.command...)
	return append(argv, "--model", d.model, "--lang", req.Language, "--audio", req.Path)
}

// Transcribe runs the transcriber on req.Path. The format is validated before
// any process is started. Errors are always of type *Error.
func (d *Dispatcher) Transcribe(ctx context.Context, req Request) (Result, error) {
	f, err := ParseFormat(req.Format)
	if err != nil {
		return Result{}, &Error{Err: err}
	}
	if len(d.command) == 0 {
		return Result{}, &Error{Err: errors.New("no transcriber command configured")}
	}
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	argv := d.Argv(req)
	start := time.Now()
	out, err := d.runner.Run(ctx, d.workDir, argv)
	if err != nil {
		return Result{}, &Error{Err: err}
	}
	if out.ExitCode != 0 {
		logx.Log.Debug().Int("exit_code", out.ExitCode).Str("stderr", string(out.Stderr)).Msg("transcriber failed")
		return Result{}, &Error{Err: &ExecutionError{ExitCode: out.ExitCode, Stderr: string(out.Stderr)}}
	}
	logx.Log.Debug().Str("language", req.Language).Dur("elapsed", time.Since(start)).Int("stdout_bytes", len(out.Stdout)).Msg("transcriber finished")
	return newResult(out.Stdout, f), nil
}
