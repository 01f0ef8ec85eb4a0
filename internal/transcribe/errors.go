package transcribe

import (
	"fmt"
	"strings"
)

// ExecutionError reports a transcriber run that exited with a non-zero code.
type ExecutionError struct {
	ExitCode int
	Stderr   string
}

func (e *ExecutionError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		return fmt.Sprintf("transcriber exited with code %d", e.ExitCode)
	}
	return fmt.Sprintf("transcriber exited with code %d: %s", e.ExitCode, msg)
}

// Error wraps every failure returned by Dispatcher.Transcribe.
type Error struct {
	Err error
}

func (e *Error) Error() string { return "transcription error: " + e.Err.Error() }

func (e *Error) Unwrap() error { return e.Err }
