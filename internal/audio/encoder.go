package audio

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Encoder converts an arbitrary audio stream to raw mono signed 16-bit
// little-endian PCM at the requested sample rate.
type Encoder interface {
	Encode(ctx context.Context, in []byte, sampleRate int) ([]byte, error)
}

// DecodeError reports a failure of the external encoder. Stderr holds the
// encoder's diagnostic output.
type DecodeError struct {
	Stderr string
	Err    error
}

func (e *DecodeError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	return "failed to load audio: " + msg
}

func (e *DecodeError) Unwrap() error { return e.Err }

// execCommand is replaced in tests.
var execCommand = exec.CommandContext

// FFmpegEncoder pipes audio through the ffmpeg CLI.
type FFmpegEncoder struct {
	// Path is the ffmpeg executable; "ffmpeg" is looked up in PATH when empty.
	Path string
}

// Args returns the ffmpeg arguments used to downmix and resample stdin to
// raw PCM on stdout.
func (e FFmpegEncoder) Args(sampleRate int) []string {
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-threads", "0",
		"-i", "pipe:0",
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ac", "1",
		"-ar", strconv.Itoa(sampleRate),
		"pipe:1",
	}
}

// Encode runs ffmpeg with in on stdin and returns its stdout.
func (e FFmpegEncoder) Encode(ctx context.Context, in []byte, sampleRate int) ([]byte, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("encode: invalid sample rate %d", sampleRate)
	}
	path := e.Path
	if path == "" {
		path = "ffmpeg"
	}
	var stdout, stderr bytes.Buffer
	cmd := execCommand(ctx, path, e.Args(sampleRate)...)
	cmd.Stdin = bytes.NewReader(in)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, &DecodeError{Stderr: stderr.String(), Err: err}
	}
	return stdout.Bytes(), nil
}
