// Package audio stages uploaded audio on disk for the transcriber.
package audio

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/google/uuid"
	"lukechampine.com/blake3"
)

// Staged is an upload persisted to a private temporary file. The owner must
// call Remove once the file is no longer needed.
type Staged struct {
	Path string
	// Size is the number of bytes written to Path.
	Size int64
	// UploadSize is the number of bytes read from the upload.
	UploadSize int64
	// Digest is the BLAKE3-256 of the uploaded bytes, hex encoded.
	Digest  string
	Encoded bool
}

// Remove deletes the staged file. A missing file is not an error.
func (s *Staged) Remove() error {
	if s == nil || s.Path == "" {
		return nil
	}
	if err := os.Remove(s.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove staged audio: %w", err)
	}
	return nil
}

// Stager writes uploads to uniquely named .wav files.
type Stager struct {
	encoder Encoder
	tempDir string
}

// NewStager returns a Stager that re-encodes with enc and creates files in
// tempDir (the OS default when empty).
func NewStager(enc Encoder, tempDir string) *Stager {
	return &Stager{encoder: enc, tempDir: tempDir}
}

// Stage persists r to a new temporary file. With reencode set, the upload is
// converted to mono 16-bit PCM WAV at sampleRate; otherwise the bytes are
// written verbatim. On error no file is left behind.
func (s *Stager) Stage(ctx context.Context, r io.Reader, reencode bool, sampleRate int) (_ *Staged, err error) {
	if reencode && s.encoder == nil {
		return nil, errors.New("stage audio: no encoder configured")
	}
	f, err := os.CreateTemp(s.tempDir, "asr-"+uuid.NewString()+"-*.wav")
	if err != nil {
		return nil, fmt.Errorf("stage audio: create temp file: %w", err)
	}
	st := &Staged{Path: f.Name(), Encoded: reencode}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("stage audio: close temp file: %w", cerr)
		}
		if err != nil {
			_ = os.Remove(st.Path)
		}
	}()

	h := blake3.New(32, nil)
	src := io.TeeReader(r, h)
	if reencode {
		in, rerr := io.ReadAll(src)
		if rerr != nil {
			return nil, fmt.Errorf("stage audio: read upload: %w", rerr)
		}
		st.UploadSize = int64(len(in))
		pcm, eerr := s.encoder.Encode(ctx, in, sampleRate)
		if eerr != nil {
			return nil, eerr
		}
		if werr := writeWAV(f, pcm, sampleRate); werr != nil {
			return nil, fmt.Errorf("stage audio: %w", werr)
		}
		info, serr := f.Stat()
		if serr != nil {
			return nil, fmt.Errorf("stage audio: stat temp file: %w", serr)
		}
		st.Size = info.Size()
	} else {
		n, cerr := io.Copy(f, src)
		if cerr != nil {
			return nil, fmt.Errorf("stage audio: write upload: %w", cerr)
		}
		st.UploadSize = n
		st.Size = n
	}
	st.Digest = hex.EncodeToString(h.Sum(nil))
	return st, nil
}
