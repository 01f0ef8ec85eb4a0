// Package asr ties the audio stager and the transcription dispatcher into
// the request flow served at POST {BASE_URL}/asr.
package asr

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/gaspardpetit/mms-asr/internal/audio"
	"github.com/gaspardpetit/mms-asr/internal/logx"
	"github.com/gaspardpetit/mms-asr/internal/metrics"
	"github.com/gaspardpetit/mms-asr/internal/transcribe"
)

// Stager persists an upload for the transcriber.
type Stager interface {
	Stage(ctx context.Context, r io.Reader, reencode bool, sampleRate int) (*audio.Staged, error)
}

// Transcriber turns a staged file into text.
type Transcriber interface {
	Transcribe(ctx context.Context, req transcribe.Request) (transcribe.Result, error)
}

// Submission is one transcription request.
type Submission struct {
	Audio    io.Reader
	Filename string
	Language string
	Encode   bool
	Output   string
}

// Response is a finished transcription ready to be returned to the client.
type Response struct {
	Result   transcribe.Result
	Engine   string
	Filename string
	Digest   string
}

// Service runs submissions. It is safe for concurrent use.
type Service struct {
	stager      Stager
	transcriber Transcriber
	engine      string
	sampleRate  int
}

func NewService(st Stager, tr Transcriber, engine string, sampleRate int) *Service {
	return &Service{stager: st, transcriber: tr, engine: engine, sampleRate: sampleRate}
}

// Engine is the name reported in the Asr-Engine header.
func (s *Service) Engine() string { return s.engine }

// Handle stages sub.Audio, transcribes it and removes the staged file before
// returning, whatever the outcome.
func (s *Service) Handle(ctx context.Context, sub Submission) (Response, error) {
	log := logx.Log.With().Str("job_id", uuid.NewString()).Logger()
	log.Info().Str("filename", sub.Filename).Str("language", sub.Language).Bool("encode", sub.Encode).Str("output", sub.Output).Msg("received")

	start := time.Now()
	staged, err := s.stager.Stage(ctx, sub.Audio, sub.Encode, s.sampleRate)
	if err != nil {
		_, code := Classify(err)
		metrics.RecordFailure(code)
		log.Warn().Err(err).Str("error_code", code).Msg("staging failed")
		return Response{}, err
	}
	metrics.ObserveStage(sub.Encode, staged.UploadSize, time.Since(start))
	log.Debug().Str("path", staged.Path).Int64("bytes", staged.Size).Str("digest", staged.Digest).Msg("staged")
	defer func() {
		if err := staged.Remove(); err != nil {
			log.Error().Err(err).Str("path", staged.Path).Msg("cleanup failed")
			return
		}
		log.Debug().Str("path", staged.Path).Msg("cleaned")
	}()

	tstart := time.Now()
	res, err := s.transcriber.Transcribe(ctx, transcribe.Request{Path: staged.Path, Language: sub.Language, Format: sub.Output})
	if err != nil {
		_, code := Classify(err)
		metrics.RecordFailure(code)
		log.Warn().Err(err).Str("error_code", code).Msg("transcription failed")
		return Response{}, err
	}
	metrics.ObserveTranscribe(sub.Language, time.Since(tstart))
	log.Info().Dur("elapsed", time.Since(start)).Int("chars", len(res.Text)).Msg("transcribed")

	return Response{
		Result:   res,
		Engine:   s.engine,
		Filename: sub.Filename + "." + string(res.Format),
		Digest:   staged.Digest,
	}, nil
}
