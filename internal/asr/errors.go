package asr

import (
	"context"
	"errors"
	"net/http"

	"github.com/gaspardpetit/mms-asr/internal/audio"
	"github.com/gaspardpetit/mms-asr/internal/transcribe"
)

// Error codes returned in {"error": code} bodies.
const (
	CodeUnsupportedFormat   = "unsupported_format"
	CodeUnsupportedLanguage = "unsupported_language"
	CodeInvalidParameter    = "invalid_parameter"
	CodeMissingAudio        = "missing_audio_file"
	CodeUploadTooLarge      = "upload_too_large"
	CodeDecodeFailed        = "audio_decode_failed"
	CodeTranscription       = "transcription_failed"
	CodeCanceled            = "canceled"
	CodeTimeout             = "transcription_timeout"
	CodeInternal            = "transcription_error"
	CodeDraining            = "draining"
)

// StatusClientClosedRequest is reported when the client went away mid-request.
const StatusClientClosedRequest = 499

// Classify maps an error from Service.Handle to an HTTP status and error code.
func Classify(err error) (int, string) {
	var ufe *transcribe.UnsupportedFormatError
	var de *audio.DecodeError
	var ee *transcribe.ExecutionError
	var mbe *http.MaxBytesError
	switch {
	case errors.As(err, &ufe):
		return http.StatusBadRequest, CodeUnsupportedFormat
	case errors.As(err, &mbe):
		return http.StatusRequestEntityTooLarge, CodeUploadTooLarge
	case errors.As(err, &de):
		return http.StatusUnprocessableEntity, CodeDecodeFailed
	case errors.As(err, &ee):
		return http.StatusBadGateway, CodeTranscription
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, CodeTimeout
	case errors.Is(err, context.Canceled):
		return StatusClientClosedRequest, CodeCanceled
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}
