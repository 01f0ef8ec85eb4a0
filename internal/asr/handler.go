package asr

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/oapi-codegen/runtime"

	"github.com/gaspardpetit/mms-asr/internal/logx"
	"github.com/gaspardpetit/mms-asr/internal/metrics"
	"github.com/gaspardpetit/mms-asr/internal/serverstate"
	"github.com/gaspardpetit/mms-asr/internal/transcribe"
)

// AudioField is the multipart field carrying the upload.
const AudioField = "audio_file"

// Handler serves POST {BASE_URL}/asr.
type Handler struct {
	Service   *Service
	Languages []string
	// MaxUploadBytes caps the request body; zero disables the cap.
	MaxUploadBytes int64
	// State, when set, makes the handler refuse work while draining.
	State *serverstate.State
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(errorBody{Error: code, Message: msg}); err != nil {
		logx.Log.Error().Err(err).Msg("write error response")
	}
}

type params struct {
	language string
	encode   bool
	output   string
}

func (h *Handler) bindParams(r *http.Request) (params, int, string, error) {
	var (
		language *string
		encode   *bool
		output   *string
	)
	q := r.URL.Query()
	if err := runtime.BindQueryParameter("form", true, false, "language", q, &language); err != nil {
		return params{}, http.StatusBadRequest, CodeInvalidParameter, err
	}
	if err := runtime.BindQueryParameter("form", true, false, "encode", q, &encode); err != nil {
		return params{}, http.StatusBadRequest, CodeInvalidParameter, err
	}
	if err := runtime.BindQueryParameter("form", true, false, "output", q, &output); err != nil {
		return params{}, http.StatusBadRequest, CodeInvalidParameter, err
	}
	p := params{encode: true, output: string(transcribe.FormatTXT)}
	if len(h.Languages) > 0 {
		p.language = h.Languages[0]
	}
	if language != nil {
		p.language = *language
	}
	if encode != nil {
		p.encode = *encode
	}
	if output != nil {
		p.output = *output
	}
	if !slices.Contains(h.Languages, p.language) {
		return params{}, http.StatusBadRequest, CodeUnsupportedLanguage, errors.New("unsupported language " + p.language)
	}
	// Rejected here so an unknown format never pays for an upload or an
	// encode. The dispatcher validates again.
	if _, err := transcribe.ParseFormat(p.output); err != nil {
		return params{}, http.StatusBadRequest, CodeUnsupportedFormat, err
	}
	return p, 0, "", nil
}

// outputLabel bounds the output metric label to the supported formats.
func outputLabel(output string) string {
	f, err := transcribe.ParseFormat(output)
	if err != nil {
		return "invalid"
	}
	return string(f)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.State != nil && h.State.IsDraining() {
		writeError(w, http.StatusServiceUnavailable, CodeDraining, "server is draining")
		return
	}
	p, status, code, err := h.bindParams(r)
	if err != nil {
		metrics.RecordFailure(code)
		writeError(w, status, code, err.Error())
		return
	}

	start := time.Now()
	metrics.RequestStart()
	success := false
	defer func() { metrics.RequestEnd(p.language, outputLabel(p.output), success, time.Since(start)) }()

	if h.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.MaxUploadBytes)
	}
	part, filename, err := audioPart(r)
	if err != nil {
		status, code := http.StatusBadRequest, CodeMissingAudio
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			status, code = http.StatusRequestEntityTooLarge, CodeUploadTooLarge
		}
		metrics.RecordFailure(code)
		writeError(w, status, code, err.Error())
		return
	}
	defer part.Close()

	resp, err := h.Service.Handle(r.Context(), Submission{
		Audio:    part,
		Filename: filename,
		Language: p.language,
		Encode:   p.encode,
		Output:   p.output,
	})
	if err != nil {
		status, code := Classify(err)
		writeError(w, status, code, err.Error())
		return
	}
	success = true

	w.Header().Set("Asr-Engine", resp.Engine)
	w.Header().Set("Content-Disposition", contentDisposition(resp.Filename))
	w.Header().Set("Audio-Digest", "blake3:"+resp.Digest)
	w.Header().Set("Content-Type", resp.Result.ContentType())
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(resp.Result.Body()); err != nil {
		logx.Log.Error().Err(err).Msg("write transcription")
	}
}

// audioPart streams the multipart body up to the audio field without
// buffering the upload.
func audioPart(r *http.Request) (io.ReadCloser, string, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, "", err
	}
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return nil, "", errors.New("multipart field " + AudioField + " is required")
		}
		if err != nil {
			return nil, "", err
		}
		if part.FormName() == AudioField {
			return part, part.FileName(), nil
		}
		_ = part.Close()
	}
}

var quoteEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\r", "", "\n", "")

func contentDisposition(filename string) string {
	return `attachment; filename="` + quoteEscaper.Replace(filename) + `"`
}
