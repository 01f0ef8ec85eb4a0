package asr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/gaspardpetit/mms-asr/internal/audio"
	"github.com/gaspardpetit/mms-asr/internal/metrics"
	"github.com/gaspardpetit/mms-asr/internal/serverstate"
)

func multipartBody(t *testing.T, field, filename string, data []byte) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("note", "ignored"); err != nil {
		t.Fatalf("write field: %v", err)
	}
	if field != "" {
		fw, err := mw.CreateFormFile(field, filename)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		fw.Write(data)
	}
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func newTestHandler(t *testing.T, tr Transcriber) (*Handler, string) {
	t.Helper()
	dir := t.TempDir()
	return &Handler{
		Service:   NewService(audio.NewStager(nil, dir), tr, "MMS", 16000),
		Languages: []string{"eng", "fra"},
	}, dir
}

func doRequest(h http.Handler, query string, body io.Reader, ctype string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/asr"+query, body)
	if ctype != "" {
		req.Header.Set("Content-Type", ctype)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body errorBody
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", rr.Body.String(), err)
	}
	return body.Error
}

func TestHandlerTxt(t *testing.T) {
	h, dir := newTestHandler(t, &fakeTranscriber{text: "hello world"})
	body, ctype := multipartBody(t, AudioField, "speech.wav", []byte("RIFF"))
	rr := doRequest(h, "?encode=false", body, ctype)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
	}
	if rr.Body.String() != "hello world" {
		t.Fatalf("body = %q", rr.Body.String())
	}
	if got := rr.Header().Get("Asr-Engine"); got != "MMS" {
		t.Fatalf("Asr-Engine = %q", got)
	}
	if got := rr.Header().Get("Content-Disposition"); got != `attachment; filename="speech.wav.txt"` {
		t.Fatalf("Content-Disposition = %q", got)
	}
	if got := rr.Header().Get("Content-Type"); got != "text/plain; charset=utf-8" {
		t.Fatalf("Content-Type = %q", got)
	}
	if got := rr.Header().Get("Audio-Digest"); !strings.HasPrefix(got, "blake3:") {
		t.Fatalf("Audio-Digest = %q", got)
	}
	emptyDir(t, dir)
}

func TestHandlerJSON(t *testing.T) {
	h, _ := newTestHandler(t, &fakeTranscriber{text: "bonjour"})
	body, ctype := multipartBody(t, AudioField, "a.mp3", []byte("x"))
	rr := doRequest(h, "?encode=false&output=json&language=fra", body, ctype)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
	}
	if rr.Body.String() != `{"transcription":"bonjour"}` {
		t.Fatalf("body = %q", rr.Body.String())
	}
	if got := rr.Header().Get("Content-Type"); got != "application/json" {
		t.Fatalf("Content-Type = %q", got)
	}
	if got := rr.Header().Get("Content-Disposition"); got != `attachment; filename="a.mp3.json"` {
		t.Fatalf("Content-Disposition = %q", got)
	}
}

func TestHandlerErrors(t *testing.T) {
	tests := []struct {
		name   string
		query  string
		field  string
		status int
		code   string
	}{
		{"unsupported format", "?encode=false&output=docx", AudioField, 400, CodeUnsupportedFormat},
		{"unsupported language", "?language=xyz", AudioField, 400, CodeUnsupportedLanguage},
		{"bad encode", "?encode=maybe", AudioField, 400, CodeInvalidParameter},
		{"missing file", "?encode=false", "", 400, CodeMissingAudio},
		{"wrong field", "?encode=false", "file", 400, CodeMissingAudio},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, dir := newTestHandler(t, &fakeTranscriber{text: "x"})
			body, ctype := multipartBody(t, tt.field, "a.wav", []byte("data"))
			rr := doRequest(h, tt.query, body, ctype)
			if rr.Code != tt.status {
				t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
			}
			if code := errorCode(t, rr); code != tt.code {
				t.Fatalf("code = %q", code)
			}
			emptyDir(t, dir)
		})
	}
}

func TestHandlerNotMultipart(t *testing.T) {
	h, _ := newTestHandler(t, &fakeTranscriber{})
	rr := doRequest(h, "", strings.NewReader("{}"), "application/json")
	if rr.Code != http.StatusBadRequest || errorCode(t, rr) != CodeMissingAudio {
		t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestHandlerDecodeFailure(t *testing.T) {
	dir := t.TempDir()
	h := &Handler{
		Service:   NewService(audio.NewStager(failingEncoder{}, dir), &fakeTranscriber{}, "MMS", 16000),
		Languages: []string{"eng"},
	}
	body, ctype := multipartBody(t, AudioField, "a.ogg", []byte("junk"))
	rr := doRequest(h, "", body, ctype)
	if rr.Code != http.StatusUnprocessableEntity || errorCode(t, rr) != CodeDecodeFailed {
		t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
	}
	emptyDir(t, dir)
}

func TestHandlerUploadTooLarge(t *testing.T) {
	h, dir := newTestHandler(t, &fakeTranscriber{text: "x"})
	h.MaxUploadBytes = 512
	body, ctype := multipartBody(t, AudioField, "a.wav", bytes.Repeat([]byte("a"), 4096))
	rr := doRequest(h, "?encode=false", body, ctype)
	if rr.Code != http.StatusRequestEntityTooLarge || errorCode(t, rr) != CodeUploadTooLarge {
		t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
	}
	emptyDir(t, dir)
}

func TestHandlerDraining(t *testing.T) {
	h, _ := newTestHandler(t, &fakeTranscriber{text: "x"})
	h.State = serverstate.New(nil)
	h.State.StartDrain()
	body, ctype := multipartBody(t, AudioField, "a.wav", []byte("x"))
	rr := doRequest(h, "?encode=false", body, ctype)
	if rr.Code != http.StatusServiceUnavailable || errorCode(t, rr) != CodeDraining {
		t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestContentDispositionEscapes(t *testing.T) {
	got := contentDisposition("a\"b\\c\r\n.txt")
	if got != `attachment; filename="a\"b\\c.txt"` {
		t.Fatalf("got %q", got)
	}
}

type countingEncoder struct{ calls int }

func (c *countingEncoder) Encode(ctx context.Context, in []byte, rate int) ([]byte, error) {
	c.calls++
	return []byte{0, 0}, nil
}

func TestHandlerUnsupportedFormatSkipsEncode(t *testing.T) {
	dir := t.TempDir()
	enc := &countingEncoder{}
	tr := &fakeTranscriber{text: "x"}
	h := &Handler{
		Service:   NewService(audio.NewStager(enc, dir), tr, "MMS", 16000),
		Languages: []string{"eng"},
	}
	body, ctype := multipartBody(t, AudioField, "a.ogg", []byte("ogg bytes"))
	rr := doRequest(h, "?output=docx", body, ctype)
	if rr.Code != http.StatusBadRequest || errorCode(t, rr) != CodeUnsupportedFormat {
		t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
	}
	if enc.calls != 0 || tr.sawPath != "" {
		t.Fatalf("unknown format reached the pipeline: encodes=%d transcribed=%q", enc.calls, tr.sawPath)
	}
	emptyDir(t, dir)
}

func TestHandlerOutputLabelBounded(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics.Register(reg)

	h, _ := newTestHandler(t, &fakeTranscriber{text: "x"})
	for i := 0; i < 50; i++ {
		body, ctype := multipartBody(t, AudioField, "a.wav", []byte("x"))
		doRequest(h, fmt.Sprintf("?encode=false&output=junk%d", i), body, ctype)
	}
	body, ctype := multipartBody(t, AudioField, "a.wav", []byte("x"))
	if rr := doRequest(h, "?encode=false&output=srt", body, ctype); rr.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
	}

	// languages x (formats + invalid) x outcomes
	limit := 2 * 6 * 2
	for _, name := range []string{"mms_asr_requests_total", "mms_asr_request_duration_seconds"} {
		n, err := testutil.GatherAndCount(reg, name)
		if err != nil {
			t.Fatalf("gather %s: %v", name, err)
		}
		if n == 0 || n > limit {
			t.Fatalf("%s has %d series; want 1..%d", name, n, limit)
		}
	}
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	allowed := map[string]bool{"txt": true, "vtt": true, "srt": true, "tsv": true, "json": true, "invalid": true}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "output" && !allowed[lp.GetValue()] {
					t.Fatalf("%s carries unbounded output label %q", mf.GetName(), lp.GetValue())
				}
			}
		}
	}
}

func TestOutputLabel(t *testing.T) {
	for in, want := range map[string]string{"txt": "txt", "json": "json", "junk": "invalid", "": "invalid", "TXT": "invalid"} {
		if got := outputLabel(in); got != want {
			t.Fatalf("outputLabel(%q) = %q; want %q", in, got, want)
		}
	}
}
