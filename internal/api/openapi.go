package api

import (
	"context"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/gaspardpetit/mms-asr/internal/config"
	"github.com/gaspardpetit/mms-asr/internal/logx"
)

// DocumentOptions describes what the OpenAPI document publishes.
type DocumentOptions struct {
	Docs      config.DocsConfig
	BaseURL   string
	Languages []string
	Formats   []string
}

func anySlice(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func textResponse(desc string) *openapi3.ResponseRef {
	content := openapi3.NewContentWithSchema(openapi3.NewStringSchema(), []string{"text/plain"})
	content["application/json"] = openapi3.NewMediaType().WithSchema(
		openapi3.NewObjectSchema().WithProperty("transcription", openapi3.NewStringSchema()),
	)
	return &openapi3.ResponseRef{Value: openapi3.NewResponse().WithDescription(desc).WithContent(content)}
}

func errorResponse(desc string) *openapi3.ResponseRef {
	schema := openapi3.NewObjectSchema().
		WithProperty("error", openapi3.NewStringSchema()).
		WithProperty("message", openapi3.NewStringSchema())
	schema.Required = []string{"error"}
	return &openapi3.ResponseRef{Value: openapi3.NewResponse().
		WithDescription(desc).
		WithContent(openapi3.NewContentWithJSONSchema(schema))}
}

// NewDocument builds the OpenAPI description of the service.
func NewDocument(opts DocumentOptions) *openapi3.T {
	version := opts.Docs.Version
	if version == "" {
		version = "dev"
	}
	info := &openapi3.Info{
		Title:       opts.Docs.Title,
		Description: opts.Docs.Description,
		Version:     version,
	}
	if opts.Docs.ContactURL != "" {
		info.Contact = &openapi3.Contact{URL: opts.Docs.ContactURL}
	}
	if opts.Docs.LicenseName != "" {
		info.License = &openapi3.License{Name: opts.Docs.LicenseName, URL: opts.Docs.LicenseURL}
	}

	language := openapi3.NewStringSchema().WithEnum(anySlice(opts.Languages)...)
	if len(opts.Languages) > 0 {
		language = language.WithDefault(opts.Languages[0])
	}
	output := openapi3.NewStringSchema().WithEnum(anySlice(opts.Formats)...).WithDefault("txt")

	upload := openapi3.NewObjectSchema().WithProperty("audio_file", openapi3.NewStringSchema().WithFormat("binary"))
	upload.Required = []string{"audio_file"}

	op := openapi3.NewOperation()
	op.OperationID = "asr"
	op.Summary = "Transcribe an audio file"
	op.Tags = []string{"Endpoints"}
	op.Parameters = openapi3.Parameters{
		{Value: openapi3.NewQueryParameter("language").WithSchema(language)},
		{Value: openapi3.NewQueryParameter("encode").
			WithDescription("Encode audio first through ffmpeg").
			WithSchema(openapi3.NewBoolSchema().WithDefault(true))},
		{Value: openapi3.NewQueryParameter("output").WithSchema(output)},
	}
	op.RequestBody = &openapi3.RequestBodyRef{Value: openapi3.NewRequestBody().
		WithRequired(true).
		WithContent(openapi3.NewContentWithSchema(upload, []string{"multipart/form-data"}))}
	op.Responses = openapi3.NewResponses(
		openapi3.WithStatus(http.StatusOK, textResponse("Transcription")),
		openapi3.WithStatus(http.StatusBadRequest, errorResponse("Invalid request")),
		openapi3.WithStatus(http.StatusUnprocessableEntity, errorResponse("Audio could not be decoded")),
		openapi3.WithStatus(http.StatusBadGateway, errorResponse("Transcriber failed")),
		openapi3.WithStatus(http.StatusServiceUnavailable, errorResponse("Server is draining")),
	)

	return &openapi3.T{
		OpenAPI: "3.0.3",
		Info:    info,
		Paths:   openapi3.NewPaths(openapi3.WithPath(opts.BaseURL+"/asr", &openapi3.PathItem{Post: op})),
	}
}

// OpenAPIHandler serves doc as JSON. The document is validated and encoded
// once; an invalid document is logged and still served.
func OpenAPIHandler(doc *openapi3.T) http.HandlerFunc {
	if err := doc.Validate(context.Background()); err != nil {
		logx.Log.Warn().Err(err).Msg("openapi document invalid")
	}
	b, err := doc.MarshalJSON()
	if err != nil {
		logx.Log.Error().Err(err).Msg("marshal openapi")
		b = []byte(`{}`)
	}
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if _, err := w.Write(b); err != nil {
			logx.Log.Error().Err(err).Msg("write openapi")
		}
	}
}
