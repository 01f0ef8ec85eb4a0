package api

import (
	"html/template"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gaspardpetit/mms-asr/internal/logx"
)

const (
	cdnCSS    = "https://cdn.jsdelivr.net/npm/swagger-ui-dist@5/swagger-ui.css"
	cdnBundle = "https://cdn.jsdelivr.net/npm/swagger-ui-dist@5/swagger-ui-bundle.js"

	assetCSS    = "swagger-ui.css"
	assetBundle = "swagger-ui-bundle.js"
)

var swaggerPage = template.Must(template.New("docs").Parse(`<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8" />
  <title>{{.Title}} - Swagger UI</title>
  <link rel="stylesheet" href="{{.CSSURL}}" />
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="{{.BundleURL}}"></script>
  <script>
  window.onload = () => {
    SwaggerUIBundle({
      url: {{.SpecURL}},
      dom_id: '#swagger-ui'
    });
  };
  </script>
</body>
</html>`))

// DocsPage holds the parameters of the Swagger UI page.
type DocsPage struct {
	Title     string
	CSSURL    string
	BundleURL string
	SpecURL   string
}

// HasLocalAssets reports whether dir holds the Swagger UI stylesheet and bundle.
func HasLocalAssets(dir string) bool {
	if dir == "" {
		return false
	}
	for _, name := range []string{assetCSS, assetBundle} {
		info, err := os.Stat(filepath.Join(dir, name))
		if err != nil || info.IsDir() {
			return false
		}
	}
	return true
}

// NewDocsPage points the page at baseURL/assets when local assets exist and at
// the CDN otherwise.
func NewDocsPage(title, baseURL string, local bool) DocsPage {
	p := DocsPage{
		Title:     title,
		CSSURL:    cdnCSS,
		BundleURL: cdnBundle,
		SpecURL:   baseURL + "/openapi.json",
	}
	if local {
		p.CSSURL = baseURL + "/assets/" + assetCSS
		p.BundleURL = baseURL + "/assets/" + assetBundle
	}
	return p
}

// SwaggerHandler serves the interactive docs page.
func SwaggerHandler(page DocsPage) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := swaggerPage.Execute(w, page); err != nil {
			logx.Log.Error().Err(err).Msg("write swagger page")
		}
	}
}

// AssetsHandler serves files from dir under prefix.
func AssetsHandler(prefix, dir string) http.Handler {
	return http.StripPrefix(prefix, http.FileServer(http.Dir(dir)))
}
