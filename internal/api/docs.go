package api

import (
	_ "embed"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

//go:embed openapi.yaml
var openAPISpec []byte

// SpecHandler serves the OpenAPI document.
func SpecHandler(c echo.Context) error {
	return c.Blob(http.StatusOK, "application/yaml", openAPISpec)
}

// SwaggerHandler serves a Swagger UI page that loads specURL. Assets come
// from the public CDN so nothing static is checked in.
func SwaggerHandler(specURL string) echo.HandlerFunc {
	page := strings.ReplaceAll(swaggerHTML, "${SPEC_URL}", specURL)
	return func(c echo.Context) error {
		return c.HTML(http.StatusOK, page)
	}
}

const swaggerHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8" />
  <title>Workflow Provisioner API</title>
  <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist/swagger-ui.css" />
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist/swagger-ui-bundle.js"></script>
  <script>
  window.onload = function() {
    window.ui = SwaggerUIBundle({
      url: "${SPEC_URL}",
      dom_id: '#swagger-ui',
      presets: [SwaggerUIBundle.presets.apis],
      layout: "BaseLayout",
    });
  }
  </script>
</body>
</html>`
