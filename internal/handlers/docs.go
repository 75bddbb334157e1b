package handlers

import (
	_ "embed"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"gopkg.in/yaml.v3"
)

//go:embed openapi.yaml
var openAPIYAML []byte

const docsPage = `<!DOCTYPE html>
<html>
<head>
  <title>%s</title>
  <meta charset="utf-8">
  <link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/swagger-ui-dist@5/swagger-ui.css">
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://cdn.jsdelivr.net/npm/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    window.ui = SwaggerUIBundle({url: "/openapi.json", dom_id: "#swagger-ui"});
  </script>
</body>
</html>
`

func loadOpenAPI() (map[string]interface{}, error) {
	var doc map[string]interface{}
	if err := yaml.Unmarshal(openAPIYAML, &doc); err != nil {
		return nil, fmt.Errorf("parse openapi document: %w", err)
	}
	return doc, nil
}

func (h *Handler) openAPIDocument(c *gin.Context) {
	doc := make(map[string]interface{}, len(h.openAPI))
	for k, v := range h.openAPI {
		doc[k] = v
	}
	if info, ok := doc["info"].(map[string]interface{}); ok && h.opts.Version != "" {
		patched := make(map[string]interface{}, len(info))
		for k, v := range info {
			patched[k] = v
		}
		patched["version"] = h.opts.Version
		doc["info"] = patched
	}
	c.JSON(http.StatusOK, doc)
}

func (h *Handler) docs(c *gin.Context) {
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.String(http.StatusOK, docsPage, ServiceName)
}
