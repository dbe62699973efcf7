package server

import (
	"embed"
	"fmt"
	"html/template"
	"net/http"

	"github.com/charmbracelet/log"
)

//go:embed templates/*.html
var templateFiles embed.FS

// Views renders the embedded HTML templates.
type Views struct {
	templates *template.Template
	logger    *log.Logger
}

// NewViews parses the embedded templates once at startup.
func NewViews(logger *log.Logger) (*Views, error) {
	templates, err := template.ParseFS(templateFiles, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}
	return &Views{templates: templates, logger: logger}, nil
}

// Render writes the named template with the given status code and data.
func (v *Views) Render(w http.ResponseWriter, status int, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := v.templates.ExecuteTemplate(w, name, data); err != nil && v.logger != nil {
		// Headers are already written; log rather than attempt a second response.
		v.logger.Error("template render failed", "template", name, "err", err)
	}
}

// RenderError writes the generic error page.
func (v *Views) RenderError(w http.ResponseWriter, status int, message string) {
	v.Render(w, status, "error.html", map[string]any{
		"Status":  status,
		"Message": message,
	})
}
