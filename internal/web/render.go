// Package web renders the hosted payment pages from embedded templates.
package web

import (
	"embed"
	"html/template"
	"net/http"

	"github.com/rs/zerolog"
)

//go:embed templates/*.html
var templatesFS embed.FS

// Renderer renders the embedded page templates.
type Renderer struct {
	tpl    *template.Template
	Logger zerolog.Logger
}

// NewRenderer parses the embedded templates.
func NewRenderer(logger zerolog.Logger) (*Renderer, error) {
	tpl, err := template.ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, err
	}
	return &Renderer{tpl: tpl, Logger: logger}, nil
}

// Render writes the named template with the given status. Render failures
// after the header is written can only be logged.
func (r *Renderer) Render(w http.ResponseWriter, status int, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := r.tpl.ExecuteTemplate(w, name, data); err != nil {
		r.Logger.Error().Err(err).Str("template", name).Msg("render template")
	}
}
