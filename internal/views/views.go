// Package views renders the HTML error pages served to browser callers.
package views

import (
	"bytes"
	"embed"
	"html/template"
	"net/http"
)

//go:embed templates/*.html
var templateFS embed.FS

var pages = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// ErrorPage is the data for templates/error.html.
type ErrorPage struct {
	Status    int
	Title     string
	Message   string
	RequestID string
}

// RenderError writes an HTML error page with the given status.
// The page is rendered into a buffer first so a template failure still
// produces a response with the intended status.
func RenderError(w http.ResponseWriter, page ErrorPage) {
	if page.Title == "" {
		page.Title = http.StatusText(page.Status)
	}

	var buf bytes.Buffer
	if err := pages.ExecuteTemplate(&buf, "error.html", page); err != nil {
		http.Error(w, page.Message, page.Status)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(page.Status)
	w.Write(buf.Bytes())
}
