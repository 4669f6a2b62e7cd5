package views

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRenderError(t *testing.T) {
	rec := httptest.NewRecorder()
	RenderError(rec, ErrorPage{
		Status:    http.StatusForbidden,
		Message:   "You do not have permission <here>.",
		RequestID: "req-1",
	})

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Contains(t, body, "<h1>Forbidden</h1>")
	assert.Contains(t, body, "You do not have permission &lt;here&gt;.")
	assert.Contains(t, body, "request req-1")
}

func TestRenderError_NoRequestID(t *testing.T) {
	rec := httptest.NewRecorder()
	RenderError(rec, ErrorPage{Status: http.StatusNotFound, Title: "Missing", Message: "gone"})

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "<h1>Missing</h1>")
	assert.NotContains(t, rec.Body.String(), "<code>")
}
