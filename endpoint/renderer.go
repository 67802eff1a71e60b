package endpoint

import (
	"io"
	"net/http"
)

const textPlain = "text/plain; charset=utf-8"

// StringRenderer writes Body as the whole response.
//
// Status defaults to 200. ContentType is only applied when nothing earlier
// in the chain set a Content-Type, and falls back to plain text.
type StringRenderer struct {
	Status      int
	Body        string
	ContentType string
}

// Render implements Renderer.
func (sr *StringRenderer) Render(w http.ResponseWriter, _ *http.Request) error {
	h := w.Header()
	if h.Get("Content-Type") == "" {
		ct := sr.ContentType
		if ct == "" {
			ct = textPlain
		}
		h.Set("Content-Type", ct)
	}
	status := sr.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, err := io.WriteString(w, sr.Body)
	return err
}

// PlainRenderer is a StringRenderer that always answers text/plain,
// replacing any Content-Type already on the writer.
type PlainRenderer struct {
	StringRenderer
}

// Render implements Renderer.
func (pr *PlainRenderer) Render(w http.ResponseWriter, r *http.Request) error {
	w.Header().Set("Content-Type", textPlain)
	return pr.StringRenderer.Render(w, r)
}
