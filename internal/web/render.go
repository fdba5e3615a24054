package web

import (
	"embed"
	"html/template"
	"io"
	"time"
)

//go:embed templates/*.html
var tmplFS embed.FS

var pages = template.Must(template.New("base").ParseFS(tmplFS, "templates/*.html"))

// Dashboard is the data the forwarder dashboard page renders.
type Dashboard struct {
	Active    int
	Total     int64
	Rejected  int64
	BytesSent int64
	BytesRecv int64
	Now       string
}

// RenderDashboard writes the dashboard page to w, stamped with the render
// time.
func RenderDashboard(w io.Writer, d Dashboard) error {
	d.Now = time.Now().Format(time.RFC822)
	return pages.ExecuteTemplate(w, "dashboard", d)
}
