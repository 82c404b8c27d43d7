// Package export renders a session for download or hand-off: Markdown, JSON,
// CSV, sanitised HTML and GitHub issue payloads.
package export

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"time"

	"golang.org/x/net/idna"

	"github.com/kalambet/fixhero/internal/session"
)

// ErrUnknownFormat is returned by ForFormat for an unsupported name.
var ErrUnknownFormat = errors.New("unknown export format")

// Report is the input of every renderer.
type Report struct {
	Session     session.Session
	Browser     string
	GeneratedAt time.Time
}

// Renderer turns a Report into a downloadable document.
type Renderer interface {
	Render(r Report) ([]byte, error)
	ContentType() string
	// Extension is the file extension without the dot.
	Extension() string
}

var renderers = map[string]Renderer{
	"markdown": Markdown{},
	"json":     JSON{},
	"csv":      CSV{},
	"html":     HTML{},
	"github":   GitHub{},
}

// ForFormat returns the renderer registered under name.
func ForFormat(name string) (Renderer, error) {
	r, ok := renderers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q (want one of %v)", ErrUnknownFormat, name, Formats())
	}
	return r, nil
}

// Formats lists the registered format names in sorted order.
func Formats() []string {
	out := make([]string, 0, len(renderers))
	for name := range renderers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Filename suggests a download name such as fixhero-example.com-lq1x0abc.md.
func Filename(r Report, ren Renderer) string {
	return fmt.Sprintf("fixhero-%s-%s.%s", hostOf(r.Session.URL), r.Session.ID, ren.Extension())
}

// ASCIIFilename is Filename with the host in its punycode form, for headers
// and file systems that only take ASCII.
func ASCIIFilename(r Report, ren Renderer) string {
	host, err := idna.ToASCII(hostOf(r.Session.URL))
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("fixhero-%s-%s.%s", host, r.Session.ID, ren.Extension())
}

// hostOf returns the Unicode form of the session URL's host, or "unknown".
func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	host := u.Hostname()
	if display, err := idna.Display.ToUnicode(host); err == nil {
		return display
	}
	return host
}

func browserOf(r Report) string {
	if r.Browser == "" {
		return "Unknown"
	}
	return r.Browser
}

func formatMillis(ms int64) string {
	if ms == 0 {
		return "unknown"
	}
	return time.UnixMilli(ms).UTC().Format("2006-01-02 15:04:05 MST")
}
