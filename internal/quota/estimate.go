// Package quota estimates how much storage sessions consume. The figures are
// a warning signal, not exact accounting.
package quota

import (
	"bytes"
	"encoding/json"
	"math"
	"strings"
	"unicode/utf16"

	"github.com/kalambet/fixhero/internal/session"
)

// urlScreenshotBytes is charged for a screenshot stored as a remote
// reference instead of inline data.
const urlScreenshotBytes = 200

// Usage is the estimated footprint of one session in kilobytes, each figure
// rounded to one decimal place.
type Usage struct {
	TotalKB       float64 `json:"totalKB"`
	IssuesKB      float64 `json:"issuesKB"`
	ScreenshotsKB float64 `json:"screenshotsKB"`
	MetadataKB    float64 `json:"metadataKB"`
}

// EstimateUsage sizes a session. Metadata is the serialized session, issue
// data each serialized issue without its screenshot, and screenshots their
// decoded payload. Serialized text is charged two bytes per UTF-16 code unit.
func EstimateUsage(sess session.Session) Usage {
	metadata := textBytes(sess)

	var issues, shots int64
	for _, issue := range sess.Issues {
		shots += ScreenshotBytes(issue.Screenshot)
		issue.Screenshot = ""
		issues += textBytes(issue)
	}

	return Usage{
		TotalKB:       toKB(metadata + issues + shots),
		IssuesKB:      toKB(issues),
		ScreenshotsKB: toKB(shots),
		MetadataKB:    toKB(metadata),
	}
}

// ScreenshotBytes estimates the stored size of a screenshot: three bytes per
// four base64 characters for a data URI, a flat charge for a URL, zero when
// absent.
func ScreenshotBytes(screenshot string) int64 {
	if screenshot == "" {
		return 0
	}
	rest, ok := strings.CutPrefix(screenshot, "data:")
	if !ok {
		return urlScreenshotBytes
	}
	if _, body, found := strings.Cut(rest, ","); found {
		rest = body
	}
	n := int64(len(rest))
	return (n*3 + 3) / 4
}

// textBytes serializes v the way the capture front end does (no HTML
// escaping) and charges two bytes per UTF-16 code unit.
func textBytes(v any) int64 {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return 0
	}
	text := bytes.TrimSuffix(buf.Bytes(), []byte("\n"))
	return int64(len(utf16.Encode([]rune(string(text))))) * 2
}

func toKB(b int64) float64 {
	return roundTo(float64(b)/1024, 1)
}

func roundTo(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}
