package render

import (
	"bytes"
	"fmt"
	"html/template"
	"regexp"
	"strconv"
	"time"

	"github.com/fllarpy/devbar/pkg/config"
	"github.com/fllarpy/devbar/tracker"
)

// OverlayID is the id of the injected element. The browser extension hides
// the overlay by this id.
const OverlayID = "devbar"

var positions = map[string]template.CSS{
	config.PositionBottomRight: "bottom:0;right:0",
	config.PositionBottomLeft:  "bottom:0;left:0",
	config.PositionTopRight:    "top:0;right:0",
	config.PositionTopLeft:     "top:0;left:0",
}

// severity colours: normal inherits, warning amber, critical red.
var severityColors = [...]template.CSS{"inherit", "#f59e0b", "#ef4444"}

// PositionCSS maps a configured corner to CSS offsets.
func PositionCSS(position string) template.CSS {
	if css, ok := positions[position]; ok {
		return css
	}
	return positions[config.PositionBottomRight]
}

var overlayTemplate = template.Must(template.New("devbar").Parse(
	`<div id="{{.ID}}" style="position:fixed;{{.Position}};` +
		`background:rgba(0,0,0,0.7);color:rgba(255,255,255,0.85);` +
		`padding:4px 8px;margin:8px;` +
		`font-family:-apple-system,BlinkMacSystemFont,'Segoe UI',Roboto,sans-serif;` +
		`font-size:10px;line-height:1.3;font-weight:500;letter-spacing:0.02em;` +
		`z-index:99999;border-radius:3px;` +
		`backdrop-filter:blur(8px);-webkit-backdrop-filter:blur(8px)">` +
		`<span style="opacity:0.5">queries</span> <span style="color:{{.CountColor}}">{{.Count}}</span>` +
		`{{if .Duplicates}} <span style="color:#f59e0b" title="Duplicate queries detected">(d)</span>{{end}}` +
		` <span style="opacity:0.5">·</span> ` +
		`<span style="opacity:0.5">db</span> <span style="color:{{.DBColor}}">{{.DBTime}}ms</span>` +
		` <span style="opacity:0.5">·</span> ` +
		`<span style="opacity:0.5">total</span> <span style="color:{{.AppColor}}">{{.AppTime}}ms</span></div>`,
))

type overlayView struct {
	ID         string
	Position   template.CSS
	Count      int
	Duplicates bool
	DBTime     string
	AppTime    string
	CountColor template.CSS
	DBColor    template.CSS
	AppColor   template.CSS
}

// Overlay renders the overlay markup for snap.
func Overlay(cfg config.DevBarConfig, snap tracker.Snapshot, appTime time.Duration) ([]byte, error) {
	dbMs, appMs := milliseconds(snap.Duration), milliseconds(appTime)
	view := overlayView{
		ID:         OverlayID,
		Position:   PositionCSS(cfg.Position),
		Count:      snap.Count,
		Duplicates: snap.HasDuplicates,
		DBTime:     strconv.FormatFloat(dbMs, 'f', 0, 64),
		AppTime:    strconv.FormatFloat(appMs, 'f', 0, 64),
		CountColor: severityColors[cfg.Thresholds.QueryCount.Severity(float64(snap.Count))],
		DBColor:    severityColors[cfg.Thresholds.Duration.Severity(dbMs)],
		AppColor:   severityColors[cfg.Thresholds.Duration.Severity(appMs)],
	}

	var buf bytes.Buffer
	if err := overlayTemplate.Execute(&buf, view); err != nil {
		return nil, fmt.Errorf("render: overlay: %w", err)
	}
	return buf.Bytes(), nil
}

var bodyCloseRe = regexp.MustCompile(`(?i)</body\s*>`)

// Inject inserts markup before the last closing body tag of body. It reports
// false, and returns body untouched, when there is no such tag.
func Inject(body, markup []byte) ([]byte, bool) {
	matches := bodyCloseRe.FindAllIndex(body, -1)
	if len(matches) == 0 {
		return body, false
	}
	idx := matches[len(matches)-1][0]

	out := make([]byte, 0, len(body)+len(markup))
	out = append(out, body[:idx]...)
	out = append(out, markup...)
	out = append(out, body[idx:]...)
	return out, true
}
