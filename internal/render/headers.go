// Package render turns a tracker snapshot into response decorations: metric
// headers, the structured DevBar-Data payload and the HTML overlay.
package render

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/fllarpy/devbar/tracker"
)

// Header names.
const (
	HeaderQueryCount = "DevBar-Query-Count"
	HeaderDBTime     = "DevBar-DB-Time"
	HeaderAppTime    = "DevBar-App-Time"
	HeaderDuplicates = "DevBar-Duplicates"
	HeaderData       = "DevBar-Data"
)

// Payload is the structured side-channel consumed by the browser extension.
type Payload struct {
	Count         int                `json:"count"`
	DBTime        float64            `json:"db_time"`
	AppTime       float64            `json:"app_time"`
	HasDuplicates bool               `json:"has_duplicates"`
	Duplicates    []PayloadDuplicate `json:"duplicates"`
}

// PayloadDuplicate is one duplicate entry of Payload. Durations are in
// milliseconds.
type PayloadDuplicate struct {
	SQL      string          `json:"sql"`
	Params   json.RawMessage `json:"params"`
	Duration float64         `json:"duration"`
}

// SetHeaders writes the metric headers for snap. DevBar-Duplicates is only
// present when duplicates were seen.
func SetHeaders(h http.Header, snap tracker.Snapshot, appTime time.Duration) {
	h.Set(HeaderQueryCount, strconv.Itoa(snap.Count))
	h.Set(HeaderDBTime, formatMs(snap.Duration))
	h.Set(HeaderAppTime, formatMs(appTime))
	if snap.HasDuplicates {
		h.Set(HeaderDuplicates, strconv.Itoa(len(snap.Duplicates)))
	} else {
		h.Del(HeaderDuplicates)
	}
}

// SetDataHeader writes the JSON payload header.
func SetDataHeader(h http.Header, snap tracker.Snapshot, appTime time.Duration) error {
	data, err := json.Marshal(NewPayload(snap, appTime))
	if err != nil {
		return fmt.Errorf("render: encode %s: %w", HeaderData, err)
	}
	h.Set(HeaderData, string(data))
	return nil
}

// NewPayload builds the side-channel payload. Parameters that cannot be
// encoded as JSON are carried as their fmt rendering.
func NewPayload(snap tracker.Snapshot, appTime time.Duration) Payload {
	p := Payload{
		Count:         snap.Count,
		DBTime:        roundMs(snap.Duration),
		AppTime:       roundMs(appTime),
		HasDuplicates: snap.HasDuplicates,
		Duplicates:    make([]PayloadDuplicate, 0, len(snap.Duplicates)),
	}
	for _, d := range snap.Duplicates {
		p.Duplicates = append(p.Duplicates, PayloadDuplicate{
			SQL:      d.SQL,
			Params:   encodeParams(d.Params),
			Duration: roundMs(d.Duration),
		})
	}
	return p
}

func encodeParams(params any) (raw json.RawMessage) {
	defer func() {
		if recover() != nil {
			raw = fallbackParams(params)
		}
	}()
	data, err := json.Marshal(params)
	if err != nil {
		return fallbackParams(params)
	}
	return data
}

func fallbackParams(params any) json.RawMessage {
	data, _ := json.Marshal(fmt.Sprintf("%v", params))
	return data
}

func milliseconds(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func roundMs(d time.Duration) float64 {
	return math.Round(milliseconds(d)*10) / 10
}

func formatMs(d time.Duration) string {
	return strconv.FormatFloat(milliseconds(d), 'f', 1, 64)
}
