package render

import (
	"net/http"
	"strings"
)

// Reason explains why a response cannot receive the overlay.
type Reason string

// Ineligibility reasons. The empty Reason means eligible.
const (
	Eligible         Reason = ""
	ReasonStreaming  Reason = "streaming"
	ReasonNotHTML    Reason = "not_html"
	ReasonEncoded    Reason = "content_encoded"
	ReasonNoBody     Reason = "no_buffered_body"
	ReasonNoBodyCode Reason = "status_without_body"
)

// Response is the part of a buffered response injection depends on.
type Response struct {
	Header    http.Header
	Status    int
	Streaming bool
	Buffered  bool
}

// CanInject applies the injection eligibility policy: the response is fully
// buffered, not streaming, HTML, and carries no content encoding.
func CanInject(r Response) Reason {
	switch {
	case r.Streaming:
		return ReasonStreaming
	case !r.Buffered:
		return ReasonNoBody
	case !bodyAllowed(r.Status):
		return ReasonNoBodyCode
	case !strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "text/html"):
		return ReasonNotHTML
	case r.Header.Get("Content-Encoding") != "":
		return ReasonEncoded
	}
	return Eligible
}

// bodyAllowed mirrors net/http: 1xx, 204 and 304 responses carry no body.
func bodyAllowed(status int) bool {
	switch {
	case status >= 100 && status <= 199:
		return false
	case status == http.StatusNoContent, status == http.StatusNotModified:
		return false
	}
	return true
}
