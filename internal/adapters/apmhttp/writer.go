package apmhttp

import (
	"bufio"
	"bytes"
	"net"
	"net/http"
)

// bufferedWriter holds the status and body of a response until the handler
// returns so the middleware can decorate it. Flush or Hijack turn it into a
// plain pass-through for the rest of the request.
type bufferedWriter struct {
	w           http.ResponseWriter
	status      int
	wroteHeader bool
	body        bytes.Buffer
	streaming   bool
	hijacked    bool
	committed   bool

	// onStream, if set, runs once with the response headers right before
	// buffered output is committed for streaming.
	onStream func(http.Header)
}

func newBufferedWriter(w http.ResponseWriter) *bufferedWriter {
	return &bufferedWriter{w: w}
}

func (bw *bufferedWriter) Header() http.Header { return bw.w.Header() }

func (bw *bufferedWriter) WriteHeader(code int) {
	if bw.streaming {
		bw.w.WriteHeader(code)
		return
	}
	// Informational responses go out immediately, as net/http does.
	if code >= 100 && code <= 199 && code != http.StatusSwitchingProtocols {
		bw.w.WriteHeader(code)
		return
	}
	if bw.wroteHeader {
		return
	}
	bw.status = code
	bw.wroteHeader = true
}

func (bw *bufferedWriter) Write(p []byte) (int, error) {
	if bw.streaming {
		return bw.w.Write(p)
	}
	if !bw.wroteHeader {
		bw.WriteHeader(http.StatusOK)
	}
	return bw.body.Write(p)
}

// Flush commits what was buffered and switches to streaming.
func (bw *bufferedWriter) Flush() {
	if bw.hijacked {
		return
	}
	_ = bw.startStreaming()
	_ = http.NewResponseController(bw.w).Flush()
}

// Hijack sends any status or body the handler already wrote before handing
// over the connection.
func (bw *bufferedWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	rc := http.NewResponseController(bw.w)
	if !bw.streaming && (bw.wroteHeader || bw.body.Len() > 0) {
		if err := bw.startStreaming(); err != nil {
			return nil, nil, err
		}
		if err := rc.Flush(); err != nil {
			return nil, nil, err
		}
	}
	conn, rw, err := rc.Hijack()
	if err != nil {
		return nil, nil, err
	}
	bw.streaming = true
	bw.hijacked = true
	bw.committed = true
	return conn, rw, nil
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (bw *bufferedWriter) Unwrap() http.ResponseWriter { return bw.w }

func (bw *bufferedWriter) statusCode() int {
	if bw.status == 0 {
		return http.StatusOK
	}
	return bw.status
}

// sniffContentType sets Content-Type the way net/http would when the
// handler left it unset.
func (bw *bufferedWriter) sniffContentType() {
	h := bw.w.Header()
	if _, ok := h["Content-Type"]; ok || bw.body.Len() == 0 {
		return
	}
	if h.Get("Transfer-Encoding") != "" {
		return
	}
	h.Set("Content-Type", http.DetectContentType(bw.body.Bytes()))
}

func (bw *bufferedWriter) setBody(b []byte) {
	bw.body.Reset()
	bw.body.Write(b)
}

// startStreaming switches to pass-through and commits what was buffered.
func (bw *bufferedWriter) startStreaming() error {
	if bw.streaming {
		return nil
	}
	bw.streaming = true
	if bw.onStream != nil {
		bw.onStream(bw.w.Header())
	}
	return bw.commit()
}

// commit writes the buffered status and body to the underlying writer. It
// is a no-op after the first call.
func (bw *bufferedWriter) commit() error {
	if bw.committed {
		return nil
	}
	bw.committed = true
	bw.w.WriteHeader(bw.statusCode())
	if bw.body.Len() == 0 {
		return nil
	}
	_, err := bw.w.Write(bw.body.Bytes())
	bw.body.Reset()
	return err
}
