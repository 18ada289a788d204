package mitm

import (
	"bufio"
	"bytes"
	"crypto/tls"
	"io"
	"net/http"
	"time"

	"github.com/relayforge/relayforge/internal/logstore"
	"github.com/relayforge/relayforge/internal/router"
)

// serveIntercept implements the MITM branch: hijack the
// client connection, terminate TLS with a leaf certificate issued for the
// SNI-requested host, then loop decoding HTTP requests off the decrypted
// stream and dispatching each through Inner (internal/httpproxy.Handler),
// which reconstructs the full URL as https://host{path} since CONNECT
// only ever carried host:port.
func (h *Handler) serveIntercept(w http.ResponseWriter, ctx router.Context, started time.Time) {
	hijacker, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "hijack unsupported", http.StatusInternalServerError)
		return
	}

	client, rw, err := hijacker.Hijack()
	if err != nil {
		return
	}
	defer client.Close()

	if _, err := rw.WriteString("HTTP/1.1 200 Connection Established\r\n\r\n"); err != nil {
		return
	}
	if err := rw.Flush(); err != nil {
		return
	}

	tlsConn := tls.Server(client, &tls.Config{GetCertificate: h.CA.GetCertificate})
	defer tlsConn.Close()
	if err := tlsConn.Handshake(); err != nil {
		h.Logs.Insert(&logstore.Entry{
			StartedAt:             started,
			Method:                http.MethodConnect,
			RequestURL:            ctx.RequestURL,
			FullURL:               ctx.FullURL,
			Source:                logstore.SourceError,
			Host:                  ctx.Host,
			Error:                 err.Error(),
			UpstreamErrorCategory: logstore.ErrorProtocol,
			Metrics:               logstore.Metrics{TotalDurationMs: time.Since(started).Milliseconds()},
		})
		return
	}
	state := tlsConn.ConnectionState()

	reader := bufio.NewReader(tlsConn)
	for {
		req, err := http.ReadRequest(reader)
		if err != nil {
			return
		}
		req.TLS = &state

		bw := newBufferedResponseWriter()
		h.Inner.ServeHTTP(bw, req)

		resp := bw.toResponse(req)
		if err := resp.Write(tlsConn); err != nil {
			return
		}
		if req.Close || resp.Close {
			return
		}
	}
}

// bufferedResponseWriter buffers an http.Handler's output so it can be
// replayed as an *http.Response onto the raw TLS connection, since the
// decrypted request loop isn't served by an http.Server.
type bufferedResponseWriter struct {
	header      http.Header
	status      int
	body        bytes.Buffer
	wroteHeader bool
}

func newBufferedResponseWriter() *bufferedResponseWriter {
	return &bufferedResponseWriter{header: make(http.Header)}
}

func (w *bufferedResponseWriter) Header() http.Header { return w.header }

func (w *bufferedResponseWriter) WriteHeader(status int) {
	if w.wroteHeader {
		return
	}
	w.status = status
	w.wroteHeader = true
}

func (w *bufferedResponseWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.body.Write(b)
}

func (w *bufferedResponseWriter) toResponse(req *http.Request) *http.Response {
	status := w.status
	if status == 0 {
		status = http.StatusOK
	}
	body := w.body.Bytes()
	header := w.header
	header.Del("Content-Length")
	return &http.Response{
		Status:        http.StatusText(status),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Close:         header.Get("Connection") == "close",
		Request:       req,
	}
}
