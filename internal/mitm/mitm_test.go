package mitm

import (
	"bufio"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/relayforge/relayforge/internal/certs"
	"github.com/relayforge/relayforge/internal/config"
	"github.com/relayforge/relayforge/internal/httpproxy"
	"github.com/relayforge/relayforge/internal/logstore"
	"github.com/relayforge/relayforge/internal/router"
	"github.com/relayforge/relayforge/internal/rules"
)

// pipeHijacker adapts a net.Conn into an http.ResponseWriter that supports
// Hijack, for driving serveTunnel/serveIntercept without a real listener.
type pipeHijacker struct {
	http.ResponseWriter
	conn net.Conn
}

func (h *pipeHijacker) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	rw := bufio.NewReadWriter(bufio.NewReader(h.conn), bufio.NewWriter(h.conn))
	return h.conn, rw, nil
}

func newTestStore(t *testing.T) *rules.Store {
	t.Helper()
	dir := t.TempDir()
	store, err := rules.New(rules.Options{
		EditRulesPath:   dir + "/edit.json",
		BlockRulesPath:  dir + "/block.json",
		FilterRulesPath: dir + "/filter.json",
		ResourcesPath:   dir + "/resources.json",
		ResourcesDir:    dir,
	})
	if err != nil {
		t.Fatal(err)
	}
	return store
}

func TestServeConnectBlockedRejectsBeforeHijack(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.PutBlockRule(rules.BlockRule{Enabled: true, URL: "ads.example.com"}); err != nil {
		t.Fatal(err)
	}

	h := &Handler{Rules: store, Logs: logstore.New(logstore.Options{MaxEntries: 10})}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodConnect, "/", nil)
	req.Host = "ads.example.com:443"

	h.ServeConnect(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}

func TestServeTunnelSplicesBothDirections(t *testing.T) {
	upstreamLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer upstreamLn.Close()

	go func() {
		conn, err := upstreamLn.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 5)
		io.ReadFull(conn, buf)
		conn.Write([]byte("world"))
	}()

	store := newTestStore(t)
	logs := logstore.New(logstore.Options{MaxEntries: 10})
	h := &Handler{Rules: store, Logs: logs}

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodConnect, "/", nil)
		req.Host = upstreamLn.Addr().String()
		h.serveTunnel(&pipeHijacker{ResponseWriter: rec, conn: serverConn}, routerContextFor(req), time.Now())
	}()

	reader := bufio.NewReader(clientConn)
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatal(err)
	}
	if line != "HTTP/1.1 200 Connection Established\r\n" {
		t.Fatalf("unexpected status line: %q", line)
	}
	// consume the trailing blank line
	reader.ReadString('\n')

	clientConn.Write([]byte("hello"))
	got := make([]byte, 5)
	if _, err := io.ReadFull(reader, got); err != nil {
		t.Fatal(err)
	}
	if string(got) != "world" {
		t.Errorf("spliced response = %q, want %q", got, "world")
	}

	clientConn.Close()
	<-done
}

func TestBufferedResponseWriterDefaultsStatusOK(t *testing.T) {
	bw := newBufferedResponseWriter()
	bw.Write([]byte("hi"))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	resp := bw.toResponse(req)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want 200", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "hi" {
		t.Errorf("body = %q", body)
	}
}

func TestBufferedResponseWriterHonoursExplicitStatus(t *testing.T) {
	bw := newBufferedResponseWriter()
	bw.WriteHeader(http.StatusNoContent)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	resp := bw.toResponse(req)
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("StatusCode = %d, want 204", resp.StatusCode)
	}
}

func TestServeInterceptDispatchesDecryptedRequestThroughInner(t *testing.T) {
	caDir := t.TempDir()
	ca, err := certs.Load(caDir)
	if err != nil {
		t.Fatal(err)
	}

	store := newTestStore(t)
	logs := logstore.New(logstore.Options{MaxEntries: 10})
	settings := config.Settings{BodyLimit: 1 << 20, UpstreamHeadersTimeoutMs: 5000}
	base := httpproxy.New(settings, store, logs, func() config.Toggles { return config.Toggles{} }, ca)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}))
	defer upstream.Close()

	h := New(settings, store, logs, ca, base)

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodConnect, "/", nil)
		req.Host = "example.test:443"
		h.serveIntercept(&pipeHijacker{ResponseWriter: rec, conn: serverConn}, routerContextFor(req), time.Now())
	}()

	reader := bufio.NewReader(clientConn)
	status, err := reader.ReadString('\n')
	if err != nil {
		t.Fatal(err)
	}
	if status != "HTTP/1.1 200 Connection Established\r\n" {
		t.Fatalf("unexpected status line: %q", status)
	}
	reader.ReadString('\n')

	tlsClient := tls.Client(clientConn, &tls.Config{InsecureSkipVerify: true, ServerName: "example.test"})
	if err := tlsClient.Handshake(); err != nil {
		t.Fatal(err)
	}

	reqLine := "GET / HTTP/1.1\r\nHost: example.test\r\nX-Target-URL: " + upstream.URL + "\r\nConnection: close\r\n\r\n"
	if _, err := tlsClient.Write([]byte(reqLine)); err != nil {
		t.Fatal(err)
	}

	resp, err := http.ReadResponse(bufio.NewReader(tlsClient), nil)
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "ok" {
		t.Errorf("decrypted response body = %q, want %q", body, "ok")
	}

	<-done
}

// routerContextFor mirrors ServeConnect's own Context construction so
// tests can call serveTunnel/serveIntercept directly.
func routerContextFor(r *http.Request) router.Context {
	return router.Context{Host: r.Host, RequestURL: r.Host, FullURL: "https://" + r.Host, TargetURL: "https://" + r.Host}
}
