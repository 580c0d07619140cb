package consumer

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"unicode/utf8"
)

// DefaultPort is where the consumer listens unless told otherwise.
const DefaultPort = 8000

const (
	statusBody = "Webhook consumer is running"
	ackBody    = `{"status": "received"}`
)

// Listener is a deliberately minimal webhook consumer. It serves one
// connection at a time over a blocking accept loop: a stalled client stalls
// the whole server. There are no read timeouts and no shutdown hook; the
// process runs until it is killed.
type Listener struct {
	port int
	out  io.Writer
}

// NewListener builds a consumer for the given port. A non-positive port
// falls back to DefaultPort; a nil writer falls back to stdout.
func NewListener(port int, out io.Writer) *Listener {
	if port <= 0 {
		port = DefaultPort
	}
	if out == nil {
		out = os.Stdout
	}
	return &Listener{port: port, out: out}
}

// Listen binds the consumer's port on all interfaces. Bind errors are
// returned as-is for the caller to treat as fatal.
func (l *Listener) Listen() (net.Listener, error) {
	return net.Listen("tcp", fmt.Sprintf(":%d", l.port))
}

func (l *Listener) ListenAndServe() error {
	ln, err := l.Listen()
	if err != nil {
		return err
	}
	return l.Serve(ln)
}

// Serve announces readiness and then loops forever: accept, handle, close,
// accept the next. It returns only when the net.Listener fails.
func (l *Listener) Serve(ln net.Listener) error {
	fmt.Fprintf(l.out, "Serving at port %d\n", l.port)
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		l.handleConn(conn)
	}
}

func (l *Listener) handleConn(conn net.Conn) {
	defer conn.Close()

	req, err := http.ReadRequest(bufio.NewReader(conn))
	if err != nil {
		// Unparseable request, or the client went away. Drop the
		// connection and move on.
		return
	}
	defer req.Body.Close()

	switch req.Method {
	case http.MethodGet:
		l.writeResponse(conn, req, http.StatusOK, nil, []byte(statusBody))
	case http.MethodPost:
		l.handlePost(conn, req)
	default:
		l.writeResponse(conn, req, http.StatusMethodNotAllowed, nil, nil)
	}
}

// handlePost reads exactly Content-Length payload bytes, logs them, and
// acknowledges. A POST without a Content-Length header is malformed, as is
// a payload that is not valid UTF-8; both get a 400 and no log line.
func (l *Listener) handlePost(conn net.Conn, req *http.Request) {
	if req.Header.Get("Content-Length") == "" || req.ContentLength < 0 {
		l.writeResponse(conn, req, http.StatusBadRequest, nil, nil)
		return
	}

	payload := make([]byte, req.ContentLength)
	if _, err := io.ReadFull(req.Body, payload); err != nil {
		// Client disconnected mid-read; abandon the exchange.
		return
	}

	if !utf8.Valid(payload) {
		l.writeResponse(conn, req, http.StatusBadRequest, nil, nil)
		return
	}

	fmt.Fprintf(l.out, "Received webhook: %s\n", payload)

	header := http.Header{}
	header.Set("Content-Type", "application/json")
	l.writeResponse(conn, req, http.StatusOK, header, []byte(ackBody))
}

func (l *Listener) writeResponse(conn net.Conn, req *http.Request, status int, header http.Header, body []byte) {
	if header == nil {
		header = http.Header{}
	}
	resp := &http.Response{
		StatusCode:    status,
		ProtoMajor:    1,
		ProtoMinor:    1,
		Request:       req,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Close:         true,
	}
	// Best effort; a write failure just means the client is gone.
	_ = resp.Write(conn)
}
