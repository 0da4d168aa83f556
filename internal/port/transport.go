package port

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Transport exchanges one request for one response. The scheduler
// guarantees a port's transport is never used by two commands at once.
type Transport interface {
	Exchange(ctx context.Context, req []byte) ([]byte, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, req []byte) ([]byte, error)

// Exchange implements Transport.
func (f TransportFunc) Exchange(ctx context.Context, req []byte) ([]byte, error) {
	return f(ctx, req)
}

// ResponseError is an error final result from the modem.
type ResponseError struct {
	Final string
	Lines []string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("modem replied %q", e.Final)
}

type deadliner interface {
	SetReadDeadline(t time.Time) error
}

// LineTransport speaks line-oriented AT commands over a byte stream.
type LineTransport struct {
	mu sync.Mutex
	rw io.ReadWriter
	r  *bufio.Reader
}

// NewLineTransport wraps rw. If rw supports SetReadDeadline, context
// deadlines and cancellation interrupt blocked reads.
func NewLineTransport(rw io.ReadWriter) *LineTransport {
	return &LineTransport{rw: rw, r: bufio.NewReader(rw)}
}

// Exchange writes req terminated by CR and collects response lines until a
// final result code. Echoed command lines and blank lines are dropped.
func (t *LineTransport) Exchange(ctx context.Context, req []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if dl, ok := t.rw.(deadliner); ok {
		if d, ok := ctx.Deadline(); ok {
			dl.SetReadDeadline(d)
		}
		stop := context.AfterFunc(ctx, func() { dl.SetReadDeadline(time.Now()) })
		defer stop()
		defer dl.SetReadDeadline(time.Time{})
	}

	cmd := bytes.TrimRight(req, "\r\n")
	if _, err := t.rw.Write(append(append([]byte(nil), cmd...), '\r')); err != nil {
		return nil, fmt.Errorf("write command: %w", err)
	}

	var lines []string
	for {
		line, err := t.r.ReadString('\n')
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, os.ErrDeadlineExceeded) {
				// Read deadlines are only ever derived from ctx.
				<-ctx.Done()
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("read response: %w", err)
		}
		line = strings.TrimSpace(line)
		if line == "" || line == string(cmd) {
			continue
		}

		switch {
		case line == "OK":
			return []byte(strings.Join(lines, "\n")), nil
		case isErrorFinal(line):
			return nil, &ResponseError{Final: line, Lines: lines}
		}
		lines = append(lines, line)
	}
}

func isErrorFinal(line string) bool {
	switch {
	case line == "ERROR", line == "NO CARRIER", line == "BUSY", line == "NO ANSWER", line == "NO DIALTONE":
		return true
	case strings.HasPrefix(line, "+CME ERROR:"), strings.HasPrefix(line, "+CMS ERROR:"):
		return true
	}
	return false
}
