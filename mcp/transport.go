package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/bpowers/go-mcpserver/internal/logging"
)

// ErrTransportClosed is returned by reads and writes after Close.
var ErrTransportClosed = errors.New("transport closed")

// Transport moves JSON-RPC messages to and from a single peer.
type Transport interface {
	// ReadMessage blocks until the next message arrives. It returns io.EOF
	// when the peer disconnects in an orderly way, after which Connected
	// reports false. A line that cannot be decoded yields a *MessageError
	// and leaves the stream usable.
	ReadMessage(ctx context.Context) (Message, error)
	// WriteMessage sends msg. At most one write is in flight at a time. If
	// ctx ends before the peer accepts the bytes the stream is considered
	// broken and Connected reports false.
	WriteMessage(ctx context.Context, msg Message) error
	// Connected reports whether the underlying stream is still usable.
	Connected() bool
	Close() error
}

// MessageError reports a line that is not a valid JSON-RPC message. The
// stream itself is still usable.
type MessageError struct {
	Line []byte
	// ID is the id member of the offending object, when it had a usable one.
	ID  json.RawMessage
	Err error
}

// Malformed reports whether the line was not JSON at all, as opposed to
// JSON of the wrong shape.
func (e *MessageError) Malformed() bool {
	var syntaxErr *json.SyntaxError
	return errors.As(e.Err, &syntaxErr)
}

func (e *MessageError) Error() string {
	return fmt.Sprintf("malformed message: %v", e.Err)
}

func (e *MessageError) Unwrap() error {
	return e.Err
}

// TransportOption configures a LineTransport.
type TransportOption func(*LineTransport)

// WithTransportLogger sets the logger used for debug traces of traffic.
func WithTransportLogger(logger *slog.Logger) TransportOption {
	return func(t *LineTransport) {
		if logger != nil {
			t.logger = logger
		}
	}
}

type lineResult struct {
	line []byte
	err  error
}

// LineTransport carries one JSON value per newline-terminated line over an
// arbitrary reader and writer.
//
// Lines are read by a background goroutine started on the first
// ReadMessage, so a read can be abandoned when its context is cancelled.
// Lines of any length are accepted.
type LineTransport struct {
	r      *bufio.Reader
	w      io.Writer
	closer io.Closer
	logger *slog.Logger

	startOnce sync.Once
	lines     chan lineResult

	readMu  sync.Mutex
	readErr error

	// one-slot semaphore; a mutex cannot be acquired with a deadline
	writeSem chan struct{}

	connected atomic.Bool
	closeOnce sync.Once
	closed    chan struct{}
}

var _ Transport = (*LineTransport)(nil)

// NewLineTransport returns a transport reading from r and writing to w. If r
// is an io.Closer it is closed by Close.
func NewLineTransport(r io.Reader, w io.Writer, opts ...TransportOption) *LineTransport {
	t := &LineTransport{
		r:        bufio.NewReader(r),
		w:        w,
		logger:   logging.Component("transport"),
		lines:    make(chan lineResult),
		writeSem: make(chan struct{}, 1),
		closed:   make(chan struct{}),
	}
	if c, ok := r.(io.Closer); ok {
		t.closer = c
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	t.connected.Store(true)
	return t
}

// NewStdioTransport returns a transport over the process's stdin and stdout.
func NewStdioTransport(opts ...TransportOption) *LineTransport {
	return NewLineTransport(os.Stdin, os.Stdout, opts...)
}

func (t *LineTransport) readLoop() {
	defer close(t.lines)
	for {
		line, err := t.r.ReadBytes('\n')
		if len(line) > 0 {
			select {
			case t.lines <- lineResult{line: line}:
			case <-t.closed:
				return
			}
		}
		if err != nil {
			select {
			case t.lines <- lineResult{err: err}:
			case <-t.closed:
			}
			return
		}
	}
}

func (t *LineTransport) ReadMessage(ctx context.Context) (Message, error) {
	t.readMu.Lock()
	defer t.readMu.Unlock()

	if t.readErr != nil {
		return nil, t.readErr
	}

	t.startOnce.Do(func() {
		go t.readLoop()
	})

	for {
		select {
		case <-t.closed:
			return nil, ErrTransportClosed
		default:
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.closed:
			return nil, ErrTransportClosed
		case res, ok := <-t.lines:
			if !ok {
				t.readErr = io.EOF
				return nil, io.EOF
			}
			if res.err != nil {
				t.connected.Store(false)
				if errors.Is(res.err, io.EOF) {
					t.readErr = io.EOF
				} else {
					t.readErr = fmt.Errorf("read message: %w", res.err)
				}
				return nil, t.readErr
			}

			line := bytes.TrimSpace(res.line)
			if len(line) == 0 {
				continue
			}
			t.logger.Debug("read message", "bytes", len(line))

			return decodeMessage(line)
		}
	}
}

// decodeMessage treats an object with a method member as a request and
// anything else as a response. Failures are reported as *MessageError.
func decodeMessage(line []byte) (Message, error) {
	var members map[string]json.RawMessage
	if err := json.Unmarshal(line, &members); err != nil {
		return nil, &MessageError{Line: line, Err: err}
	}
	if members == nil {
		return nil, &MessageError{Line: line, Err: fmt.Errorf("expected a JSON object")}
	}

	if _, ok := members["method"]; ok {
		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			return nil, &MessageError{Line: line, ID: usableID(members["id"]), Err: err}
		}
		return &req, nil
	}

	var resp Response
	err := json.Unmarshal(line, &resp)
	if err == nil {
		err = resp.Validate()
	}
	if err != nil {
		return nil, &MessageError{Line: line, ID: usableID(members["id"]), Err: err}
	}
	return &resp, nil
}

// usableID returns raw if it is a string or number, the only id forms worth
// echoing back to a peer that sent a broken message.
func usableID(raw json.RawMessage) json.RawMessage {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil
	}
	switch c := raw[0]; {
	case c == '"', c == '-', c >= '0' && c <= '9':
		return raw
	}
	return nil
}

func (t *LineTransport) WriteMessage(ctx context.Context, msg Message) error {
	if msg == nil {
		return fmt.Errorf("write message: nil message")
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	data = append(data, '\n')

	select {
	case t.writeSem <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("write message: %w", ctx.Err())
	case <-t.closed:
		return ErrTransportClosed
	}

	select {
	case <-t.closed:
		<-t.writeSem
		return ErrTransportClosed
	default:
	}

	// The write runs on its own goroutine so a peer that stops reading
	// cannot hold the caller past ctx. The semaphore is released only once
	// the underlying Write returns, keeping lines whole.
	done := make(chan error, 1)
	go func() {
		defer func() { <-t.writeSem }()
		done <- t.writeLine(data)
	}()

	select {
	case err := <-done:
		if err != nil {
			t.connected.Store(false)
			return err
		}
		t.logger.Debug("wrote message", "bytes", len(data))
		return nil
	case <-ctx.Done():
		t.connected.Store(false)
		t.logger.Warn("abandoned stalled write", "bytes", len(data), "error", ctx.Err())
		return fmt.Errorf("write message: %w", ctx.Err())
	case <-t.closed:
		return ErrTransportClosed
	}
}

func (t *LineTransport) writeLine(data []byte) error {
	if _, err := t.w.Write(data); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err := flush(t.w); err != nil {
		return fmt.Errorf("flush message: %w", err)
	}
	return nil
}

func flush(w io.Writer) error {
	switch f := w.(type) {
	case interface{ Flush() error }:
		return f.Flush()
	case interface{ Flush() }:
		f.Flush()
	}
	return nil
}

func (t *LineTransport) Connected() bool {
	select {
	case <-t.closed:
		return false
	default:
	}
	return t.connected.Load()
}

// Close stops the transport. It is safe to call more than once.
func (t *LineTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.connected.Store(false)
		close(t.closed)
		if t.closer != nil {
			err = t.closer.Close()
		}
	})
	return err
}
