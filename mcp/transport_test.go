package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLineTransportReadsRequestsAndResponses(t *testing.T) {
	input := strings.Join([]string{
		`{"jsonrpc":"2.0","id":1,"method":"ping"}`,
		``,
		`   `,
		`{"jsonrpc":"2.0","id":2,"result":{"ok":true}}`,
		"{\"jsonrpc\":\"2.0\",\"method\":\"notifications/initialized\"}\r",
		`{"jsonrpc":"2.0","id":"last","method":"tools/list"}`,
	}, "\n")
	transport := NewLineTransport(strings.NewReader(input), io.Discard)
	ctx := context.Background()

	msg, err := transport.ReadMessage(ctx)
	require.NoError(t, err)
	req, ok := msg.(*Request)
	require.True(t, ok)
	assert.Equal(t, "ping", req.Method)
	assert.False(t, req.IsNotification())

	msg, err = transport.ReadMessage(ctx)
	require.NoError(t, err)
	resp, ok := msg.(*Response)
	require.True(t, ok)
	assert.Equal(t, json.RawMessage("2"), resp.ID)

	msg, err = transport.ReadMessage(ctx)
	require.NoError(t, err)
	assert.True(t, msg.(*Request).IsNotification())

	// final line has no trailing newline
	msg, err = transport.ReadMessage(ctx)
	require.NoError(t, err)
	assert.Equal(t, json.RawMessage(`"last"`), msg.(*Request).ID)

	_, err = transport.ReadMessage(ctx)
	require.ErrorIs(t, err, io.EOF)
	_, err = transport.ReadMessage(ctx)
	require.ErrorIs(t, err, io.EOF)
}

func TestLineTransportMalformedLineIsNotFatal(t *testing.T) {
	input := strings.Join([]string{
		`not json`,
		`{"jsonrpc":"2.0","id":1}`,
		`{"jsonrpc":"2.0","id":1,"result":1,"error":{"code":1,"message":"x"}}`,
		`{"jsonrpc":"2.0","id":3,"method":"ping"}`,
	}, "\n")
	transport := NewLineTransport(strings.NewReader(input), io.Discard)
	ctx := context.Background()

	for range 3 {
		_, err := transport.ReadMessage(ctx)
		var msgErr *MessageError
		require.ErrorAs(t, err, &msgErr)
		assert.True(t, transport.Connected())
	}

	msg, err := transport.ReadMessage(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ping", msg.(*Request).Method)
}

func TestLineTransportLongLine(t *testing.T) {
	payload := strings.Repeat("x", 1<<20)
	line := `{"jsonrpc":"2.0","id":1,"method":"echo","params":{"text":"` + payload + `"}}`
	transport := NewLineTransport(strings.NewReader(line+"\n"), io.Discard)

	msg, err := transport.ReadMessage(context.Background())
	require.NoError(t, err)
	assert.Greater(t, len(msg.(*Request).Params), 1<<20)
}

func TestLineTransportReadHonorsContext(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	transport := NewLineTransport(pr, io.Discard)
	defer transport.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := transport.ReadMessage(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, transport.Connected())
}

type faultyReader struct{}

func (faultyReader) Read([]byte) (int, error) {
	return 0, errors.New("device unplugged")
}

func TestLineTransportStreamFault(t *testing.T) {
	transport := NewLineTransport(faultyReader{}, io.Discard)

	_, err := transport.ReadMessage(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, io.EOF)
	assert.Contains(t, err.Error(), "device unplugged")
	assert.False(t, transport.Connected())
}

func TestLineTransportWrite(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	transport := NewLineTransport(strings.NewReader(""), w)

	resp := resultResponse(json.RawMessage("7"), map[string]any{"ok": true})
	require.NoError(t, transport.WriteMessage(context.Background(), resp))

	// flushed without an explicit Flush by the caller
	assert.Equal(t, `{"jsonrpc":"2.0","id":7,"result":{"ok":true}}`+"\n", buf.String())
}

func TestLineTransportRoundTrip(t *testing.T) {
	responses := []*Response{
		resultResponse(json.RawMessage(`"abc"`), map[string]any{"tools": []any{}}),
		errorResponse(json.RawMessage("12"), CodeInvalidParams, "invalid params", "detail"),
		errorResponse(nullID, CodeParseError, "parse error", nil),
	}

	var buf bytes.Buffer
	writer := NewLineTransport(strings.NewReader(""), &buf)
	for _, resp := range responses {
		require.NoError(t, writer.WriteMessage(context.Background(), resp))
	}
	first := buf.String()

	reader := NewLineTransport(strings.NewReader(first), io.Discard)
	var again bytes.Buffer
	rewriter := NewLineTransport(strings.NewReader(""), &again)
	for i := range responses {
		msg, err := reader.ReadMessage(context.Background())
		require.NoError(t, err)
		decoded := msg.(*Response)
		assert.Equal(t, string(responses[i].ID), string(decoded.ID))
		require.NoError(t, rewriter.WriteMessage(context.Background(), decoded))
	}

	assert.Equal(t, first, again.String())
}

type slowWriter struct {
	mu      sync.Mutex
	buf     bytes.Buffer
	inWrite bool
	overlap bool
}

func (w *slowWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	if w.inWrite {
		w.overlap = true
	}
	w.inWrite = true
	w.mu.Unlock()

	// split the write so interleaving would corrupt lines
	half := len(p) / 2
	w.mu.Lock()
	w.buf.Write(p[:half])
	w.mu.Unlock()
	time.Sleep(time.Millisecond)
	w.mu.Lock()
	w.buf.Write(p[half:])
	w.inWrite = false
	w.mu.Unlock()
	return len(p), nil
}

func TestLineTransportSerializesWrites(t *testing.T) {
	w := &slowWriter{}
	transport := NewLineTransport(strings.NewReader(""), w)

	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, _ := json.Marshal(i)
			assert.NoError(t, transport.WriteMessage(context.Background(), resultResponse(id, struct{}{})))
		}()
	}
	wg.Wait()

	assert.False(t, w.overlap)
	lines := strings.Split(strings.TrimSpace(w.buf.String()), "\n")
	require.Len(t, lines, 10)
	for _, line := range lines {
		assert.True(t, json.Valid([]byte(line)), line)
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, io.ErrClosedPipe
}

func TestLineTransportWriteFault(t *testing.T) {
	transport := NewLineTransport(strings.NewReader(""), failingWriter{})

	err := transport.WriteMessage(context.Background(), resultResponse(json.RawMessage("1"), struct{}{}))
	require.ErrorIs(t, err, io.ErrClosedPipe)
	assert.False(t, transport.Connected())
}

func TestLineTransportClose(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	transport := NewLineTransport(pr, io.Discard)
	assert.True(t, transport.Connected())

	require.NoError(t, transport.Close())
	require.NoError(t, transport.Close())
	assert.False(t, transport.Connected())

	_, err := transport.ReadMessage(context.Background())
	require.ErrorIs(t, err, ErrTransportClosed)

	err = transport.WriteMessage(context.Background(), resultResponse(json.RawMessage("1"), struct{}{}))
	require.ErrorIs(t, err, ErrTransportClosed)
}

func TestLineTransportEOFDisconnects(t *testing.T) {
	transport := NewLineTransport(strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`+"\n"), io.Discard)

	_, err := transport.ReadMessage(context.Background())
	require.NoError(t, err)
	assert.True(t, transport.Connected())

	_, err = transport.ReadMessage(context.Background())
	require.ErrorIs(t, err, io.EOF)
	assert.False(t, transport.Connected())
}

func TestLineTransportMessageErrorDetails(t *testing.T) {
	tests := []struct {
		name      string
		line      string
		id        json.RawMessage
		malformed bool
	}{
		{name: "truncated", line: `{"jsonrpc":`, malformed: true},
		{name: "garbage", line: `not json`, malformed: true},
		{name: "non-string method", line: `{"jsonrpc":"2.0","id":7,"method":123}`, id: json.RawMessage("7")},
		{name: "string id", line: `{"jsonrpc":"2.0","id":"a-1","method":["ping"]}`, id: json.RawMessage(`"a-1"`)},
		{name: "object id", line: `{"jsonrpc":"2.0","id":{"n":1},"method":false}`},
		{name: "batch", line: `[{"jsonrpc":"2.0","id":1,"method":"ping"}]`},
		{name: "scalar", line: `42`},
		{name: "null", line: `null`},
		{name: "incomplete response", line: `{"jsonrpc":"2.0","id":-3}`, id: json.RawMessage("-3")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport := NewLineTransport(strings.NewReader(tt.line+"\n"), io.Discard)

			_, err := transport.ReadMessage(context.Background())
			var msgErr *MessageError
			require.ErrorAs(t, err, &msgErr)
			assert.Equal(t, tt.malformed, msgErr.Malformed())
			assert.Equal(t, string(tt.id), string(msgErr.ID))
			assert.Equal(t, tt.line, string(msgErr.Line))
			assert.True(t, transport.Connected())
		})
	}
}

type blockingWriter struct {
	release chan struct{}
}

func (w blockingWriter) Write(p []byte) (int, error) {
	<-w.release
	return len(p), nil
}

func TestLineTransportWriteDeadline(t *testing.T) {
	w := blockingWriter{release: make(chan struct{})}
	t.Cleanup(func() { close(w.release) })
	transport := NewLineTransport(strings.NewReader(""), w)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := transport.WriteMessage(ctx, resultResponse(json.RawMessage("1"), struct{}{}))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
	assert.False(t, transport.Connected())

	// the stalled write still owns the stream
	ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel2()
	err = transport.WriteMessage(ctx2, resultResponse(json.RawMessage("2"), struct{}{}))
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLineTransportLogger(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	var out bytes.Buffer
	transport := NewLineTransport(strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`+"\n"), &out, WithTransportLogger(logger), WithTransportLogger(nil))

	_, err := transport.ReadMessage(context.Background())
	require.NoError(t, err)
	require.NoError(t, transport.WriteMessage(context.Background(), resultResponse(json.RawMessage("1"), struct{}{})))

	assert.Contains(t, logs.String(), "read message")
	assert.Contains(t, logs.String(), "wrote message")
}

func TestStdioTransport(t *testing.T) {
	transport := NewStdioTransport()

	assert.True(t, transport.Connected())
	assert.Same(t, os.Stdout, transport.w)
	assert.Same(t, os.Stdin, transport.closer)
}
