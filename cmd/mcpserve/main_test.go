package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bpowers/go-mcpserver/mcp"
	"github.com/bpowers/go-mcpserver/persistence"
	"github.com/bpowers/go-mcpserver/persistence/sqlitestore"
)

func TestParseFlagsArgs(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected Config
	}{
		{
			name: "defaults",
			args: []string{},
			expected: Config{
				Command:      "serve",
				Root:         ".",
				Name:         "mcpserve",
				Version:      "0.1.0",
				EventBuffer:  64,
				WriteTimeout: 30 * time.Second,
			},
		},
		{
			name: "explicit serve",
			args: []string{"serve", "-root", "/tmp/data", "-name", "files", "-version", "2.0.0", "-db", "events.db", "-read-only", "-debug", "-event-buffer", "8", "-write-timeout", "5s"},
			expected: Config{
				Command:      "serve",
				Root:         "/tmp/data",
				Name:         "files",
				Version:      "2.0.0",
				DBPath:       "events.db",
				ReadOnly:     true,
				Debug:        true,
				EventBuffer:  8,
				WriteTimeout: 5 * time.Second,
			},
		},
		{
			name: "schema",
			args: []string{"schema", "-read-only"},
			expected: Config{
				Command:      "schema",
				Root:         ".",
				Name:         "mcpserve",
				Version:      "0.1.0",
				ReadOnly:     true,
				EventBuffer:  64,
				WriteTimeout: 30 * time.Second,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config, err := parseFlagsArgs(tt.args, io.Discard)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, *config)
		})
	}
}

func TestParseFlagsArgsErrors(t *testing.T) {
	_, err := parseFlagsArgs([]string{"-name", ""}, io.Discard)
	assert.Error(t, err)

	_, err = parseFlagsArgs([]string{"-bogus"}, io.Discard)
	assert.Error(t, err)

	_, err = parseFlagsArgs([]string{"serve", "extra"}, io.Discard)
	assert.Error(t, err)

	_, err = parseFlagsArgs([]string{"-event-buffer", "-1"}, io.Discard)
	assert.Error(t, err)

	_, err = parseFlagsArgs([]string{"-write-timeout", "0s"}, io.Discard)
	assert.Error(t, err)

	_, err = parseFlagsArgs([]string{"-h"}, io.Discard)
	assert.ErrorIs(t, err, flag.ErrHelp)
}

func TestSchemaCommand(t *testing.T) {
	var out bytes.Buffer
	err := run(context.Background(), &Config{Command: "schema"}, strings.NewReader(""), &out)
	require.NoError(t, err)

	var result mcp.ListToolsResult
	require.NoError(t, json.Unmarshal(out.Bytes(), &result))

	var names []string
	for _, def := range result.Tools {
		names = append(names, def.Name)
		require.NotNil(t, def.InputSchema)
	}
	assert.ElementsMatch(t, []string{"read_file", "write_file", "list_directory"}, names)

	out.Reset()
	err = run(context.Background(), &Config{Command: "schema", ReadOnly: true}, strings.NewReader(""), &out)
	require.NoError(t, err)
	assert.NotContains(t, out.String(), "write_file")
}

func requests(lines ...string) io.Reader {
	return strings.NewReader(strings.Join(lines, "\n") + "\n")
}

func responses(t *testing.T, out *bytes.Buffer) map[string]mcp.Response {
	t.Helper()
	byID := make(map[string]mcp.Response)
	scanner := bufio.NewScanner(out)
	for scanner.Scan() {
		var resp mcp.Response
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &resp))
		byID[string(resp.ID)] = resp
	}
	require.NoError(t, scanner.Err())
	return byID
}

func toolText(t *testing.T, resp mcp.Response) (string, bool) {
	t.Helper()
	var result mcp.CallToolResult
	decodeResult(t, resp, &result)
	return result.Text(), result.Failed()
}

func decodeResult(t *testing.T, resp mcp.Response, v any) {
	t.Helper()
	require.Nil(t, resp.Error)
	raw, ok := resp.Result.(json.RawMessage)
	require.True(t, ok, "result is %T", resp.Result)
	require.NoError(t, json.Unmarshal(raw, v))
}

func TestServeRoundTrip(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hello.txt"), []byte("hello world"), 0o644))

	in := requests(
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-11-25","clientInfo":{"name":"test","version":"1"}}}`,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"read_file","arguments":{"path":"hello.txt"}}}`,
		`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"write_file","arguments":{"path":"sub/dir/new.txt","content":"created"}}}`,
		`{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"read_file","arguments":{"path":"../outside.txt"}}}`,
		`{"jsonrpc":"2.0","id":5,"method":"tools/call","params":{"name":"list_directory","arguments":{}}}`,
	)
	var out bytes.Buffer

	config := &Config{Command: "serve", Root: dir, Name: "files", Version: "1.2.3"}
	require.NoError(t, run(context.Background(), config, in, &out))

	byID := responses(t, &out)
	require.Len(t, byID, 5)

	initResp := byID["1"]
	var initResult mcp.InitializeResult
	decodeResult(t, initResp, &initResult)
	assert.Equal(t, "files", initResult.ServerInfo.Name)
	assert.Equal(t, "1.2.3", initResult.ServerInfo.Version)
	assert.NotNil(t, initResult.Capabilities.Tools)

	text, failed := toolText(t, byID["2"])
	assert.False(t, failed)
	assert.Equal(t, "hello world", text)

	_, failed = toolText(t, byID["3"])
	assert.False(t, failed)
	data, err := os.ReadFile(filepath.Join(dir, "sub", "dir", "new.txt"))
	require.NoError(t, err)
	assert.Equal(t, "created", string(data))

	// paths are cleaned relative to the root, so this names root/outside.txt
	_, failed = toolText(t, byID["4"])
	assert.True(t, failed)

	text, failed = toolText(t, byID["5"])
	assert.False(t, failed)
	assert.Contains(t, text, "hello.txt")
	assert.Contains(t, text, "sub")
}

func TestServeReadOnly(t *testing.T) {
	dir := t.TempDir()

	in := requests(
		`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"write_file","arguments":{"path":"x.txt","content":"x"}}}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`,
	)
	var out bytes.Buffer

	config := &Config{Command: "serve", Root: dir, Name: "files", Version: "1", ReadOnly: true}
	require.NoError(t, run(context.Background(), config, in, &out))

	byID := responses(t, &out)
	require.NotNil(t, byID["1"].Error)
	assert.Equal(t, mcp.CodeInvalidRequest, byID["1"].Error.Code)

	var list mcp.ListToolsResult
	decodeResult(t, byID["2"], &list)
	for _, def := range list.Tools {
		assert.NotEqual(t, "write_file", def.Name)
	}

	_, err := os.Stat(filepath.Join(dir, "x.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestServeRecordsEvents(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(t.TempDir(), "events.db")

	in := requests(
		`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"list_directory"}}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"read_file","arguments":{"path":"missing.txt"}}}`,
	)
	var out bytes.Buffer

	config := &Config{Command: "serve", Root: dir, Name: "files", Version: "1", DBPath: dbPath}
	require.NoError(t, run(context.Background(), config, in, &out))

	store, err := sqlitestore.New(dbPath)
	require.NoError(t, err)
	defer store.Close()

	runs, err := store.ListRuns()
	require.NoError(t, err)
	require.Len(t, runs, 1)

	records, err := store.Records(runs[0])
	require.NoError(t, err)

	summary := persistence.Summarize(runs[0], records)
	assert.False(t, summary.Started.IsZero())
	assert.False(t, summary.Stopped.IsZero())
	assert.Equal(t, 2, summary.Calls)
	assert.Equal(t, 1, summary.Failures)
	assert.Equal(t, map[string]int{"list_directory": 1, "read_file": 1}, summary.ByTool)
}

func TestNewTransport(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	var out bytes.Buffer
	transport := newTransport(requests(`{"jsonrpc":"2.0","id":1,"method":"ping"}`), &out, logger)
	msg, err := transport.ReadMessage(context.Background())
	require.NoError(t, err)
	req, ok := msg.(*mcp.Request)
	require.True(t, ok)
	assert.Equal(t, mcp.MethodPing, req.Method)
	assert.Contains(t, logs.String(), "read message")

	stdio := newTransport(os.Stdin, os.Stdout, logger)
	assert.True(t, stdio.Connected())
}

func TestServeWithSmallEventBuffer(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(t.TempDir(), "events.db")

	in := requests(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"list_directory"}}`)
	var out bytes.Buffer

	config := &Config{Command: "serve", Root: dir, Name: "files", Version: "1", DBPath: dbPath, EventBuffer: 1, WriteTimeout: time.Second}
	require.NoError(t, run(context.Background(), config, in, &out))
	require.Len(t, responses(t, &out), 1)

	store, err := sqlitestore.New(dbPath)
	require.NoError(t, err)
	defer store.Close()

	runs, err := store.ListRuns()
	require.NoError(t, err)
	require.Len(t, runs, 1)
	records, err := store.Records(runs[0])
	require.NoError(t, err)
	assert.False(t, persistence.Summarize(runs[0], records).Stopped.IsZero())
}

func TestServeMissingRoot(t *testing.T) {
	config := &Config{Command: "serve", Root: filepath.Join(t.TempDir(), "nope"), Name: "files", Version: "1"}
	err := run(context.Background(), config, strings.NewReader(""), io.Discard)
	assert.Error(t, err)
}

func TestRootFS(t *testing.T) {
	root, err := os.OpenRoot(t.TempDir())
	require.NoError(t, err)
	defer root.Close()

	fsys := newRootFS(root).(rootFS)
	require.NoError(t, fsys.MkdirAll("a/b/c", 0o755))
	require.NoError(t, fsys.MkdirAll("a/b", 0o755))
	require.NoError(t, fsys.MkdirAll(".", 0o755))
	assert.Error(t, fsys.MkdirAll("../escape", 0o755))

	require.NoError(t, fsys.WriteFile("a/b/c/file.txt", []byte("one"), 0o644))
	require.NoError(t, fsys.WriteFile("a/b/c/file.txt", []byte("two"), 0o644))

	data, err := fs.ReadFile(root.FS(), "a/b/c/file.txt")
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))

	assert.Error(t, fsys.WriteFile("../escape.txt", []byte("x"), 0o644))
}
