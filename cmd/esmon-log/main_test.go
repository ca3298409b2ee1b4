package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"cdr.dev/slog/sloggers/slogtest"

	"github.com/coder/esmon"
	"github.com/coder/esmon/esmontest"
	"github.com/coder/esmon/store"
)

func writeRecords(t *testing.T, path string) {
	t.Helper()

	ctx := context.Background()
	st, err := store.Open(ctx, slogtest.Make(t, nil), path)
	require.NoError(t, err)
	defer st.Close()

	for i, exe := range []string{"/bin/ls", "/bin/cat", "/usr/bin/vim"} {
		params := esmon.NewParams()
		params.Set("filename", "/tmp/f")
		err = st.Write(ctx, &esmon.Record{
			Kind:             esmon.KindOpen,
			TimestampSeconds: 1700000000 + int64(i),
			SubjectPath:      "/tmp/f",
			Process:          esmon.ProcessInfo{PID: 100 + i, Executable: exe},
			Parameters:       params,
		})
		require.NoError(t, err)
	}
}

func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out, errOut bytes.Buffer
	app := root()
	app.Writer = &out
	app.ErrWriter = &errOut
	err := app.Run(append([]string{"esmon-log"}, args...))
	return out.String(), err
}

func TestText(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "esmon.db")
	writeRecords(t, path)

	out, err := runApp(t, "--database", path, "-n", "2")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	require.Contains(t, lines[0], "open/notify pid=102")
	require.Contains(t, lines[0], `exe="/usr/bin/vim"`)
	require.Contains(t, lines[0], `filename="/tmp/f"`)
	require.Contains(t, lines[1], "pid=101")
}

func TestTextExecArgv(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "esmon.db")
	ctx := context.Background()
	st, err := store.Open(ctx, slogtest.Make(t, nil), path)
	require.NoError(t, err)
	r, err := esmon.Decode(&esmon.Message{
		Type:    esmon.EventType{Kind: esmon.KindExec},
		Time:    time.Unix(1700000000, 0),
		Process: esmontest.Process(200, "/bin/sh"),
		Event: esmon.ExecEvent{
			Target: esmontest.Process(200, "/usr/bin/grep"),
			Args:   []string{"grep", "-e", "it's", "$HOME", "a b"},
		},
	})
	require.NoError(t, err)
	require.NoError(t, st.Write(ctx, r))
	require.NoError(t, st.Close())

	out, err := runApp(t, "--database", path)
	require.NoError(t, err)
	require.Contains(t, out, "exec/notify pid=200")
	require.Contains(t, out, `argv=grep -e it\'s \$HOME 'a b'`)
	require.NotContains(t, out, "target_args=")
}

func TestJSON(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "esmon.db")
	writeRecords(t, path)

	out, err := runApp(t, "--database", path, "--json")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)

	var e jsonEntry
	require.NoError(t, json.Unmarshal([]byte(lines[2]), &e))
	require.Equal(t, "open", e.Kind)
	require.Equal(t, 100, e.PID)
	require.Equal(t, "/bin/ls", e.Executable)
	require.True(t, e.Time.Equal(time.Unix(1700000000, 0)))
	require.Equal(t, map[string]string{"filename": "/tmp/f"}, e.Parameters)
}

func TestBadLimit(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "esmon.db")
	_, err := runApp(t, "--database", path, "--limit", "0")
	require.Error(t, err)
}
