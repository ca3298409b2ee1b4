package esmon_test

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/kballard/go-shellquote"
	"github.com/stretchr/testify/require"

	"cdr.dev/slog"
	"cdr.dev/slog/sloggers/slogjson"
	"cdr.dev/slog/sloggers/slogtest"

	"github.com/coder/esmon"
	"github.com/coder/esmon/esmontest"
)

func TestRowFor(t *testing.T) {
	t.Parallel()

	r, err := esmon.Decode(esmontest.Notify(esmontest.Process(9, "/usr/bin/true"), esmon.SetTimeEvent{}))
	require.NoError(t, err)
	require.Empty(t, r.SubjectPath)

	row := esmon.RowFor(r)
	require.Equal(t, esmon.MissingSubject, row.SubjectPath)
	require.Equal(t, "settime", row.Kind)
	require.Equal(t, "/usr/bin/true", row.ExecutablePath)

	r.SubjectPath = "/etc/passwd"
	require.Equal(t, "/etc/passwd", esmon.RowFor(r).SubjectPath)
}

func TestParamsJSONOrder(t *testing.T) {
	t.Parallel()

	p := esmon.NewParams()
	p.Set("z", "1")
	p.Set("a", "2")
	p.Set("z", "3")

	b, err := json.Marshal(p)
	require.NoError(t, err)
	require.JSONEq(t, `{"z":"3","a":"2"}`, string(b))
	require.Equal(t, `{"z":"3","a":"2"}`, string(b))
	require.Equal(t, 2, p.Len())
}

func TestLogSink(t *testing.T) {
	t.Parallel()

	sink := esmon.Serialize(esmon.NewLogSink(slogtest.Make(t, nil)))
	r, err := esmon.Decode(esmontest.Notify(esmontest.Process(9, "/bin/cat"), esmon.OpenEvent{File: &esmon.File{Path: "/a"}}))
	require.NoError(t, err)
	require.NoError(t, sink.Write(context.Background(), r))
	require.Same(t, sink, esmon.Serialize(sink))
	require.NoError(t, sink.Close())
}

func TestLogSinkExecFields(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	sink := esmon.NewLogSink(slog.Make(slogjson.Sink(&buf)))
	proc := esmontest.Process(9, "/bin/sh")
	proc.Name = "sh"
	r, err := esmon.Decode(esmontest.Notify(proc, esmon.ExecEvent{
		Target: esmontest.Process(9, "/bin/echo"),
		Args:   []string{"echo", "two words", "it's"},
	}))
	require.NoError(t, err)
	require.NoError(t, sink.Write(context.Background(), r))

	var line struct {
		Msg    string `json:"msg"`
		Fields struct {
			Comm string `json:"comm"`
			Argv string `json:"argv"`
		} `json:"fields"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "exec", line.Msg)
	require.Equal(t, "sh", line.Fields.Comm)

	argv, err := shellquote.Split(line.Fields.Argv)
	require.NoError(t, err)
	require.Equal(t, r.Args, argv)
	require.Equal(t, `"echo" "two words" "it's"`, r.Parameters.Value("target_args"))
}
