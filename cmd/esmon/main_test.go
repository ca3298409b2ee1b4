package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/kballard/go-shellquote"
	"github.com/stretchr/testify/require"

	"github.com/coder/esmon"
	"github.com/coder/esmon/config"
)

// parse parses a shell-style command line and returns the resulting
// configuration.
func parse(t *testing.T, cmdline string) (config.Config, error) {
	t.Helper()

	args, err := shellquote.Split(cmdline)
	require.NoError(t, err)

	f := &flags{}
	cmd := newRootCmd(f)
	require.NoError(t, cmd.ParseFlags(args))
	return loadConfig(cmd, *f)
}

func TestLoadConfigFlags(t *testing.T) {
	t.Parallel()

	cfg, err := parse(t, `-e open,+open --event=-open -p "/opt/my app" --clients 3 -v`)
	require.NoError(t, err)
	require.Equal(t, "/opt/my app", cfg.MonitorPath)
	require.Equal(t, 3, cfg.Clients)
	require.Equal(t, "debug", cfg.LogLevel)

	subs, err := cfg.Subscriptions()
	require.NoError(t, err)
	require.Equal(t, []esmon.EventType{{Kind: esmon.KindOpen, Action: esmon.ActionAuth}}, subs)

	_, err = parse(t, `-e teleport`)
	require.Error(t, err)
	_, err = parse(t, `--log-format xml`)
	require.Error(t, err)
}

func TestLoadConfigFileWithOverrides(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "esmon.yaml")
	require.NoError(t, os.WriteFile(path, []byte("monitor_path: /opt/app\nclients: 2\ndatabase: /tmp/a.db\nebpf_object: /opt/esmon.o\n"), 0o600))

	cfg, err := parse(t, shellquote.Join("-c", path, "--database", "/tmp/b.db", "--compiler", "/usr/bin/clang-17"))
	require.NoError(t, err)
	require.Equal(t, "/opt/app", cfg.MonitorPath)
	require.Equal(t, 2, cfg.Clients)
	require.Equal(t, "/tmp/b.db", cfg.Database)
	require.Equal(t, "/opt/esmon.o", cfg.EBPFObject)
	require.Equal(t, "/usr/bin/clang-17", cfg.Compiler)
}

func TestMakeLogger(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	_, err := makeLogger(cfg, []string{"team=infra", "host = a"})
	require.NoError(t, err)
	_, err = makeLogger(cfg, []string{"novalue"})
	require.Error(t, err)

	cfg.LogFormat = "json"
	_, err = makeLogger(cfg, nil)
	require.NoError(t, err)
}

func TestListEvents(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--list-events"})
	require.NoError(t, cmd.Execute())
	require.Contains(t, out.String(), "open [+]\n")
	require.Contains(t, out.String(), "exit\n")
}
