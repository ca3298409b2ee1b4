//go:build linux
// +build linux

package ebpfsource_test

import (
	"context"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"cdr.dev/slog/sloggers/slogtest"

	"github.com/coder/esmon"
	"github.com/coder/esmon/ebpfsource"
)

// objectPath returns the eBPF object to test with, skipping the test if it
// cannot run. An empty path means the embedded program is compiled.
func objectPath(t *testing.T) string {
	t.Helper()

	// This test must be run as root so we can load eBPF programs.
	if os.Geteuid() != 0 {
		t.Skip("must be run as root")
	}
	path := os.Getenv("ESMON_EBPF_OBJECT")
	if path == "" {
		if _, err := ebpfsource.FindCompiler(); err != nil {
			t.Skipf("ESMON_EBPF_OBJECT is not set and %v", err)
		}
	}
	return path
}

//nolint:paralleltest
func TestSourceExec(t *testing.T) {
	path := objectPath(t)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	messages := make(chan *esmon.Message, 128)
	open := ebpfsource.Opener(slogtest.Make(t, nil), ebpfsource.Options{ObjectPath: path, MountTracefs: true})
	src, err := open(func(msg *esmon.Message) {
		select {
		case messages <- msg:
		default:
		}
	})
	require.NoError(t, err)
	defer src.Close()

	err = src.Subscribe([]esmon.EventType{{Kind: esmon.KindOpen, Action: esmon.ActionAuth}})
	require.Error(t, err, "auth subscriptions are rejected")
	require.NoError(t, src.Subscribe([]esmon.EventType{{Kind: esmon.KindExec}}))

	const expected = "hello esmon ebpf test"
	args := []string{"sh", "-c", "# " + expected}
	filename, err := exec.LookPath(args[0])
	require.NoError(t, err)
	processDone := spamProcess(ctx, t, args)

	for {
		var msg *esmon.Message
		select {
		case <-ctx.Done():
			t.Fatal("timed out waiting for process")
		case msg = <-messages:
		}
		ev, ok := msg.Event.(esmon.ExecEvent)
		require.True(t, ok, "only exec is subscribed")
		if !strings.Contains(strings.Join(ev.Args, " "), expected) {
			continue
		}
		require.Equal(t, filename, ev.Target.ExecutablePath())
		require.Equal(t, args, ev.Args)
		require.NotEqual(t, os.Getpid(), ev.Target.PID())
		break
	}

	cancel()
	<-processDone
	require.NoError(t, src.Close())
}

// spamProcess runs the given command every 100ms. The returned channel is
// closed when the goroutine exits (either if there's a problem or if the
// context is canceled).
func spamProcess(ctx context.Context, t *testing.T, args []string) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			//nolint:gosec
			cmd := exec.CommandContext(ctx, args[0], args[1:]...)
			_, err := cmd.CombinedOutput()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				t.Errorf("command launch failure in spamProcess: %+v", err)
				return
			}
			time.Sleep(100 * time.Millisecond)
		}
	}()

	return done
}
