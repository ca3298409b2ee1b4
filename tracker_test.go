package esmon_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"cdr.dev/slog/sloggers/slogtest"

	"github.com/coder/esmon"
	"github.com/coder/esmon/esmontest"
)

func TestTrackerMatches(t *testing.T) {
	t.Parallel()

	log := slogtest.Make(t, nil)
	tr := esmon.NewTracker(log, "/opt/app/")
	require.Equal(t, "/opt/app", tr.Prefix())
	require.True(t, tr.Matches("/opt/app"))
	require.True(t, tr.Matches("/opt/app/bin"))
	require.True(t, tr.Matches("/opt/app/lib/helper"))
	require.False(t, tr.Matches("/opt/app2/bin"))
	require.False(t, tr.Matches("/opt"))
	require.False(t, tr.Matches(""))

	disabled := esmon.NewTracker(log, "")
	require.False(t, disabled.Enabled())
	require.False(t, disabled.Matches("/opt/app/bin"))
	require.True(t, disabled.Forward(12345))
}

func TestTrackerLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tr := esmon.NewTracker(slogtest.Make(t, nil), "/opt/app")

	// exec of /opt/app/bin in pid 100 starts tracking.
	tr.Observe(ctx, esmontest.Notify(esmontest.Process(100, "/bin/sh"), esmon.ExecEvent{
		Target: esmontest.Process(100, "/opt/app/bin"),
	}))
	require.True(t, tr.Tracked(100))
	require.True(t, tr.Forward(100))

	// Children of tracked processes are tracked.
	tr.Observe(ctx, esmontest.Notify(esmontest.Process(100, "/opt/app/bin"), esmon.ForkEvent{
		Child: esmontest.Process(101, "/opt/app/bin"),
	}))
	require.True(t, tr.Tracked(101))

	// Children of untracked processes are not.
	tr.Observe(ctx, esmontest.Notify(esmontest.Process(200, "/bin/zsh"), esmon.ForkEvent{
		Child: esmontest.Process(201, "/bin/zsh"),
	}))
	require.False(t, tr.Tracked(201))

	// Exit removes the pid; a reused pid is untracked.
	tr.Observe(ctx, esmontest.Notify(esmontest.Process(100, "/opt/app/bin"), esmon.ExitEvent{}))
	require.False(t, tr.Tracked(100))
	require.False(t, tr.Forward(100))
	require.True(t, tr.Tracked(101))
	require.Equal(t, 1, tr.Len())

	// Other kinds do not change state.
	tr.Observe(ctx, esmontest.Notify(esmontest.Process(100, "/opt/app/bin"), esmon.OpenEvent{}))
	require.False(t, tr.Tracked(100))
}

func TestTrackerNeverNegative(t *testing.T) {
	t.Parallel()

	tr := esmon.NewTracker(slogtest.Make(t, nil), "/opt/app")
	require.False(t, tr.Exec(-1, "/opt/app/bin"))
	require.True(t, tr.Exec(1, "/opt/app/bin"))
	require.False(t, tr.Exec(1, "/opt/app/bin"), "already tracked")
	require.False(t, tr.Fork(1, -1))
	require.False(t, tr.Tracked(-1))
	require.Equal(t, 1, tr.Len())
}

func TestTrackerConcurrent(t *testing.T) {
	t.Parallel()

	tr := esmon.NewTracker(slogtest.Make(t, nil), "/opt/app")
	require.True(t, tr.Exec(1, "/opt/app/bin"))

	var wg sync.WaitGroup
	for i := 2; i < 202; i++ {
		wg.Add(1)
		go func(pid int) {
			defer wg.Done()
			tr.Fork(1, pid)
			tr.Tracked(pid)
		}(i)
	}
	wg.Wait()
	require.Equal(t, 201, tr.Len())

	for i := 2; i < 202; i++ {
		wg.Add(1)
		go func(pid int) {
			defer wg.Done()
			tr.Exit(pid)
		}(i)
	}
	wg.Wait()
	require.Equal(t, 1, tr.Len())
}
