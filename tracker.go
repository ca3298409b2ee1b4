package esmon

import (
	"context"
	"path"
	"strings"
	"sync"

	"cdr.dev/slog"
)

// Tracker follows a process subtree rooted at every exec of an executable
// under a monitored path. A Tracker is safe for concurrent use and may be
// shared by several clients.
type Tracker struct {
	log    slog.Logger
	prefix string

	mu   sync.Mutex
	pids map[int]struct{}
}

// NewTracker returns a Tracker for executables under prefix. An empty prefix
// disables tracking and every record is forwarded.
func NewTracker(log slog.Logger, prefix string) *Tracker {
	if prefix != "" && prefix != "/" {
		prefix = strings.TrimSuffix(path.Clean(prefix), "/")
	}
	return &Tracker{
		log:    log,
		prefix: prefix,
		pids:   make(map[int]struct{}),
	}
}

// Prefix returns the monitored path, or "" if tracking is disabled.
func (t *Tracker) Prefix() string {
	return t.prefix
}

// Enabled reports whether a monitored path is configured.
func (t *Tracker) Enabled() bool {
	return t.prefix != ""
}

// Matches reports whether executable lies under the monitored path. The
// match is on whole path segments: "/opt/app" matches "/opt/app" and
// "/opt/app/bin" but not "/opt/app2/bin".
func (t *Tracker) Matches(executable string) bool {
	if !t.Enabled() || executable == "" {
		return false
	}
	if t.prefix == "/" {
		return strings.HasPrefix(executable, "/")
	}
	if !strings.HasPrefix(executable, t.prefix) {
		return false
	}
	rest := executable[len(t.prefix):]
	return rest == "" || rest[0] == '/'
}

// Exec records that pid now runs executable. It returns true if pid became
// tracked.
func (t *Tracker) Exec(pid int, executable string) bool {
	if pid < 0 || !t.Matches(executable) {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.pids[pid]
	t.pids[pid] = struct{}{}
	return !ok
}

// Fork records that parent created child. The child is tracked if the parent
// is. It returns true if child became tracked.
func (t *Tracker) Fork(parent, child int) bool {
	if parent < 0 || child < 0 {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.pids[parent]; !ok {
		return false
	}
	_, ok := t.pids[child]
	t.pids[child] = struct{}{}
	return !ok
}

// Exit forgets pid. It returns true if pid was tracked.
func (t *Tracker) Exit(pid int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.pids[pid]
	delete(t.pids, pid)
	return ok
}

// Tracked reports whether pid belongs to a monitored subtree.
func (t *Tracker) Tracked(pid int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.pids[pid]
	return ok
}

// Len returns the number of tracked pids.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pids)
}

// Observe applies the state transition for a successfully decoded message.
// Messages other than exec, fork and exit leave the state unchanged.
func (t *Tracker) Observe(ctx context.Context, msg *Message) {
	if !t.Enabled() {
		return
	}

	switch ev := msg.Event.(type) {
	case ExecEvent:
		pid := ev.Target.PID()
		if pid < 0 {
			pid = msg.Process.PID()
		}
		if t.Exec(pid, ev.Target.ExecutablePath()) {
			t.log.Debug(ctx, "tracking exec",
				slog.F("pid", pid),
				slog.F("executable", ev.Target.ExecutablePath()),
			)
		}
	case ForkEvent:
		parent, child := msg.Process.PID(), ev.Child.PID()
		if t.Fork(parent, child) {
			t.log.Debug(ctx, "tracking fork", slog.F("ppid", parent), slog.F("pid", child))
		}
	case ExitEvent:
		pid := msg.Process.PID()
		if t.Exit(pid) {
			t.log.Debug(ctx, "tracked process exited", slog.F("pid", pid))
		}
	}
}

// Forward reports whether a record for a process with the given pid should
// reach the sink.
func (t *Tracker) Forward(pid int) bool {
	if !t.Enabled() {
		return true
	}
	return t.Tracked(pid)
}
