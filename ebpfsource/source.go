// Package ebpfsource is an esmon.Source for Linux. Process lifecycle and
// openat(2) events are collected by an eBPF object attached to kernel
// tracepoints and read from a ring buffer.
//
// Only notify event types are supported: the kernel cannot be made to wait
// for a decision from a tracepoint program.
package ebpfsource

import (
	"runtime"

	"golang.org/x/xerrors"

	"github.com/coder/esmon"
)

// These constants are defined in the eBPF program and must be kept in sync.
const (
	ARGLEN   = 32
	ARGSIZE  = 1024
	COMMSIZE = 16
)

var (
	errSourceClosed  = xerrors.New("source is closed")
	errObjectsClosed = xerrors.New("objects are closed")
	errAuthSupported = xerrors.New("auth events are not supported by the eBPF source")

	errUnsupportedOS = xerrors.Errorf(`%q is an unsupported OS, only "linux" is supported`, runtime.GOOS)
)

// Suppress unused variable errors. These variables are used in files that are
// not included in all builds.
var (
	_ = errSourceClosed
	_ = errObjectsClosed
	_ = errUnsupportedOS
)

// Options configures the eBPF source.
type Options struct {
	// ObjectPath is the path of a precompiled eBPF object built from
	// SourceFiles. If empty, the embedded program is compiled with Compiler
	// when the first source is opened.
	ObjectPath string
	// Compiler is the clang used to compile the embedded program. If empty,
	// the first suitable compiler in PATH is used.
	Compiler string
	// MountTracefs mounts debugfs and tracefs if they are not mounted yet.
	// Containers often start without them.
	MountTracefs bool
}

// Kinds lists the event kinds this source can deliver.
var Kinds = []esmon.Kind{
	esmon.KindExec,
	esmon.KindFork,
	esmon.KindExit,
	esmon.KindOpen,
}

// checkTypes rejects event types the source cannot deliver.
func checkTypes(op string, types []esmon.EventType) error {
	for _, t := range types {
		if t.Action == esmon.ActionAuth {
			return &esmon.SubscriptionError{Op: op, Types: types, Err: errAuthSupported}
		}
		supported := false
		for _, k := range Kinds {
			if t.Kind == k {
				supported = true
				break
			}
		}
		if !supported {
			return &esmon.SubscriptionError{
				Op:    op,
				Types: types,
				Err:   xerrors.Errorf("event kind %q is not supported by the eBPF source", t.Kind),
			}
		}
	}
	return nil
}
