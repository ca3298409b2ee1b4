//go:build linux
// +build linux

package ebpfsource

import (
	"context"
	"io"
	"runtime"
	"runtime/debug"
	"sync"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/rlimit"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/xerrors"

	"cdr.dev/slog"
)

var removeMemlockOnce sync.Once

// objects holds the programs and maps of a loaded eBPF object.
type objects struct {
	HandleExec      *ebpf.Program `ebpf:"handle_exec"`
	HandleFork      *ebpf.Program `ebpf:"handle_fork"`
	HandleExitGroup *ebpf.Program `ebpf:"handle_exit_group"`
	HandleExit      *ebpf.Program `ebpf:"handle_exit"`
	HandleOpenat    *ebpf.Program `ebpf:"handle_openat"`
	EventsMap       *ebpf.Map     `ebpf:"events"`
	MutedMap        *ebpf.Map     `ebpf:"muted"`
	ExitCodesMap    *ebpf.Map     `ebpf:"exit_codes"`

	closeLock sync.Mutex
	closed    chan struct{}
}

// loadObjects reads and parses the programs and maps out of the given eBPF
// ELF object and loads them into the kernel.
func loadObjects(log slog.Logger, r io.ReaderAt) (*objects, error) {
	// Allow the current process to lock memory for eBPF resources. This does
	// nothing on 5.11+ kernels which don't need this.
	var err error
	removeMemlockOnce.Do(func() {
		err = rlimit.RemoveMemlock()
	})
	if err != nil {
		return nil, xerrors.Errorf("remove kernel memlock: %w", err)
	}

	spec, err := ebpf.LoadCollectionSpecFromReader(r)
	if err != nil {
		return nil, xerrors.Errorf("load collection from reader: %w", err)
	}

	objs := &objects{
		closeLock: sync.Mutex{},
		closed:    make(chan struct{}),
	}
	err = spec.LoadAndAssign(objs, &ebpf.CollectionOptions{})
	if err != nil {
		return nil, xerrors.Errorf("load and assign specs: %w", err)
	}

	// Leaked programs stay attached to the kernel, so warn loudly about
	// objects that were never closed.
	stack := debug.Stack()
	runtime.SetFinalizer(objs, func(o *objects) {
		err := o.Close()
		if xerrors.Is(err, errObjectsClosed) {
			return
		}

		log.Warn(context.Background(), "eBPF objects were finalized but not closed", slog.F("created_at", string(stack)))
		if err != nil {
			log.Warn(context.Background(), "closing eBPF objects failed", slog.Error(err))
		}
	})

	return objs, nil
}

func (o *objects) Close() error {
	o.closeLock.Lock()
	defer o.closeLock.Unlock()
	select {
	case <-o.closed:
		return errObjectsClosed
	default:
	}
	close(o.closed)
	runtime.SetFinalizer(o, nil)

	var merr error
	closers := []struct {
		kind, name string
		c          io.Closer
	}{
		{"program", "handle_exec", o.HandleExec},
		{"program", "handle_fork", o.HandleFork},
		{"program", "handle_exit_group", o.HandleExitGroup},
		{"program", "handle_exit", o.HandleExit},
		{"program", "handle_openat", o.HandleOpenat},
		{"map", "events", o.EventsMap},
		{"map", "muted", o.MutedMap},
		{"map", "exit_codes", o.ExitCodesMap},
	}
	for _, c := range closers {
		if isNil(c.c) {
			continue
		}
		err := c.c.Close()
		if err != nil {
			merr = multierror.Append(merr, xerrors.Errorf("close BPF %s %q: %w", c.kind, c.name, err))
		}
	}

	return merr
}

// isNil reports whether c holds a nil program or map.
func isNil(c io.Closer) bool {
	switch v := c.(type) {
	case *ebpf.Program:
		return v == nil
	case *ebpf.Map:
		return v == nil
	default:
		return c == nil
	}
}
