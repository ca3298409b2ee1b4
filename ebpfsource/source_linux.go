//go:build linux
// +build linux

package ebpfsource

import (
	"bytes"
	"context"
	"errors"
	"os"
	"runtime"
	"runtime/debug"
	"sync"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
	"github.com/cilium/ebpf/ringbuf"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"

	"cdr.dev/slog"

	"github.com/coder/esmon"
)

// readAttempts is the number of consecutive ring buffer read failures after
// which the read loop gives up.
const readAttempts = 10

// recordReader is the part of *ringbuf.Reader used by the read loop.
type recordReader interface {
	Read() (ringbuf.Record, error)
	Close() error
}

type source struct {
	log     slog.Logger
	objs    *objects
	conv    *converter
	handler esmon.Handler

	links []link.Link
	rb    recordReader
	errCh chan error

	subMu      sync.RWMutex
	subscribed map[esmon.Kind]bool

	startOnce sync.Once
	closeLock sync.Mutex
	closed    chan struct{}
	done      chan struct{}
}

var _ esmon.Source = &source{}

// Opener returns an esmon.Opener that loads the eBPF program described by
// opts. The program is read or compiled once and shared by every source the
// opener creates. Failures are reported as *esmon.SourceCreationError.
func Opener(log slog.Logger, opts Options) esmon.Opener {
	var (
		mu      sync.Mutex
		program []byte
	)
	return func(handler esmon.Handler) (esmon.Source, error) {
		mu.Lock()
		var err error
		if program == nil {
			program, err = loadProgram(log, opts)
		}
		prog := program
		mu.Unlock()
		if err != nil {
			return nil, &esmon.SourceCreationError{Result: creationResult(err), Err: err}
		}

		src, err := open(log, prog, opts, handler)
		if err != nil {
			return nil, &esmon.SourceCreationError{Result: creationResult(err), Err: err}
		}
		return src, nil
	}
}

// loadProgram returns the eBPF object configured by opts.
func loadProgram(log slog.Logger, opts Options) ([]byte, error) {
	if opts.ObjectPath != "" {
		b, err := os.ReadFile(opts.ObjectPath)
		if err != nil {
			return nil, xerrors.Errorf("read eBPF object: %w", err)
		}
		return b, nil
	}

	log.Debug(context.Background(), "compiling embedded eBPF program", slog.F("compiler", opts.Compiler))
	b, err := CompileProgram(context.Background(), CompileOptions{Compiler: opts.Compiler})
	if err != nil {
		return nil, xerrors.Errorf("compile eBPF program: %w", err)
	}
	return b, nil
}

// creationResult classifies a failure to create the source.
func creationResult(err error) esmon.NewClientResult {
	switch {
	case errors.Is(err, os.ErrNotExist), errors.Is(err, unix.EINVAL):
		return esmon.NewClientErrInvalidArgument
	case errors.Is(err, unix.EPERM), errors.Is(err, unix.EACCES):
		if os.Geteuid() != 0 {
			return esmon.NewClientErrNotPrivileged
		}
		return esmon.NewClientErrNotPermitted
	case errors.Is(err, unix.EMFILE), errors.Is(err, unix.ENOMEM):
		return esmon.NewClientErrTooManyClients
	default:
		return esmon.NewClientErrInternal
	}
}

func open(log slog.Logger, program []byte, opts Options, handler esmon.Handler) (*source, error) {
	if opts.MountTracefs {
		err := ensureTracefs()
		if err != nil {
			return nil, err
		}
	}

	objs, err := loadObjects(log, bytes.NewReader(program))
	if err != nil {
		return nil, xerrors.Errorf("load eBPF objects: %w", err)
	}
	conv, err := newConverter()
	if err != nil {
		_ = objs.Close()
		return nil, err
	}

	s := &source{
		log:        log,
		objs:       objs,
		conv:       conv,
		handler:    handler,
		subscribed: make(map[esmon.Kind]bool),
		errCh:      make(chan error, 1),
		closed:     make(chan struct{}),
		done:       make(chan struct{}),
	}

	// It could be very bad if someone forgot to close this, so we'll try to
	// detect when it doesn't get closed and log a warning.
	stack := debug.Stack()
	runtime.SetFinalizer(s, func(s *source) {
		err := s.Close()
		if xerrors.Is(err, errSourceClosed) {
			return
		}

		s.log.Warn(context.Background(), "eBPF source was finalized but was not closed",
			slog.F("created_at", string(stack)),
		)
		if err != nil {
			s.log.Warn(context.Background(), "closing eBPF source failed", slog.Error(err))
		}
	})

	err = s.start()
	if err != nil {
		return nil, err
	}
	return s, nil
}

// start attaches the programs to their tracepoints and starts the read
// loop.
func (s *source) start() error {
	if s.isClosed() {
		return errSourceClosed
	}

	var (
		didStart bool
		startErr error
	)
	s.startOnce.Do(func() {
		didStart = true

		// If we don't startup successfully, we need to make sure all of the
		// stuff is cleaned up properly or we'll be leaking kernel resources.
		ok := false
		defer func() {
			if !ok {
				// Best effort.
				_ = s.Close()
			}
		}()

		tracepoints := []struct {
			group, name string
			prog        *ebpf.Program
		}{
			{"syscalls", "sys_enter_execve", s.objs.HandleExec},
			{"sched", "sched_process_fork", s.objs.HandleFork},
			{"syscalls", "sys_enter_exit_group", s.objs.HandleExitGroup},
			{"sched", "sched_process_exit", s.objs.HandleExit},
			{"syscalls", "sys_enter_openat", s.objs.HandleOpenat},
		}
		for _, tp := range tracepoints {
			l, err := link.Tracepoint(tp.group, tp.name, tp.prog, nil)
			if err != nil {
				startErr = xerrors.Errorf("open tracepoint %s/%s: %w", tp.group, tp.name, err)
				return
			}
			s.links = append(s.links, l)
		}

		rb, err := ringbuf.NewReader(s.objs.EventsMap)
		if err != nil {
			startErr = xerrors.Errorf("open ringbuf reader: %w", err)
			return
		}
		s.rb = rb

		go s.readLoop()
		ok = true
	})

	if !didStart {
		return xerrors.New("source has already been started")
	}
	return startErr
}

// readLoop delivers events until the reader is closed. If reading keeps
// failing the loop gives up and reports the last error on errCh.
func (s *source) readLoop() {
	defer close(s.done)
	ctx := context.Background()

	failures := 0
	for {
		record, err := s.rb.Read()
		if err != nil {
			if errors.Is(err, ringbuf.ErrClosed) {
				return
			}
			failures++
			s.log.Warn(ctx, "failed to read event from ringbuf", slog.Error(err))
			if failures == readAttempts {
				s.log.Error(ctx, "failed to read event after many attempts", slog.F("attempts", readAttempts))
				s.errCh <- xerrors.Errorf("read ringbuf %d times: %w", readAttempts, err)
				return
			}
			continue
		}
		failures = 0

		raw, err := parseEvent(record.RawSample)
		if err != nil {
			s.log.Warn(ctx, "dropping malformed event", slog.Error(err))
			continue
		}
		msg := s.conv.convert(raw)
		if msg == nil {
			s.log.Warn(ctx, "dropping event of unknown type", slog.F("type", raw.Type))
			continue
		}
		// Lifecycle events of muted processes only keep the converter's
		// process instances current.
		if raw.Muted != 0 || !s.isSubscribed(msg.Type.Kind) {
			continue
		}
		s.handler(msg)
	}
}

func (s *source) Err() <-chan error {
	return s.errCh
}

func (s *source) isSubscribed(k esmon.Kind) bool {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	return s.subscribed[k]
}

func (s *source) Subscribe(types []esmon.EventType) error {
	if s.isClosed() {
		return &esmon.SubscriptionError{Op: "subscribe", Types: types, Err: errSourceClosed}
	}
	err := checkTypes("subscribe", types)
	if err != nil {
		return err
	}

	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, t := range types {
		s.subscribed[t.Kind] = true
	}
	return nil
}

func (s *source) Unsubscribe(types []esmon.EventType) error {
	if s.isClosed() {
		return &esmon.SubscriptionError{Op: "unsubscribe", Types: types, Err: errSourceClosed}
	}
	err := checkTypes("unsubscribe", types)
	if err != nil {
		return err
	}

	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, t := range types {
		delete(s.subscribed, t.Kind)
	}
	return nil
}

// MuteProcess stops the eBPF program from emitting events for the process.
func (s *source) MuteProcess(token esmon.AuditToken) error {
	if s.isClosed() {
		return errSourceClosed
	}
	err := s.objs.MutedMap.Update(uint32(token.PID), uint8(1), ebpf.UpdateAny)
	if err != nil {
		return xerrors.Errorf("update muted map: %w", err)
	}
	return nil
}

func (*source) RespondAuth(*esmon.Message, bool, bool) error {
	return errAuthSupported
}

func (*source) RespondFlags(*esmon.Message, uint32, bool) error {
	return errAuthSupported
}

func (s *source) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
	}

	return false
}

// Close detaches the programs and frees all kernel resources. The read loop
// exits before Close returns.
func (s *source) Close() error {
	s.closeLock.Lock()
	defer s.closeLock.Unlock()
	if s.isClosed() {
		return errSourceClosed
	}
	close(s.closed)
	runtime.SetFinalizer(s, nil)

	// Close everything started in s.start() in reverse order.
	var merr error
	if s.rb != nil {
		err := s.rb.Close()
		if err != nil {
			merr = multierror.Append(merr, xerrors.Errorf("close ringbuf reader: %w", err))
		}
		<-s.done
	}
	for i := len(s.links) - 1; i >= 0; i-- {
		err := s.links[i].Close()
		if err != nil {
			merr = multierror.Append(merr, xerrors.Errorf("close tracepoint: %w", err))
		}
	}
	err := s.objs.Close()
	if err != nil && !xerrors.Is(err, errObjectsClosed) {
		merr = multierror.Append(merr, xerrors.Errorf("close eBPF objects: %w", err))
	}

	return merr
}
