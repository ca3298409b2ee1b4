//go:build linux
// +build linux

package ebpfsource

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"

	"github.com/coder/esmon"
)

// Event types emitted by the eBPF program.
const (
	eventExec uint32 = iota + 1
	eventFork
	eventExit
	eventOpen
)

// event is sent from the eBPF program to userspace through the ring buffer.
// This type must be kept in sync with `event_t` in the eBPF program.
type event struct {
	Type uint32
	PID  uint32
	PPID uint32
	UID  uint32
	GID  uint32
	// ChildPID is set for fork events.
	ChildPID uint32
	// Code is the wait status for exit events and the open flags for open
	// events.
	Code int32
	Argc uint32
	// Muted is set on fork and exit events of muted processes.
	Muted uint32

	Comm     [COMMSIZE]byte
	Filename [ARGSIZE]byte
	Argv     [ARGLEN][ARGSIZE]byte
}

// parseEvent decodes a ring buffer sample.
func parseEvent(sample []byte) (*event, error) {
	var raw event
	err := binary.Read(bytes.NewReader(sample), binary.NativeEndian, &raw)
	if err != nil {
		return nil, xerrors.Errorf("parse raw ringbuf entry into event struct: %w", err)
	}
	return &raw, nil
}

// exeCacheSize bounds the number of processes whose executable or instance
// version is remembered.
const exeCacheSize = 16384

// converter turns raw events into esmon messages. It remembers the
// executable of every process it saw exec so that later events can name it,
// and numbers every process instance it saw forked so that a reused pid
// yields a new audit token. It is used by a single goroutine.
type converter struct {
	exes        *lru.Cache[uint32, string]
	versions    *lru.Cache[uint32, uint32]
	lastVersion uint32
	readExe     func(pid uint32) string
	now         func() time.Time
}

func newConverter() (*converter, error) {
	exes, err := lru.New[uint32, string](exeCacheSize)
	if err != nil {
		return nil, xerrors.Errorf("create executable cache: %w", err)
	}
	versions, err := lru.New[uint32, uint32](exeCacheSize)
	if err != nil {
		return nil, xerrors.Errorf("create pid version cache: %w", err)
	}
	return &converter{exes: exes, versions: versions, readExe: procExe, now: time.Now}, nil
}

// procExe reads the executable of a running process.
func procExe(pid uint32) string {
	exe, err := os.Readlink("/proc/" + strconv.FormatUint(uint64(pid), 10) + "/exe")
	if err != nil {
		return ""
	}
	return strings.TrimSuffix(exe, " (deleted)")
}

func (c *converter) executable(pid uint32) string {
	if exe, ok := c.exes.Get(pid); ok {
		return exe
	}
	exe := c.readExe(pid)
	if exe != "" {
		c.exes.Add(pid, exe)
	}
	return exe
}

// version returns the instance number of pid. Processes that were running
// before the source started have version 0.
func (c *converter) version(pid uint32) uint32 {
	v, _ := c.versions.Get(pid)
	return v
}

func (c *converter) process(raw *event, pid uint32, exe, name string) *esmon.Process {
	return &esmon.Process{
		Token: esmon.AuditToken{
			PID:        int(pid),
			EUID:       raw.UID,
			RUID:       raw.UID,
			EGID:       raw.GID,
			RGID:       raw.GID,
			PIDVersion: c.version(pid),
		},
		PPID:         int(raw.PPID),
		OriginalPPID: int(raw.PPID),
		Name:         name,
		Executable:   &esmon.File{Path: exe},
	}
}

// commName returns the name the kernel gives a process running path.
func commName(path string) string {
	name := filepath.Base(path)
	if len(name) >= COMMSIZE {
		name = name[:COMMSIZE-1]
	}
	return name
}

// convert returns the message for raw, or nil if raw has an unknown type.
func (c *converter) convert(raw *event) *esmon.Message {
	msg := &esmon.Message{
		Time:     c.now(),
		ThreadID: uint64(raw.PID),
	}

	comm := unix.ByteSliceToString(raw.Comm[:])
	switch raw.Type {
	case eventExec:
		filename := unix.ByteSliceToString(raw.Filename[:])
		// The process is reported with the image it had before the exec.
		msg.Process = c.process(raw, raw.PID, c.executable(raw.PID), comm)
		c.exes.Add(raw.PID, filename)
		msg.Event = esmon.ExecEvent{
			Target: c.process(raw, raw.PID, filename, commName(filename)),
			Args:   raw.args(),
		}
	case eventFork:
		exe := c.executable(raw.PID)
		msg.Process = c.process(raw, raw.PID, exe, comm)
		if exe != "" {
			c.exes.Add(raw.ChildPID, exe)
		}
		c.lastVersion++
		c.versions.Add(raw.ChildPID, c.lastVersion)
		child := c.process(raw, raw.ChildPID, exe, comm)
		child.PPID = int(raw.PID)
		child.OriginalPPID = int(raw.PID)
		msg.Event = esmon.ForkEvent{Child: child}
	case eventExit:
		msg.Process = c.process(raw, raw.PID, c.executable(raw.PID), comm)
		c.exes.Remove(raw.PID)
		c.versions.Remove(raw.PID)
		msg.Event = esmon.ExitEvent{Stat: raw.Code}
	case eventOpen:
		msg.Process = c.process(raw, raw.PID, c.executable(raw.PID), comm)
		msg.Event = esmon.OpenEvent{
			File:  &esmon.File{Path: unix.ByteSliceToString(raw.Filename[:])},
			FFlag: openFlags(raw.Code),
		}
	default:
		return nil
	}

	msg.Type = esmon.EventType{Kind: msg.Event.Kind(), Action: esmon.ActionNotify}
	return msg
}

// args copies only the arguments the eBPF program filled in. Reading past
// Argc could copy non-zeroed memory.
func (raw *event) args() []string {
	argc := int(raw.Argc)
	if argc > ARGLEN {
		argc = ARGLEN
	}
	args := make([]string, 0, argc)
	for i := 0; i < argc; i++ {
		args = append(args, unix.ByteSliceToString(raw.Argv[i][:]))
	}
	return args
}

// openFlagMap maps Linux open(2) flags to their fflag equivalents.
var openFlagMap = []struct {
	linux int32
	fflag int32
}{
	{unix.O_NONBLOCK, 0x00000004},
	{unix.O_APPEND, 0x00000008},
	{unix.O_NOFOLLOW, 0x00000100},
	{unix.O_CREAT, esmon.FlagOCREAT},
	{unix.O_TRUNC, esmon.FlagOTRUNC},
	{unix.O_EXCL, 0x00000800},
	{unix.O_NOCTTY, 0x00020000},
	{unix.O_DIRECTORY, 0x00100000},
	{unix.O_DSYNC, 0x00400000},
	{unix.O_CLOEXEC, 0x01000000},
}

// openFlags converts Linux open(2) flags into the fflag form used by open
// events.
func openFlags(flags int32) int32 {
	var fflag int32
	switch flags & unix.O_ACCMODE {
	case unix.O_RDONLY:
		fflag |= esmon.FlagFREAD
	case unix.O_WRONLY:
		fflag |= esmon.FlagFWRITE
	case unix.O_RDWR:
		fflag |= esmon.FlagFREAD | esmon.FlagFWRITE
	}
	for _, m := range openFlagMap {
		if flags&m.linux != 0 {
			fflag |= m.fflag
		}
	}
	return fflag
}
