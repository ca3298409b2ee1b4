package esmon

import (
	"context"
	"os"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/xerrors"

	"cdr.dev/slog"
)

// DefaultDenyList contains system daemons that generate a large volume of
// uninteresting events.
var DefaultDenyList = []string{
	"/Applications/Xcode.app/Contents/Developer/usr/bin/lldb",
	"/System/Library/Frameworks/CoreServices.framework/Versions/A/Frameworks/Metadata.framework/Versions/A/Support/mdbulkimport",
	"/System/Library/Frameworks/CoreServices.framework/Versions/A/Frameworks/Metadata.framework/Versions/A/Support/mds",
	"/usr/sbin/bluetoothd",
	"/usr/libexec/airportd",
	"/usr/libexec/lsd",
}

// mutedCacheSize bounds the number of process instances remembered as
// already muted.
const mutedCacheSize = 4096

// SuppressReason says why a message was suppressed.
type SuppressReason int

const (
	NotSuppressed SuppressReason = iota
	SuppressSelf
	SuppressDenyList
)

func (r SuppressReason) String() string {
	switch r {
	case NotSuppressed:
		return "none"
	case SuppressSelf:
		return "self"
	case SuppressDenyList:
		return "deny-list"
	default:
		return "unknown"
	}
}

// Suppressor drops events from the monitoring process itself and from
// executables on a deny-list. The deny-list can be replaced at any time.
type Suppressor struct {
	log     slog.Logger
	selfPID int

	denyList atomic.Pointer[map[string]struct{}]
	muted    *lru.Cache[AuditToken, struct{}]
}

// NewSuppressor creates a Suppressor for the current process and the given
// deny-list.
func NewSuppressor(log slog.Logger, denyList []string) (*Suppressor, error) {
	return newSuppressor(log, os.Getpid(), denyList)
}

func newSuppressor(log slog.Logger, selfPID int, denyList []string) (*Suppressor, error) {
	muted, err := lru.New[AuditToken, struct{}](mutedCacheSize)
	if err != nil {
		return nil, xerrors.Errorf("create muted process cache: %w", err)
	}

	s := &Suppressor{
		log:     log,
		selfPID: selfPID,
		muted:   muted,
	}
	s.SetDenyList(denyList)
	return s, nil
}

// SetDenyList replaces the deny-list.
func (s *Suppressor) SetDenyList(paths []string) {
	m := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		if p != "" {
			m[p] = struct{}{}
		}
	}
	s.denyList.Store(&m)
}

// DenyListLen returns the number of entries on the current deny-list.
func (s *Suppressor) DenyListLen() int {
	return len(*s.denyList.Load())
}

// Check reports whether msg must be dropped without being decoded.
func (s *Suppressor) Check(msg *Message) SuppressReason {
	if msg.Process.PID() == s.selfPID {
		return SuppressSelf
	}
	if _, ok := (*s.denyList.Load())[msg.Process.ExecutablePath()]; ok {
		return SuppressDenyList
	}
	return NotSuppressed
}

// Mute instructs src to stop delivering events for the process that sent
// msg. Each process instance is muted at most once while it is remembered.
func (s *Suppressor) Mute(ctx context.Context, src Source, msg *Message, reason SuppressReason) error {
	if msg.Process == nil {
		return nil
	}
	token := msg.Process.Token
	if ok, _ := s.muted.ContainsOrAdd(token, struct{}{}); ok {
		return nil
	}

	err := src.MuteProcess(token)
	if err != nil {
		s.muted.Remove(token)
		return xerrors.Errorf("mute pid %d: %w", token.PID, err)
	}
	s.log.Debug(ctx, "muted process",
		slog.F("pid", token.PID),
		slog.F("executable", msg.Process.ExecutablePath()),
		slog.F("reason", reason.String()),
	)
	return nil
}
