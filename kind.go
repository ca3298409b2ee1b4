package esmon

import (
	"sort"

	"golang.org/x/xerrors"
)

// Kind is the name of an event kind, e.g. "open" or "exec". The same kind can
// be delivered in notify form or, for kinds that support it, in auth form.
type Kind string

// All supported event kinds.
const (
	KindAccess                  Kind = "access"
	KindChdir                   Kind = "chdir"
	KindChroot                  Kind = "chroot"
	KindClone                   Kind = "clone"
	KindClose                   Kind = "close"
	KindCreate                  Kind = "create"
	KindDeleteExtattr           Kind = "deleteextattr"
	KindDup                     Kind = "dup"
	KindExchangeData            Kind = "exchangedata"
	KindExec                    Kind = "exec"
	KindExit                    Kind = "exit"
	KindFcntl                   Kind = "fcntl"
	KindFileProviderMaterialize Kind = "file_provider_materialize"
	KindFileProviderUpdate      Kind = "file_provider_update"
	KindFork                    Kind = "fork"
	KindFSGetPath               Kind = "fsgetpath"
	KindGetAttrList             Kind = "getattrlist"
	KindGetExtattr              Kind = "getextattr"
	KindGetTask                 Kind = "get_task"
	KindIOKitOpen               Kind = "iokit_open"
	KindKextLoad                Kind = "kextload"
	KindKextUnload              Kind = "kextunload"
	KindLink                    Kind = "link"
	KindListExtattr             Kind = "listextattr"
	KindLookup                  Kind = "lookup"
	KindMmap                    Kind = "mmap"
	KindMount                   Kind = "mount"
	KindMprotect                Kind = "mprotect"
	KindOpen                    Kind = "open"
	KindProcCheck               Kind = "proc_check"
	KindPtyClose                Kind = "pty_close"
	KindPtyGrant                Kind = "pty_grant"
	KindReaddir                 Kind = "readdir"
	KindReadlink                Kind = "readlink"
	KindRename                  Kind = "rename"
	KindSetACL                  Kind = "setacl"
	KindSetAttrList             Kind = "setattrlist"
	KindSetExtattr              Kind = "setextattr"
	KindSetFlags                Kind = "setflags"
	KindSetMode                 Kind = "setmode"
	KindSetOwner                Kind = "setowner"
	KindSetTime                 Kind = "settime"
	KindSignal                  Kind = "signal"
	KindStat                    Kind = "stat"
	KindTruncate                Kind = "truncate"
	KindUIPCBind                Kind = "uipc_bind"
	KindUIPCConnect             Kind = "uipc_connect"
	KindUnlink                  Kind = "unlink"
	KindUnmount                 Kind = "unmount"
	KindUtimes                  Kind = "utimes"
	KindWrite                   Kind = "write"
)

// notifyOnly lists the kinds that are never delivered in auth form.
var notifyOnly = map[Kind]struct{}{
	KindAccess:     {},
	KindClose:      {},
	KindDup:        {},
	KindExit:       {},
	KindFork:       {},
	KindKextUnload: {},
	KindLookup:     {},
	KindPtyClose:   {},
	KindPtyGrant:   {},
	KindStat:       {},
	KindUnmount:    {},
	KindWrite:      {},
}

// Kinds returns every supported kind in lexical order.
func Kinds() []Kind {
	kinds := make([]Kind, 0, len(decoders))
	for k := range decoders {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Supported reports whether k has a decoder.
func (k Kind) Supported() bool {
	_, ok := decoders[k]
	return ok
}

// HasAuth reports whether k can be delivered in auth form.
func (k Kind) HasAuth() bool {
	if !k.Supported() {
		return false
	}
	_, ok := notifyOnly[k]
	return !ok
}

// Action distinguishes informational deliveries from deliveries that block
// the originating kernel operation until they are answered.
type Action uint8

const (
	ActionNotify Action = iota
	ActionAuth
)

func (a Action) String() string {
	switch a {
	case ActionNotify:
		return "notify"
	case ActionAuth:
		return "auth"
	default:
		return "unknown"
	}
}

// EventType is a subscribable (kind, action) pair.
type EventType struct {
	Kind   Kind
	Action Action
}

// EventTypeFor returns the event type for the given kind and action, failing
// if the kind is unknown or has no auth form.
func EventTypeFor(kind Kind, action Action) (EventType, error) {
	if !kind.Supported() {
		return EventType{}, xerrors.Errorf("unknown event kind %q", kind)
	}
	if action == ActionAuth && !kind.HasAuth() {
		return EventType{}, xerrors.Errorf("event kind %q has no auth form", kind)
	}
	return EventType{Kind: kind, Action: action}, nil
}

// NotifyTypes returns the notify form of every supported kind.
func NotifyTypes() []EventType {
	kinds := Kinds()
	types := make([]EventType, 0, len(kinds))
	for _, k := range kinds {
		types = append(types, EventType{Kind: k, Action: ActionNotify})
	}
	return types
}

// AuthTypes returns the auth form of every kind that has one.
func AuthTypes() []EventType {
	var types []EventType
	for _, k := range Kinds() {
		if k.HasAuth() {
			types = append(types, EventType{Kind: k, Action: ActionAuth})
		}
	}
	return types
}

func (t EventType) String() string {
	if t.Action == ActionAuth {
		return "+" + string(t.Kind)
	}
	return string(t.Kind)
}
