package esmon

import (
	"time"

	"golang.org/x/xerrors"
)

// Message is a raw event delivered by a Source. It mirrors the platform
// message: a header describing the process that triggered the operation and
// a kind-specific payload.
type Message struct {
	Type EventType
	// Time is the wall-clock time the event was captured.
	Time time.Time
	// Deadline is the time by which an auth message must be answered before
	// the platform applies its default decision. Zero for notify messages.
	Deadline time.Time

	// Process is the process that triggered the event. It is never nil for
	// messages produced by a Source.
	Process  *Process
	ThreadID uint64

	Event Payload
}

// IsAuth reports whether the message blocks the originating operation until
// it is answered.
func (m *Message) IsAuth() bool {
	return m.Type.Action == ActionAuth
}

// AuditToken identifies a process instance.
type AuditToken struct {
	PID  int
	EUID uint32
	RUID uint32
	EGID uint32
	RGID uint32
	// PIDVersion distinguishes reuses of the same PID.
	PIDVersion uint32
}

// Process is a raw process descriptor.
type Process struct {
	Token            AuditToken
	PPID             int
	OriginalPPID     int
	GroupID          int
	SessionID        int
	CodeSigningFlags uint32
	IsPlatformBinary bool
	IsESClient       bool
	SigningID        string
	TeamID           string
	// Name is the short command name, if the platform reports one.
	Name       string
	Executable *File
	StartTime  time.Time
}

// PID is a shorthand for p.Token.PID. A nil process has PID -1.
func (p *Process) PID() int {
	if p == nil {
		return -1
	}
	return p.Token.PID
}

// ExecutablePath returns the path of the process image, or "" if unknown.
func (p *Process) ExecutablePath() string {
	if p == nil {
		return ""
	}
	return p.Executable.String()
}

// File is a file referenced by an event.
type File struct {
	Path          string
	PathTruncated bool
}

// String returns the file path, or "" for a nil file.
func (f *File) String() string {
	if f == nil {
		return ""
	}
	return f.Path
}

// StatFS is the subset of struct statfs reported for mount events.
type StatFS struct {
	MountedFrom string
	MountedOn   string
}

// AttrList is the set of attribute groups requested by get/setattrlist.
type AttrList struct {
	CommonAttr uint32
	VolAttr    uint32
	DirAttr    uint32
	FileAttr   uint32
	ForkAttr   uint32
}

// Payload is the kind-specific part of a Message.
type Payload interface {
	Kind() Kind
}

// DestinationType is the raw tag of a create/rename destination union.
type DestinationType uint8

const (
	DestinationExistingFile DestinationType = iota
	DestinationNewPath
)

// Destination is the decoded form of a create/rename destination. It is
// exactly one of ExistingFile or NewPath.
type Destination interface {
	isDestination()
}

// ExistingFile is a destination that already exists.
type ExistingFile struct {
	File *File
}

// NewPath is a destination that is about to be created.
type NewPath struct {
	Dir      *File
	Filename string
	Mode     uint32
}

func (ExistingFile) isDestination() {}
func (NewPath) isDestination()      {}

// RawDestination is the platform layout of a destination union: a tag and
// storage for both variants, only one of which is meaningful.
type RawDestination struct {
	Type         DestinationType
	ExistingFile *File
	NewPath      NewPath
}

// Resolve returns the variant selected by the tag.
func (d RawDestination) Resolve() (Destination, error) {
	switch d.Type {
	case DestinationExistingFile:
		return ExistingFile{File: d.ExistingFile}, nil
	case DestinationNewPath:
		return d.NewPath, nil
	default:
		return nil, xerrors.Errorf("unknown destination type %d", d.Type)
	}
}

type (
	AccessEvent struct {
		Target *File
		Mode   int32
	}
	ChdirEvent struct {
		Target *File
	}
	ChrootEvent struct {
		Target *File
	}
	CloneEvent struct {
		Source     *File
		TargetDir  *File
		TargetName string
	}
	CloseEvent struct {
		Target   *File
		Modified bool
	}
	CreateEvent struct {
		Destination RawDestination
	}
	DeleteExtattrEvent struct {
		Target  *File
		Extattr string
	}
	DupEvent struct {
		Target *File
	}
	ExchangeDataEvent struct {
		File1 *File
		File2 *File
	}
	ExecEvent struct {
		Target *Process
		Args   []string
	}
	ExitEvent struct {
		// Stat is the wait(2) status of the exiting process.
		Stat int32
	}
	FcntlEvent struct {
		Target *File
		Cmd    int32
	}
	FileProviderMaterializeEvent struct {
		Instigator *Process
		Source     *File
		Target     *File
	}
	FileProviderUpdateEvent struct {
		Source     *File
		TargetPath string
	}
	ForkEvent struct {
		Child *Process
	}
	FSGetPathEvent struct {
		Target *File
	}
	GetAttrListEvent struct {
		Target   *File
		AttrList AttrList
	}
	GetExtattrEvent struct {
		Target  *File
		Extattr string
	}
	GetTaskEvent struct {
		Target *Process
	}
	IOKitOpenEvent struct {
		UserClientClass string
		UserClientType  uint32
	}
	KextLoadEvent struct {
		Identifier string
	}
	KextUnloadEvent struct {
		Identifier string
	}
	LinkEvent struct {
		Source         *File
		TargetDir      *File
		TargetFilename string
	}
	ListExtattrEvent struct {
		Target *File
	}
	LookupEvent struct {
		SourceDir      *File
		RelativeTarget string
	}
	MmapEvent struct {
		Source        *File
		FilePos       uint64
		Flags         int32
		MaxProtection int32
		Protection    int32
	}
	MountEvent struct {
		StatFS StatFS
	}
	MprotectEvent struct {
		Address    uint64
		Size       uint64
		Protection int32
	}
	OpenEvent struct {
		File  *File
		FFlag int32
	}
	ProcCheckEvent struct {
		Flavor int32
		// Target may be nil when the check is not aimed at a process.
		Target *Process
		Type   int32
	}
	PtyCloseEvent struct {
		Dev int32
	}
	PtyGrantEvent struct {
		Dev int32
	}
	ReaddirEvent struct {
		Target *File
	}
	ReadlinkEvent struct {
		Source *File
	}
	RenameEvent struct {
		Source      *File
		Destination RawDestination
	}
	SetACLEvent struct {
		Target *File
	}
	SetAttrListEvent struct {
		Target   *File
		AttrList AttrList
	}
	SetExtattrEvent struct {
		Target  *File
		Extattr string
	}
	SetFlagsEvent struct {
		Target *File
		Flags  uint32
	}
	SetModeEvent struct {
		Target *File
		Mode   int32
	}
	SetOwnerEvent struct {
		Target *File
		UID    int32
		GID    int32
	}
	SetTimeEvent struct{}
	SignalEvent  struct {
		Target *Process
		Sig    int32
	}
	StatEvent struct {
		Target *File
	}
	TruncateEvent struct {
		Target *File
	}
	UIPCBindEvent struct {
		Dir      *File
		Filename string
		Mode     uint32
	}
	UIPCConnectEvent struct {
		File     *File
		Domain   int32
		Type     int32
		Protocol int32
	}
	UnlinkEvent struct {
		Target *File
	}
	UnmountEvent struct {
		StatFS StatFS
	}
	UtimesEvent struct {
		Target *File
		Mtime  time.Time
		Atime  time.Time
	}
	WriteEvent struct {
		Target *File
	}
)

func (AccessEvent) Kind() Kind                  { return KindAccess }
func (ChdirEvent) Kind() Kind                   { return KindChdir }
func (ChrootEvent) Kind() Kind                  { return KindChroot }
func (CloneEvent) Kind() Kind                   { return KindClone }
func (CloseEvent) Kind() Kind                   { return KindClose }
func (CreateEvent) Kind() Kind                  { return KindCreate }
func (DeleteExtattrEvent) Kind() Kind           { return KindDeleteExtattr }
func (DupEvent) Kind() Kind                     { return KindDup }
func (ExchangeDataEvent) Kind() Kind            { return KindExchangeData }
func (ExecEvent) Kind() Kind                    { return KindExec }
func (ExitEvent) Kind() Kind                    { return KindExit }
func (FcntlEvent) Kind() Kind                   { return KindFcntl }
func (FileProviderMaterializeEvent) Kind() Kind { return KindFileProviderMaterialize }
func (FileProviderUpdateEvent) Kind() Kind      { return KindFileProviderUpdate }
func (ForkEvent) Kind() Kind                    { return KindFork }
func (FSGetPathEvent) Kind() Kind               { return KindFSGetPath }
func (GetAttrListEvent) Kind() Kind             { return KindGetAttrList }
func (GetExtattrEvent) Kind() Kind              { return KindGetExtattr }
func (GetTaskEvent) Kind() Kind                 { return KindGetTask }
func (IOKitOpenEvent) Kind() Kind               { return KindIOKitOpen }
func (KextLoadEvent) Kind() Kind                { return KindKextLoad }
func (KextUnloadEvent) Kind() Kind              { return KindKextUnload }
func (LinkEvent) Kind() Kind                    { return KindLink }
func (ListExtattrEvent) Kind() Kind             { return KindListExtattr }
func (LookupEvent) Kind() Kind                  { return KindLookup }
func (MmapEvent) Kind() Kind                    { return KindMmap }
func (MountEvent) Kind() Kind                   { return KindMount }
func (MprotectEvent) Kind() Kind                { return KindMprotect }
func (OpenEvent) Kind() Kind                    { return KindOpen }
func (ProcCheckEvent) Kind() Kind               { return KindProcCheck }
func (PtyCloseEvent) Kind() Kind                { return KindPtyClose }
func (PtyGrantEvent) Kind() Kind                { return KindPtyGrant }
func (ReaddirEvent) Kind() Kind                 { return KindReaddir }
func (ReadlinkEvent) Kind() Kind                { return KindReadlink }
func (RenameEvent) Kind() Kind                  { return KindRename }
func (SetACLEvent) Kind() Kind                  { return KindSetACL }
func (SetAttrListEvent) Kind() Kind             { return KindSetAttrList }
func (SetExtattrEvent) Kind() Kind              { return KindSetExtattr }
func (SetFlagsEvent) Kind() Kind                { return KindSetFlags }
func (SetModeEvent) Kind() Kind                 { return KindSetMode }
func (SetOwnerEvent) Kind() Kind                { return KindSetOwner }
func (SetTimeEvent) Kind() Kind                 { return KindSetTime }
func (SignalEvent) Kind() Kind                  { return KindSignal }
func (StatEvent) Kind() Kind                    { return KindStat }
func (TruncateEvent) Kind() Kind                { return KindTruncate }
func (UIPCBindEvent) Kind() Kind                { return KindUIPCBind }
func (UIPCConnectEvent) Kind() Kind             { return KindUIPCConnect }
func (UnlinkEvent) Kind() Kind                  { return KindUnlink }
func (UnmountEvent) Kind() Kind                 { return KindUnmount }
func (UtimesEvent) Kind() Kind                  { return KindUtimes }
func (WriteEvent) Kind() Kind                   { return KindWrite }
