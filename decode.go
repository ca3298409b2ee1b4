package esmon

import (
	"path"
	"strconv"
	"strings"

	"golang.org/x/xerrors"
)

// decodeFunc fills in the kind-specific fields of a Record.
type decodeFunc func(r *Record, p Payload) error

// decodeAs adapts a decoder for one concrete payload type. A payload of any
// other type is rejected.
func decodeAs[T Payload](fn func(r *Record, ev T) error) decodeFunc {
	return func(r *Record, p Payload) error {
		ev, ok := p.(T)
		if !ok {
			return xerrors.Errorf("%w: got %T", errPayloadKind, p)
		}
		return fn(r, ev)
	}
}

// decoders is the dispatch table. Adding a kind means adding a constant, a
// payload type and one entry here.
var decoders = map[Kind]decodeFunc{
	KindAccess:                  decodeAs(decodeAccess),
	KindChdir:                   decodeAs(decodeChdir),
	KindChroot:                  decodeAs(decodeChroot),
	KindClone:                   decodeAs(decodeClone),
	KindClose:                   decodeAs(decodeClose),
	KindCreate:                  decodeAs(decodeCreate),
	KindDeleteExtattr:           decodeAs(decodeDeleteExtattr),
	KindDup:                     decodeAs(decodeDup),
	KindExchangeData:            decodeAs(decodeExchangeData),
	KindExec:                    decodeAs(decodeExec),
	KindExit:                    decodeAs(decodeExit),
	KindFcntl:                   decodeAs(decodeFcntl),
	KindFileProviderMaterialize: decodeAs(decodeFileProviderMaterialize),
	KindFileProviderUpdate:      decodeAs(decodeFileProviderUpdate),
	KindFork:                    decodeAs(decodeFork),
	KindFSGetPath:               decodeAs(decodeFSGetPath),
	KindGetAttrList:             decodeAs(decodeGetAttrList),
	KindGetExtattr:              decodeAs(decodeGetExtattr),
	KindGetTask:                 decodeAs(decodeGetTask),
	KindIOKitOpen:               decodeAs(decodeIOKitOpen),
	KindKextLoad:                decodeAs(decodeKextLoad),
	KindKextUnload:              decodeAs(decodeKextUnload),
	KindLink:                    decodeAs(decodeLink),
	KindListExtattr:             decodeAs(decodeListExtattr),
	KindLookup:                  decodeAs(decodeLookup),
	KindMmap:                    decodeAs(decodeMmap),
	KindMount:                   decodeAs(decodeMount),
	KindMprotect:                decodeAs(decodeMprotect),
	KindOpen:                    decodeAs(decodeOpen),
	KindProcCheck:               decodeAs(decodeProcCheck),
	KindPtyClose:                decodeAs(decodePtyClose),
	KindPtyGrant:                decodeAs(decodePtyGrant),
	KindReaddir:                 decodeAs(decodeReaddir),
	KindReadlink:                decodeAs(decodeReadlink),
	KindRename:                  decodeAs(decodeRename),
	KindSetACL:                  decodeAs(decodeSetACL),
	KindSetAttrList:             decodeAs(decodeSetAttrList),
	KindSetExtattr:              decodeAs(decodeSetExtattr),
	KindSetFlags:                decodeAs(decodeSetFlags),
	KindSetMode:                 decodeAs(decodeSetMode),
	KindSetOwner:                decodeAs(decodeSetOwner),
	KindSetTime:                 decodeAs(decodeSetTime),
	KindSignal:                  decodeAs(decodeSignal),
	KindStat:                    decodeAs(decodeStat),
	KindTruncate:                decodeAs(decodeTruncate),
	KindUIPCBind:                decodeAs(decodeUIPCBind),
	KindUIPCConnect:             decodeAs(decodeUIPCConnect),
	KindUnlink:                  decodeAs(decodeUnlink),
	KindUnmount:                 decodeAs(decodeUnmount),
	KindUtimes:                  decodeAs(decodeUtimes),
	KindWrite:                   decodeAs(decodeWrite),
}

// Decode converts a raw message into a new Record. Messages of an unknown
// kind, messages whose payload does not match their kind and malformed
// payloads all fail with a *DecodeError.
func Decode(msg *Message) (*Record, error) {
	kind := msg.Type.Kind
	decode, ok := decoders[kind]
	if !ok {
		return nil, &DecodeError{Kind: kind, Err: errUnknownKind}
	}

	r := &Record{
		Kind:                 kind,
		TimestampSeconds:     msg.Time.Unix(),
		TimestampNanoseconds: int64(msg.Time.Nanosecond()),
		IsAuth:               msg.IsAuth(),
		Process:              processInfo(msg.Process, msg.ThreadID),
		Parameters:           NewParams(),
	}
	err := decode(r, msg.Event)
	if err != nil {
		return nil, &DecodeError{Kind: kind, Err: err}
	}
	return r, nil
}

// setTarget stores a single target file under "target" and makes it the
// subject of the record.
func setTarget(r *Record, f *File) {
	r.Parameters.setFile("target", f)
	r.SubjectPath = f.String()
}

func decodeAccess(r *Record, ev AccessEvent) error {
	setTarget(r, ev.Target)
	r.Parameters.setInt("mode", int64(ev.Mode))
	r.Parameters.Set("mode_desc", decodeBitmaskOr(AccessModes, uint64(uint32(ev.Mode)), "F_OK"))
	return nil
}

func decodeChdir(r *Record, ev ChdirEvent) error {
	setTarget(r, ev.Target)
	return nil
}

func decodeChroot(r *Record, ev ChrootEvent) error {
	setTarget(r, ev.Target)
	return nil
}

func decodeClone(r *Record, ev CloneEvent) error {
	r.Parameters.setFile("source", ev.Source)
	r.Parameters.setFile("target_dir", ev.TargetDir)
	r.Parameters.Set("target_name", ev.TargetName)
	r.SubjectPath = ev.TargetName
	return nil
}

func decodeClose(r *Record, ev CloseEvent) error {
	setTarget(r, ev.Target)
	r.Parameters.setBool("modified", ev.Modified)
	return nil
}

func decodeCreate(r *Record, ev CreateEvent) error {
	dest, err := ev.Destination.Resolve()
	if err != nil {
		return err
	}

	switch d := dest.(type) {
	case ExistingFile:
		// creat(2) is open(2) with O_CREAT|O_TRUNC|O_WRONLY.
		return decodeOpenFile(r, d.File, FlagOCREAT|FlagFWRITE|FlagOTRUNC)
	case NewPath:
		r.Parameters.setFile("target_dir", d.Dir)
		r.Parameters.Set("target_name", d.Filename)
		r.Parameters.setUint("mode", uint64(d.Mode))
		r.SubjectPath = d.Filename
		return nil
	default:
		return xerrors.Errorf("unhandled destination %T", dest)
	}
}

func decodeDeleteExtattr(r *Record, ev DeleteExtattrEvent) error {
	setTarget(r, ev.Target)
	r.Parameters.Set("extattr", ev.Extattr)
	return nil
}

func decodeDup(r *Record, ev DupEvent) error {
	setTarget(r, ev.Target)
	return nil
}

func decodeExchangeData(r *Record, ev ExchangeDataEvent) error {
	r.Parameters.setFile("file1", ev.File1)
	r.Parameters.setFile("file2", ev.File2)
	r.SubjectPath = ev.File2.String()
	return nil
}

func decodeExec(r *Record, ev ExecEvent) error {
	addProcess(r.Parameters, "target_", ev.Target)
	r.Parameters.Set("target_args", quoteArgs(ev.Args))
	r.Args = append([]string(nil), ev.Args...)
	r.SubjectPath = ev.Target.ExecutablePath()
	return nil
}

// quoteArgs renders args as one string where every argument is double
// quoted, e.g. `"ls" "-l" "a \"b\""`. Stored event logs depend on this
// layout; Record.Args carries the vector for other renderings.
func quoteArgs(args []string) string {
	var sb strings.Builder
	for i, arg := range args {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteByte('"')
		sb.WriteString(argEscaper.Replace(arg))
		sb.WriteByte('"')
	}
	return sb.String()
}

// argEscaper escapes the characters that keep their meaning inside double
// quotes.
var argEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, `$`, `\$`, "`", "\\`")

func decodeExit(r *Record, ev ExitEvent) error {
	r.Parameters.setInt("stat", int64(ev.Stat))
	desc, err := describeExitStatus(ev.Stat)
	if err != nil {
		return err
	}
	r.Parameters.Set("stat_desc", desc)
	return nil
}

// describeExitStatus interprets a wait(2) status the way the W* macros do.
func describeExitStatus(stat int32) (string, error) {
	const (
		sigMask  = 0o177
		coreFlag = 0o200
		stopped  = 0o177
	)
	status := uint32(stat)
	switch low := status & sigMask; {
	case low == 0:
		return "normal exit with code " + strconv.Itoa(int((status>>8)&0xff)), nil
	case low != stopped:
		desc := "killed by signal " + strconv.Itoa(int(low))
		if status&coreFlag != 0 {
			desc += " (coredump created)"
		}
		return desc, nil
	default:
		return "", xerrors.Errorf("%w: %d", errInvalidStatus, stat)
	}
}

func decodeFcntl(r *Record, ev FcntlEvent) error {
	setTarget(r, ev.Target)
	r.Parameters.setInt("cmd", int64(ev.Cmd))
	r.Parameters.Set("cmd_desc", DecodeEnum(FcntlCommands, int64(ev.Cmd)))
	return nil
}

func decodeFileProviderMaterialize(r *Record, ev FileProviderMaterializeEvent) error {
	addProcess(r.Parameters, "instigator_", ev.Instigator)
	r.Parameters.setFile("source", ev.Source)
	r.Parameters.setFile("target", ev.Target)
	r.SubjectPath = ev.Target.String()
	return nil
}

func decodeFileProviderUpdate(r *Record, ev FileProviderUpdateEvent) error {
	r.Parameters.setFile("source", ev.Source)
	r.Parameters.Set("target_path", ev.TargetPath)
	r.SubjectPath = ev.TargetPath
	return nil
}

func decodeFork(r *Record, ev ForkEvent) error {
	addProcess(r.Parameters, "child_", ev.Child)
	return nil
}

func decodeFSGetPath(r *Record, ev FSGetPathEvent) error {
	setTarget(r, ev.Target)
	return nil
}

func decodeGetAttrList(r *Record, ev GetAttrListEvent) error {
	setTarget(r, ev.Target)
	addAttrList(r.Parameters, ev.AttrList)
	return nil
}

// addAttrList writes one decoded entry per non-empty attribute group.
func addAttrList(params *Params, al AttrList) {
	groups := []struct {
		key   string
		table FlagTable
		value uint32
	}{
		{"commonattr", AttrCommon, al.CommonAttr},
		{"volattr", AttrVolume, al.VolAttr},
		{"dirattr", AttrDir, al.DirAttr},
		{"fileattr", AttrFile, al.FileAttr},
		{"forkattr", AttrFork, al.ForkAttr},
	}
	for _, g := range groups {
		if g.value != 0 {
			params.Set(g.key, DecodeBitmask(g.table, uint64(g.value)))
		}
	}
}

func decodeGetExtattr(r *Record, ev GetExtattrEvent) error {
	setTarget(r, ev.Target)
	r.Parameters.Set("extattr", ev.Extattr)
	return nil
}

func decodeGetTask(r *Record, ev GetTaskEvent) error {
	addProcess(r.Parameters, "target_", ev.Target)
	r.SubjectPath = ev.Target.ExecutablePath()
	return nil
}

func decodeIOKitOpen(r *Record, ev IOKitOpenEvent) error {
	r.Parameters.Set("user_client_class", ev.UserClientClass)
	r.Parameters.setUint("user_client_type", uint64(ev.UserClientType))
	r.SubjectPath = ev.UserClientClass
	return nil
}

func decodeKextLoad(r *Record, ev KextLoadEvent) error {
	r.Parameters.Set("identifier", ev.Identifier)
	r.SubjectPath = ev.Identifier
	return nil
}

func decodeKextUnload(r *Record, ev KextUnloadEvent) error {
	r.Parameters.Set("identifier", ev.Identifier)
	r.SubjectPath = ev.Identifier
	return nil
}

func decodeLink(r *Record, ev LinkEvent) error {
	r.Parameters.setFile("source", ev.Source)
	r.Parameters.setFile("target_dir", ev.TargetDir)
	r.Parameters.Set("target_filename", ev.TargetFilename)
	r.SubjectPath = joinPath(ev.TargetDir, ev.TargetFilename)
	return nil
}

// joinPath joins a directory and a file name, tolerating an unknown
// directory.
func joinPath(dir *File, name string) string {
	if dir.String() == "" {
		return name
	}
	return path.Join(dir.String(), name)
}

func decodeListExtattr(r *Record, ev ListExtattrEvent) error {
	setTarget(r, ev.Target)
	return nil
}

func decodeLookup(r *Record, ev LookupEvent) error {
	r.Parameters.setFile("source_dir", ev.SourceDir)
	r.Parameters.Set("relative_target", ev.RelativeTarget)
	return nil
}

func decodeMmap(r *Record, ev MmapEvent) error {
	r.Parameters.setFile("source", ev.Source)
	r.Parameters.setUint("file_pos", ev.FilePos)
	r.Parameters.Set("flags", DecodeBitmask(MmapFlags, uint64(uint32(ev.Flags))))
	r.Parameters.Set("max_protection", decodeBitmaskOr(MmapProtections, uint64(uint32(ev.MaxProtection)), "PROT_NONE"))
	r.Parameters.Set("protection", decodeBitmaskOr(MmapProtections, uint64(uint32(ev.Protection)), "PROT_NONE"))
	r.SubjectPath = ev.Source.String()
	return nil
}

func decodeMount(r *Record, ev MountEvent) error {
	addStatFS(r, ev.StatFS)
	return nil
}

func addStatFS(r *Record, fs StatFS) {
	r.Parameters.Set("f_mntfromname", fs.MountedFrom)
	r.Parameters.Set("f_mntonname", fs.MountedOn)
	r.SubjectPath = fs.MountedOn
}

func decodeMprotect(r *Record, ev MprotectEvent) error {
	r.Parameters.setUint("address", ev.Address)
	r.Parameters.setUint("size", ev.Size)
	r.Parameters.Set("protection", decodeBitmaskOr(MmapProtections, uint64(uint32(ev.Protection)), "PROT_NONE"))
	return nil
}

func decodeOpen(r *Record, ev OpenEvent) error {
	return decodeOpenFile(r, ev.File, ev.FFlag)
}

func decodeOpenFile(r *Record, f *File, fflag int32) error {
	r.Parameters.setFile("filename", f)
	r.Parameters.Set("fflag", DecodeBitmask(OpenFlags, uint64(uint32(fflag))))
	r.SubjectPath = f.String()
	return nil
}

func decodeProcCheck(r *Record, ev ProcCheckEvent) error {
	r.Parameters.setInt("flavor", int64(ev.Flavor))
	if ev.Target != nil {
		addProcess(r.Parameters, "target_", ev.Target)
	}
	r.Parameters.Set("type", DecodeEnum(ProcCheckTypes, int64(ev.Type)))
	return nil
}

func decodePtyClose(r *Record, ev PtyCloseEvent) error {
	r.Parameters.setInt("dev", int64(ev.Dev))
	return nil
}

func decodePtyGrant(r *Record, ev PtyGrantEvent) error {
	r.Parameters.setInt("dev", int64(ev.Dev))
	return nil
}

func decodeReaddir(r *Record, ev ReaddirEvent) error {
	setTarget(r, ev.Target)
	return nil
}

func decodeReadlink(r *Record, ev ReadlinkEvent) error {
	r.Parameters.setFile("source", ev.Source)
	r.SubjectPath = ev.Source.String()
	return nil
}

func decodeRename(r *Record, ev RenameEvent) error {
	dest, err := ev.Destination.Resolve()
	if err != nil {
		return err
	}

	r.Parameters.setFile("source", ev.Source)
	switch d := dest.(type) {
	case ExistingFile:
		r.Parameters.setFile("existing_file", d.File)
		r.SubjectPath = d.File.String()
		return nil
	case NewPath:
		r.Parameters.setFile("dir", d.Dir)
		r.Parameters.Set("filename", d.Filename)
		r.SubjectPath = d.Filename
		return nil
	default:
		return xerrors.Errorf("unhandled destination %T", dest)
	}
}

func decodeSetACL(r *Record, ev SetACLEvent) error {
	setTarget(r, ev.Target)
	return nil
}

func decodeSetAttrList(r *Record, ev SetAttrListEvent) error {
	setTarget(r, ev.Target)
	addAttrList(r.Parameters, ev.AttrList)
	return nil
}

func decodeSetExtattr(r *Record, ev SetExtattrEvent) error {
	setTarget(r, ev.Target)
	r.Parameters.Set("extattr", ev.Extattr)
	return nil
}

func decodeSetFlags(r *Record, ev SetFlagsEvent) error {
	setTarget(r, ev.Target)
	r.Parameters.setUint("flags", uint64(ev.Flags))
	return nil
}

func decodeSetMode(r *Record, ev SetModeEvent) error {
	setTarget(r, ev.Target)
	r.Parameters.setInt("mode", int64(ev.Mode))
	return nil
}

func decodeSetOwner(r *Record, ev SetOwnerEvent) error {
	setTarget(r, ev.Target)
	r.Parameters.setInt("uid", int64(ev.UID))
	r.Parameters.setInt("gid", int64(ev.GID))
	return nil
}

func decodeSetTime(_ *Record, _ SetTimeEvent) error {
	return nil
}

func decodeSignal(r *Record, ev SignalEvent) error {
	addProcess(r.Parameters, "target_", ev.Target)
	r.Parameters.setInt("sig", int64(ev.Sig))
	return nil
}

func decodeStat(r *Record, ev StatEvent) error {
	setTarget(r, ev.Target)
	return nil
}

func decodeTruncate(r *Record, ev TruncateEvent) error {
	setTarget(r, ev.Target)
	return nil
}

func decodeUIPCBind(r *Record, ev UIPCBindEvent) error {
	r.Parameters.setFile("dir", ev.Dir)
	r.Parameters.Set("filename", ev.Filename)
	r.Parameters.setUint("mode", uint64(ev.Mode))
	r.SubjectPath = joinPath(ev.Dir, ev.Filename)
	return nil
}

func decodeUIPCConnect(r *Record, ev UIPCConnectEvent) error {
	r.Parameters.setFile("file", ev.File)
	r.Parameters.setInt("domain", int64(ev.Domain))
	r.Parameters.setInt("type", int64(ev.Type))
	r.Parameters.setInt("protocol", int64(ev.Protocol))
	r.SubjectPath = ev.File.String()
	return nil
}

func decodeUnlink(r *Record, ev UnlinkEvent) error {
	setTarget(r, ev.Target)
	return nil
}

func decodeUnmount(r *Record, ev UnmountEvent) error {
	addStatFS(r, ev.StatFS)
	return nil
}

func decodeUtimes(r *Record, ev UtimesEvent) error {
	setTarget(r, ev.Target)
	r.Parameters.setTime("mtime", ev.Mtime)
	r.Parameters.setTime("atime", ev.Atime)
	return nil
}

func decodeWrite(r *Record, ev WriteEvent) error {
	setTarget(r, ev.Target)
	return nil
}
