package esmon_test

import (
	"testing"
	"time"

	"github.com/kballard/go-shellquote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"

	"github.com/coder/esmon"
	"github.com/coder/esmon/esmontest"
)

func TestDecodeOpen(t *testing.T) {
	t.Parallel()

	proc := esmontest.Process(321, "/usr/bin/touch")
	proc.CodeSigningFlags = 0x1
	msg := esmontest.Auth(proc, esmon.OpenEvent{
		File:  &esmon.File{Path: "/tmp/x"},
		FFlag: esmon.FlagFREAD | esmon.FlagOCREAT,
	})
	msg.Time = time.Unix(1700000123, 456)
	msg.ThreadID = 99

	r, err := esmon.Decode(msg)
	require.NoError(t, err)
	require.Equal(t, esmon.KindOpen, r.Kind)
	require.True(t, r.IsAuth)
	require.EqualValues(t, 1700000123, r.TimestampSeconds)
	require.EqualValues(t, 456, r.TimestampNanoseconds)
	require.Equal(t, "/tmp/x", r.SubjectPath)
	require.Equal(t, "/tmp/x", r.Parameters.Value("filename"))
	require.Equal(t, "FREAD|O_CREAT (513)", r.Parameters.Value("fflag"))
	require.Equal(t, []string{"filename", "fflag"}, r.Parameters.Keys())

	require.Equal(t, 321, r.Process.PID)
	require.Equal(t, "/usr/bin/touch", r.Process.Executable)
	require.EqualValues(t, 99, r.Process.ThreadID)
	require.Contains(t, r.Process.CodeSigningDesc, "(1)")
}

func TestDecodeUnknownKind(t *testing.T) {
	t.Parallel()

	msg := esmontest.Notify(esmontest.Process(1, "/sbin/launchd"), esmon.SetTimeEvent{})
	msg.Type.Kind = "teleport"

	_, err := esmon.Decode(msg)
	require.Error(t, err)
	var decErr *esmon.DecodeError
	require.True(t, xerrors.As(err, &decErr))
	require.Equal(t, esmon.Kind("teleport"), decErr.Kind)
	require.True(t, esmon.IsFatal(err))
}

func TestDecodePayloadMismatch(t *testing.T) {
	t.Parallel()

	msg := esmontest.Notify(esmontest.Process(1, "/sbin/launchd"), esmon.SetTimeEvent{})
	msg.Type.Kind = esmon.KindOpen

	_, err := esmon.Decode(msg)
	var decErr *esmon.DecodeError
	require.True(t, xerrors.As(err, &decErr))
	require.Equal(t, esmon.KindOpen, decErr.Kind)
}

func TestDecodeDestination(t *testing.T) {
	t.Parallel()

	proc := esmontest.Process(10, "/bin/mv")

	t.Run("CreateNewPath", func(t *testing.T) {
		t.Parallel()
		r, err := esmon.Decode(esmontest.Notify(proc, esmon.CreateEvent{
			Destination: esmon.RawDestination{
				Type:    esmon.DestinationNewPath,
				NewPath: esmon.NewPath{Dir: &esmon.File{Path: "/tmp"}, Filename: "new.txt", Mode: 0o644},
			},
		}))
		require.NoError(t, err)
		require.Equal(t, esmon.KindCreate, r.Kind)
		require.Equal(t, "/tmp", r.Parameters.Value("target_dir"))
		require.Equal(t, "new.txt", r.Parameters.Value("target_name"))
		require.Equal(t, "420", r.Parameters.Value("mode"))
		require.Equal(t, "new.txt", r.SubjectPath)
	})

	t.Run("CreateExistingFile", func(t *testing.T) {
		t.Parallel()
		r, err := esmon.Decode(esmontest.Notify(proc, esmon.CreateEvent{
			Destination: esmon.RawDestination{
				Type:         esmon.DestinationExistingFile,
				ExistingFile: &esmon.File{Path: "/tmp/old.txt"},
			},
		}))
		require.NoError(t, err)
		require.Equal(t, esmon.KindCreate, r.Kind)
		require.Equal(t, "/tmp/old.txt", r.Parameters.Value("filename"))
		require.Equal(t, "FWRITE|O_CREAT|O_TRUNC (1538)", r.Parameters.Value("fflag"))
		require.Equal(t, "/tmp/old.txt", r.SubjectPath)
	})

	t.Run("RenameNewPath", func(t *testing.T) {
		t.Parallel()
		r, err := esmon.Decode(esmontest.Notify(proc, esmon.RenameEvent{
			Source: &esmon.File{Path: "/tmp/a"},
			Destination: esmon.RawDestination{
				Type:    esmon.DestinationNewPath,
				NewPath: esmon.NewPath{Dir: &esmon.File{Path: "/tmp"}, Filename: "b"},
			},
		}))
		require.NoError(t, err)
		require.Equal(t, "/tmp/a", r.Parameters.Value("source"))
		require.Equal(t, "/tmp", r.Parameters.Value("dir"))
		require.Equal(t, "b", r.Parameters.Value("filename"))
		require.Equal(t, "b", r.SubjectPath)
	})

	t.Run("RenameExistingFile", func(t *testing.T) {
		t.Parallel()
		r, err := esmon.Decode(esmontest.Notify(proc, esmon.RenameEvent{
			Source: &esmon.File{Path: "/tmp/a"},
			Destination: esmon.RawDestination{
				Type:         esmon.DestinationExistingFile,
				ExistingFile: &esmon.File{Path: "/tmp/b"},
			},
		}))
		require.NoError(t, err)
		require.Equal(t, "/tmp/b", r.Parameters.Value("existing_file"))
		require.Equal(t, "/tmp/b", r.SubjectPath)
	})

	for _, ev := range []esmon.Payload{
		esmon.CreateEvent{Destination: esmon.RawDestination{Type: 7}},
		esmon.RenameEvent{Destination: esmon.RawDestination{Type: 2}},
	} {
		ev := ev
		t.Run("InvalidTag/"+string(ev.Kind()), func(t *testing.T) {
			t.Parallel()
			_, err := esmon.Decode(esmontest.Notify(proc, ev))
			var decErr *esmon.DecodeError
			require.True(t, xerrors.As(err, &decErr))
			require.Equal(t, ev.Kind(), decErr.Kind)
		})
	}
}

func TestDecodeExec(t *testing.T) {
	t.Parallel()

	args := []string{"sh", "-c", `echo "hi there" $HOME \ok`, "it's"}
	target := esmontest.Process(77, "/bin/sh")
	r, err := esmon.Decode(esmontest.Notify(esmontest.Process(77, "/usr/bin/env"), esmon.ExecEvent{
		Target: target,
		Args:   args,
	}))
	require.NoError(t, err)
	require.Equal(t, "/bin/sh", r.SubjectPath)
	require.Equal(t, "77", r.Parameters.Value("target_pid"))
	require.Equal(t, "/bin/sh", r.Parameters.Value("target_executable"))
	require.Equal(t, "/usr/bin/env", r.Process.Executable)

	quoted := r.Parameters.Value("target_args")
	split, err := shellquote.Split(quoted)
	require.NoError(t, err)
	require.Equal(t, args, split)
}

func TestDecodeExit(t *testing.T) {
	t.Parallel()

	cases := []struct {
		stat int32
		desc string
	}{
		{0, "normal exit with code 0"},
		{3 << 8, "normal exit with code 3"},
		{9, "killed by signal 9"},
		{11 | 0o200, "killed by signal 11 (coredump created)"},
	}
	for _, c := range cases {
		r, err := esmon.Decode(esmontest.Notify(esmontest.Process(5, "/bin/ls"), esmon.ExitEvent{Stat: c.stat}))
		require.NoError(t, err)
		assert.Equal(t, c.desc, r.Parameters.Value("stat_desc"))
	}

	// Stopped processes do not exit.
	_, err := esmon.Decode(esmontest.Notify(esmontest.Process(5, "/bin/ls"), esmon.ExitEvent{Stat: 0x137f}))
	require.Error(t, err)
}

func TestDecodeParameters(t *testing.T) {
	t.Parallel()

	proc := esmontest.Process(42, "/usr/bin/tool")
	cases := []struct {
		name    string
		event   esmon.Payload
		subject string
		params  map[string]string
	}{
		{
			name:    "AccessFOK",
			event:   esmon.AccessEvent{Target: &esmon.File{Path: "/etc/hosts"}},
			subject: "/etc/hosts",
			params:  map[string]string{"target": "/etc/hosts", "mode": "0", "mode_desc": "F_OK (0)"},
		},
		{
			name:    "Fcntl",
			event:   esmon.FcntlEvent{Target: &esmon.File{Path: "/dev/null"}, Cmd: 3},
			subject: "/dev/null",
			params:  map[string]string{"cmd": "3", "cmd_desc": "F_GETFL (3)"},
		},
		{
			name:    "Mount",
			event:   esmon.MountEvent{StatFS: esmon.StatFS{MountedFrom: "/dev/disk4s1", MountedOn: "/Volumes/USB"}},
			subject: "/Volumes/USB",
			params:  map[string]string{"f_mntfromname": "/dev/disk4s1", "f_mntonname": "/Volumes/USB"},
		},
		{
			name:    "KextLoad",
			event:   esmon.KextLoadEvent{Identifier: "com.example.driver"},
			subject: "com.example.driver",
			params:  map[string]string{"identifier": "com.example.driver"},
		},
		{
			name:    "Link",
			event:   esmon.LinkEvent{Source: &esmon.File{Path: "/a"}, TargetDir: &esmon.File{Path: "/b"}, TargetFilename: "c"},
			subject: "/b/c",
			params:  map[string]string{"source": "/a", "target_dir": "/b", "target_filename": "c"},
		},
		{
			name:    "MprotectNone",
			event:   esmon.MprotectEvent{Address: 4096, Size: 8192},
			subject: "",
			params:  map[string]string{"address": "4096", "size": "8192", "protection": "PROT_NONE (0)"},
		},
		{
			name:    "Mmap",
			event:   esmon.MmapEvent{Source: &esmon.File{Path: "/lib/x.dylib"}, Flags: 0x1, MaxProtection: 7, Protection: 5},
			subject: "/lib/x.dylib",
			params: map[string]string{
				"flags":          "MAP_SHARED (1)",
				"max_protection": "PROT_READ|PROT_WRITE|PROT_EXEC (7)",
				"protection":     "PROT_READ|PROT_EXEC (5)",
			},
		},
		{
			name:    "SignalExitedTarget",
			event:   esmon.SignalEvent{Sig: 15},
			subject: "",
			params:  map[string]string{"target_pid": "-1", "sig": "15"},
		},
		{
			name:    "UIPCBind",
			event:   esmon.UIPCBindEvent{Dir: &esmon.File{Path: "/var/run"}, Filename: "x.sock", Mode: 0o600},
			subject: "/var/run/x.sock",
			params:  map[string]string{"dir": "/var/run", "filename": "x.sock", "mode": "384"},
		},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			r, err := esmon.Decode(esmontest.Notify(proc, c.event))
			require.NoError(t, err)
			require.Equal(t, c.event.Kind(), r.Kind)
			require.Equal(t, c.subject, r.SubjectPath)
			for k, v := range c.params {
				assert.Equal(t, v, r.Parameters.Value(k), "parameter %q", k)
			}
		})
	}
}

func TestDecodeAttrList(t *testing.T) {
	t.Parallel()

	r, err := esmon.Decode(esmontest.Notify(esmontest.Process(1, "/bin/ls"), esmon.GetAttrListEvent{
		Target:   &esmon.File{Path: "/Users"},
		AttrList: esmon.AttrList{CommonAttr: 0x1},
	}))
	require.NoError(t, err)
	require.Equal(t, "ATTR_CMN_NAME (1)", r.Parameters.Value("commonattr"))
	_, ok := r.Parameters.Get("volattr")
	require.False(t, ok, "empty attribute groups are omitted")
}

func TestDecodeIndependentRecords(t *testing.T) {
	t.Parallel()

	msg := esmontest.Notify(esmontest.Process(1, "/bin/cat"), esmon.OpenEvent{File: &esmon.File{Path: "/a"}})
	r1, err := esmon.Decode(msg)
	require.NoError(t, err)
	r2, err := esmon.Decode(msg)
	require.NoError(t, err)
	r1.Parameters.Set("filename", "/changed")
	require.Equal(t, "/a", r2.Parameters.Value("filename"))
}
