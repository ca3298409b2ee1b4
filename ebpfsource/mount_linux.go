//go:build linux
// +build linux

package ebpfsource

import (
	"os"
	"strings"

	"golang.org/x/xerrors"
	"k8s.io/utils/mount"
)

// virtualMount is a pseudo filesystem that must be mounted at path.
type virtualMount struct {
	fstype string
	path   string
}

// tracingMounts are needed to attach tracepoints, in mount order.
var tracingMounts = []virtualMount{
	{fstype: "debugfs", path: "/sys/kernel/debug"},
	{fstype: "tracefs", path: "/sys/kernel/debug/tracing"},
}

var virtualMountOptions = []string{"rw", "nosuid", "nodev", "noexec", "relatime"}

// ensureTracefs mounts debugfs and tracefs where the kernel exposes
// tracepoints, unless they are mounted already.
func ensureTracefs() error {
	return ensureMounts(mount.New(""), tracingMounts)
}

// ensureMounts mounts every entry of want that has no mount at its path
// yet. A path mounted with another filesystem type is an error. Mounts are
// listed again after each mount since mounting debugfs may bring tracefs
// along.
func ensureMounts(mounter mount.Interface, want []virtualMount) error {
	for _, vm := range want {
		fstype, mounted, err := mountedType(mounter, vm.path)
		if err != nil {
			return err
		}
		if mounted {
			if fstype != vm.fstype {
				return xerrors.Errorf("%q is mounted as %q, want %q", vm.path, fstype, vm.fstype)
			}
			continue
		}

		err = os.MkdirAll(vm.path, 0o744)
		if err != nil {
			return xerrors.Errorf("create mountpoint %q: %w", vm.path, err)
		}
		// The device of a pseudo filesystem is conventionally its type.
		err = mounter.Mount(vm.fstype, vm.path, vm.fstype, virtualMountOptions)
		if err != nil {
			return xerrors.Errorf("mount %s on %q (%s): %w", vm.fstype, vm.path, strings.Join(virtualMountOptions, ","), err)
		}
	}
	return nil
}

// mountedType returns the filesystem type mounted at path.
func mountedType(mounter mount.Interface, path string) (string, bool, error) {
	mounts, err := mounter.List()
	if err != nil {
		return "", false, xerrors.Errorf("list mounts: %w", err)
	}
	for _, m := range mounts {
		if m.Path == path {
			return m.Type, true, nil
		}
	}
	return "", false, nil
}
