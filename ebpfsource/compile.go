package ebpfsource

import (
	"embed"
	"encoding/binary"
)

const (
	// programDir is the dir within SourceFiles that contains the eBPF source
	// code.
	programDir = "bpf"
	// ProgramFile is the name of the C source file containing the eBPF
	// program.
	ProgramFile = "handler.c"
)

// SourceFiles contains the C source and headers of the eBPF program.
//
//go:embed bpf/*.c bpf/*.h
var SourceFiles embed.FS

// suitableCompilers are looked up in PATH, in order, when no compiler is
// configured.
var suitableCompilers = []string{
	"clang-18",
	"clang-17",
	"clang-16",
	"clang-15",
	"clang-14",
	"clang",
}

// CompileOptions configures CompileProgram.
type CompileOptions struct {
	// Compiler is the executable name or full path of a clang compiler. If
	// empty, the first suitable compiler in PATH is used.
	Compiler string
	// TempDir is the working directory of the compilation. The source files
	// are extracted into it and must not exist yet. If empty, a temporary dir
	// is created and removed afterwards.
	TempDir string
}

// bpfTarget returns the clang target matching the byte order of this
// machine.
func bpfTarget() string {
	if binary.NativeEndian.Uint16([]byte{0x12, 0x34}) == 0x3412 {
		return "bpfel"
	}
	return "bpfeb"
}
