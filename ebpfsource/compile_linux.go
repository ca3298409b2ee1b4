//go:build linux
// +build linux

package ebpfsource

import (
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/xerrors"
)

const outputFile = "handler.o"

// FindCompiler returns the path of the first suitable clang compiler in
// PATH.
func FindCompiler() (string, error) {
	for _, c := range suitableCompilers {
		path, err := exec.LookPath(c)
		if err == nil {
			return path, nil
		}
	}

	return "", xerrors.Errorf("could not find a clang compiler in PATH (tried %s)", strings.Join(suitableCompilers, ", "))
}

// CompileProgram compiles the embedded eBPF program for this machine and
// returns the ELF object.
func CompileProgram(ctx context.Context, opts CompileOptions) ([]byte, error) {
	var err error
	if opts.Compiler == "" {
		opts.Compiler, err = FindCompiler()
		if err != nil {
			return nil, err
		}
	}
	if opts.TempDir == "" {
		opts.TempDir, err = os.MkdirTemp("", "esmon_compile_")
		if err != nil {
			return nil, xerrors.Errorf("create temp dir: %w", err)
		}
		defer func() { _ = os.RemoveAll(opts.TempDir) }()
	}
	err = copySource(opts.TempDir)
	if err != nil {
		return nil, xerrors.Errorf("copy source files to compilation dir: %w", err)
	}

	args := []string{
		// The verifier often rejects unoptimized code.
		"-O2",
		// Don't detect the build machine's kernel for instruction set
		// extensions.
		"-mcpu=v1",
		// BTF is generated from debug info and is needed for the map
		// definitions.
		"-g",
		"-Wall", "-Wextra", "-Werror",
		"-fno-ident",
		"-fdebug-compilation-dir", ".",
		"-target", bpfTarget(),
		"-c", "./" + ProgramFile,
		"-o", "./" + outputFile,
	}

	compileCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	//nolint:gosec // the compiler path is configurable on purpose
	cmd := exec.CommandContext(compileCtx, opts.Compiler, args...)
	cmd.Dir = opts.TempDir

	out, err := cmd.CombinedOutput()
	if err != nil {
		return nil, xerrors.Errorf("run compiler %v %v: %w:\n\n%s", opts.Compiler, strings.Join(args, " "), err, out)
	}

	obj, err := os.ReadFile(filepath.Join(opts.TempDir, outputFile))
	if err != nil {
		return nil, xerrors.Errorf("read compiled object: %w", err)
	}
	return obj, nil
}

// copySource extracts SourceFiles into dir. Existing files are not
// overwritten.
func copySource(dir string) error {
	ents, err := SourceFiles.ReadDir(programDir)
	if err != nil {
		return xerrors.Errorf("read embedded source dir: %w", err)
	}
	for _, ent := range ents {
		if !ent.Type().IsRegular() {
			continue
		}
		// embed.FS paths always use forward slashes.
		src := programDir + "/" + ent.Name()
		err = copySourceFile(src, filepath.Join(dir, ent.Name()))
		if err != nil {
			return xerrors.Errorf("extract %q: %w", src, err)
		}
	}
	return nil
}

func copySourceFile(src, dest string) error {
	in, err := SourceFiles.Open(src)
	if err != nil {
		return xerrors.Errorf("open embedded file: %w", err)
	}
	defer in.Close()

	err = os.MkdirAll(filepath.Dir(dest), 0o700)
	if err != nil {
		return xerrors.Errorf("create parent dir of %q: %w", dest, err)
	}
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return xerrors.Errorf("create (excl) %q: %w", dest, err)
	}
	_, err = io.Copy(out, in)
	if err != nil {
		_ = out.Close()
		return xerrors.Errorf("copy to %q: %w", dest, err)
	}
	return out.Close()
}
