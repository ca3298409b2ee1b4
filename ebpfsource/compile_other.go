//go:build !linux
// +build !linux

package ebpfsource

import "context"

// FindCompiler always returns an error on operating systems other than
// Linux.
func FindCompiler() (string, error) {
	return "", errUnsupportedOS
}

// CompileProgram always returns an error on operating systems other than
// Linux.
func CompileProgram(_ context.Context, _ CompileOptions) ([]byte, error) {
	return nil, errUnsupportedOS
}
