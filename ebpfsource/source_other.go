//go:build !linux
// +build !linux

package ebpfsource

import (
	"cdr.dev/slog"

	"github.com/coder/esmon"
)

// Opener is not supported on OSes other than Linux. The returned opener
// always fails.
func Opener(_ slog.Logger, _ Options) esmon.Opener {
	return func(esmon.Handler) (esmon.Source, error) {
		return nil, &esmon.SourceCreationError{Result: esmon.NewClientErrInternal, Err: errUnsupportedOS}
	}
}
