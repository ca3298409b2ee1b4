package esmon

import (
	"context"
	"io"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/kballard/go-shellquote"

	"cdr.dev/slog"
)

// MissingSubject replaces an empty subject path when a record is reported.
const MissingSubject = "<missing>"

// Sink receives decoded records. Implementations need not be safe for
// concurrent use; a Client serializes all calls to Write.
type Sink interface {
	io.Closer

	Write(ctx context.Context, r *Record) error
}

// Row is the flat form of a Record handed to reporting backends.
type Row struct {
	Kind                 string  `json:"kind"`
	TimestampSeconds     int64   `json:"timestamp_seconds"`
	TimestampNanoseconds int64   `json:"timestamp_nanoseconds"`
	ExecutablePath       string  `json:"executable_path"`
	SubjectPath          string  `json:"subject_path"`
	Parameters           *Params `json:"parameters"`
}

// RowFor flattens r.
func RowFor(r *Record) Row {
	subject := r.SubjectPath
	if subject == "" {
		subject = MissingSubject
	}
	return Row{
		Kind:                 string(r.Kind),
		TimestampSeconds:     r.TimestampSeconds,
		TimestampNanoseconds: r.TimestampNanoseconds,
		ExecutablePath:       r.Process.Executable,
		SubjectPath:          subject,
		Parameters:           r.Parameters,
	}
}

// LogSink writes every record as an info log line.
type LogSink struct {
	log slog.Logger
}

var _ Sink = &LogSink{}

// NewLogSink returns a Sink that logs records to log.
func NewLogSink(log slog.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Write(ctx context.Context, r *Record) error {
	row := RowFor(r)
	fields := []slog.Field{
		slog.F("auth", r.IsAuth),
		slog.F("pid", r.Process.PID),
		slog.F("executable", row.ExecutablePath),
		slog.F("subject", row.SubjectPath),
		slog.F("time", r.Time()),
	}
	if r.Process.Name != "" {
		fields = append(fields, slog.F("comm", r.Process.Name))
	}
	if r.Args != nil {
		fields = append(fields, slog.F("argv", shellquote.Join(r.Args...)))
	}
	fields = append(fields, slog.F("parameters", r.Parameters.Map()))
	s.log.Info(ctx, row.Kind, fields...)
	return nil
}

func (*LogSink) Close() error {
	return nil
}

// MultiSink writes each record to every sink in order and stops at the
// first failure.
type MultiSink []Sink

var _ Sink = MultiSink{}

func (m MultiSink) Write(ctx context.Context, r *Record) error {
	for _, s := range m {
		err := s.Write(ctx, r)
		if err != nil {
			return err
		}
	}
	return nil
}

func (m MultiSink) Close() error {
	var merr error
	for _, s := range m {
		err := s.Close()
		if err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	return merr
}

// lockedSink serializes calls to an underlying Sink.
type lockedSink struct {
	mu   sync.Mutex
	sink Sink
}

// Serialize wraps s so that concurrent Write and Close calls are executed
// one at a time. Clients sharing a sink should share the returned value.
func Serialize(s Sink) Sink {
	if ls, ok := s.(*lockedSink); ok {
		return ls
	}
	return &lockedSink{sink: s}
}

func (l *lockedSink) Write(ctx context.Context, r *Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sink.Write(ctx, r)
}

func (l *lockedSink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sink.Close()
}
