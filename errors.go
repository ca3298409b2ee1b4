package esmon

import (
	"fmt"
	"strings"

	"golang.org/x/xerrors"
)

var (
	errClientClosed  = xerrors.New("client is closed")
	errUnknownKind   = xerrors.New("unknown event kind")
	errPayloadKind   = xerrors.New("payload does not match event kind")
	errInvalidStatus = xerrors.New("exit status is neither a normal exit nor a signal")
)

// ConfigurationError is returned when an operation that needs an active
// source is called before the source was created, or after it was closed.
type ConfigurationError struct {
	Op string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s: no active event source, the client must be created first", e.Op)
}

// NewClientResult is the result of creating a platform event source.
type NewClientResult int

const (
	NewClientSuccess NewClientResult = iota
	NewClientErrNotEntitled
	NewClientErrNotPrivileged
	NewClientErrNotPermitted
	NewClientErrInvalidArgument
	NewClientErrTooManyClients
	NewClientErrInternal
)

func (r NewClientResult) String() string {
	switch r {
	case NewClientSuccess:
		return "success"
	case NewClientErrNotEntitled:
		return "not entitled"
	case NewClientErrNotPrivileged:
		return "not privileged"
	case NewClientErrNotPermitted:
		return "not permitted"
	case NewClientErrInvalidArgument:
		return "invalid argument"
	case NewClientErrTooManyClients:
		return "too many clients"
	case NewClientErrInternal:
		return "internal error"
	default:
		return fmt.Sprintf("unknown result %d", int(r))
	}
}

// SourceCreationError is returned when the platform refuses to create an
// event source.
type SourceCreationError struct {
	Result NewClientResult
	Err    error
}

func (e *SourceCreationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("create event source: %s: %v", e.Result, e.Err)
	}
	return fmt.Sprintf("create event source: %s", e.Result)
}

func (e *SourceCreationError) Unwrap() error { return e.Err }

// SubscriptionError is returned when the platform rejects a subscribe or
// unsubscribe request.
type SubscriptionError struct {
	Op    string
	Types []EventType
	Err   error
}

func (e *SubscriptionError) Error() string {
	names := make([]string, 0, len(e.Types))
	for _, t := range e.Types {
		names = append(names, t.String())
	}
	return fmt.Sprintf("%s [%s]: %v", e.Op, strings.Join(names, ","), e.Err)
}

func (e *SubscriptionError) Unwrap() error { return e.Err }

// ResponseError is returned when a decision for an auth message could not be
// delivered. The originating kernel operation stays blocked until the
// platform times it out.
type ResponseError struct {
	Type EventType
	PID  int
	Err  error
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("respond to %s from pid %d: %v", e.Type, e.PID, e.Err)
}

func (e *ResponseError) Unwrap() error { return e.Err }

// DecodeError is returned when a message cannot be turned into a Record.
type DecodeError struct {
	Kind Kind
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %q event: %v", e.Kind, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// SourceError is returned when an active source stops delivering messages,
// e.g. because its kernel buffer can no longer be read.
type SourceError struct {
	Err error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("event source failed: %v", e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// IsFatal reports whether err ends a monitoring session. Every error of the
// kinds above is fatal; nothing is retried locally.
func IsFatal(err error) bool {
	var (
		cfgErr    *ConfigurationError
		createErr *SourceCreationError
		subErr    *SubscriptionError
		respErr   *ResponseError
		decErr    *DecodeError
		srcErr    *SourceError
	)
	return xerrors.As(err, &cfgErr) ||
		xerrors.As(err, &createErr) ||
		xerrors.As(err, &subErr) ||
		xerrors.As(err, &respErr) ||
		xerrors.As(err, &decErr) ||
		xerrors.As(err, &srcErr)
}
