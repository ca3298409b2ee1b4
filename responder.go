package esmon

import (
	"context"
	"time"

	"cdr.dev/slog"
)

// AllowAllFlags is the flags answer that permits every requested open flag.
const AllowAllFlags uint32 = 0x7FFFFFFF

// Responder answers auth messages. Every decision is "allow" and cacheable;
// this package observes, it does not enforce.
type Responder struct {
	log slog.Logger
	now func() time.Time
}

// NewResponder returns a Responder that logs through log.
func NewResponder(log slog.Logger) *Responder {
	return &Responder{log: log, now: time.Now}
}

// Respond allows the operation behind msg. open is answered with the flags
// form, every other kind with the plain auth form. Notify messages are
// ignored. A failure is returned as a *ResponseError.
func (r *Responder) Respond(ctx context.Context, src Source, msg *Message) error {
	if !msg.IsAuth() {
		return nil
	}
	if !msg.Deadline.IsZero() && r.now().After(msg.Deadline) {
		r.log.Warn(ctx, "auth deadline already passed",
			slog.F("type", msg.Type.String()),
			slog.F("pid", msg.Process.PID()),
			slog.F("deadline", msg.Deadline),
		)
	}

	var err error
	if msg.Type.Kind == KindOpen {
		err = src.RespondFlags(msg, AllowAllFlags, true)
	} else {
		err = src.RespondAuth(msg, true, true)
	}
	if err != nil {
		return &ResponseError{Type: msg.Type, PID: msg.Process.PID(), Err: err}
	}
	return nil
}
