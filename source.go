package esmon

import "io"

// Handler is called by a Source for every delivered message. A Source may
// call it concurrently from several goroutines. For auth messages the
// triggering kernel operation stays blocked until the handler (or someone it
// delegates to) responds through the Source.
type Handler func(msg *Message)

// Source is a kernel event source. Implementations live outside of this
// package, e.g. ebpfsource for Linux or esmontest for tests.
type Source interface {
	io.Closer

	// Subscribe starts delivery of the given event types. Failures are
	// reported as a *SubscriptionError.
	Subscribe(types []EventType) error
	// Unsubscribe stops future delivery of the given event types. Messages
	// already handed to the Handler are unaffected.
	Unsubscribe(types []EventType) error
	// MuteProcess suppresses all further deliveries for the given process
	// instance.
	MuteProcess(token AuditToken) error
	// RespondAuth answers an auth message with allow or deny. When cache is
	// true the platform may reuse the decision for identical operations.
	RespondAuth(msg *Message, allow bool, cache bool) error
	// RespondFlags answers an auth message by returning the subset of the
	// requested flags that are allowed.
	RespondFlags(msg *Message, allowedFlags uint32, cache bool) error
	// Err returns a channel that receives an error if the source stops
	// delivering messages on its own. At most one error is sent.
	Err() <-chan error
}

// Opener creates a Source that delivers messages to handler. A platform
// refusal is reported as a *SourceCreationError.
type Opener func(handler Handler) (Source, error)
