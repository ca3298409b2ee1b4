package esmon

import (
	"context"
	"sync"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/xerrors"

	"cdr.dev/slog"
)

// Options configures a Client. Opener and Sink are required.
type Options struct {
	// Opener creates the kernel event source for the client.
	Opener Opener
	// Sink receives every forwarded record. It is wrapped with Serialize, so
	// clients that should share a lock must share the serialized sink.
	Sink Sink
	// Tracker gates records by process subtree. Clients monitoring the same
	// path should share one Tracker. If nil, every record is forwarded.
	Tracker *Tracker
	// Suppressor drops events from the monitor itself and from noisy
	// daemons. If nil, a Suppressor with DefaultDenyList is used.
	Suppressor *Suppressor
}

// Client connects a Source to a Sink. For every delivered message it
// suppresses noise, answers auth messages, decodes, updates the Tracker and
// forwards the record if the Tracker allows it.
type Client struct {
	log        slog.Logger
	sink       Sink
	tracker    *Tracker
	suppressor *Suppressor
	responder  *Responder

	// ready is closed once src and respondSrc have been assigned (or
	// creation failed).
	ready chan struct{}
	srcMu sync.RWMutex
	src   Source
	// respondSrc is never cleared. Auth messages still in flight while the
	// client closes are answered through it.
	respondSrc Source

	errOnce sync.Once
	errCh   chan error

	closeLock sync.Mutex
	closed    chan struct{}
}

// New creates a Client and its Source. The source starts delivering only
// after Subscribe is called.
func New(ctx context.Context, log slog.Logger, opts Options) (*Client, error) {
	if opts.Opener == nil {
		return nil, xerrors.New("opener is required")
	}
	if opts.Sink == nil {
		return nil, xerrors.New("sink is required")
	}

	c := &Client{
		log:        log,
		sink:       Serialize(opts.Sink),
		tracker:    opts.Tracker,
		suppressor: opts.Suppressor,
		responder:  NewResponder(log),
		ready:      make(chan struct{}),
		errCh:      make(chan error, 1),
		closed:     make(chan struct{}),
	}
	if c.tracker == nil {
		c.tracker = NewTracker(log.Named("tracker"), "")
	}
	if c.suppressor == nil {
		s, err := NewSuppressor(log.Named("suppressor"), DefaultDenyList)
		if err != nil {
			return nil, err
		}
		c.suppressor = s
	}

	src, err := opts.Opener(func(msg *Message) {
		c.handle(ctx, msg)
	})
	if err != nil {
		close(c.ready)
		close(c.closed)
		var createErr *SourceCreationError
		if xerrors.As(err, &createErr) {
			return nil, err
		}
		return nil, &SourceCreationError{Result: NewClientErrInternal, Err: err}
	}

	c.srcMu.Lock()
	c.src = src
	c.srcMu.Unlock()
	c.respondSrc = src
	close(c.ready)
	go c.watchSource(ctx, src)

	log.Debug(ctx, "created event source", slog.F("monitor_path", c.tracker.Prefix()))
	return c, nil
}

// source returns the active source, or nil once the source was destroyed.
func (c *Client) source() Source {
	c.srcMu.RLock()
	defer c.srcMu.RUnlock()
	return c.src
}

// Subscribe starts delivery of the given event types.
func (c *Client) Subscribe(types []EventType) error {
	src := c.source()
	if src == nil || c.isClosed() {
		return &ConfigurationError{Op: "subscribe"}
	}
	err := src.Subscribe(types)
	if err != nil {
		return asSubscriptionError("subscribe", types, err)
	}
	return nil
}

// Unsubscribe stops future delivery of the given event types. Messages that
// are already being handled are unaffected.
func (c *Client) Unsubscribe(types []EventType) error {
	src := c.source()
	if src == nil || c.isClosed() {
		return &ConfigurationError{Op: "unsubscribe"}
	}
	err := src.Unsubscribe(types)
	if err != nil {
		return asSubscriptionError("unsubscribe", types, err)
	}
	return nil
}

func asSubscriptionError(op string, types []EventType, err error) error {
	var subErr *SubscriptionError
	if xerrors.As(err, &subErr) {
		return err
	}
	return &SubscriptionError{Op: op, Types: types, Err: err}
}

// Err returns a channel that receives the first fatal error raised while
// handling messages. At most one error is ever sent.
func (c *Client) Err() <-chan error {
	return c.errCh
}

// Wait blocks until a fatal error occurs, the client is closed or ctx is
// done. It returns nil if the client was closed.
func (c *Client) Wait(ctx context.Context) error {
	select {
	case err := <-c.errCh:
		return err
	case <-c.closed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// watchSource turns a source that stops on its own into a fatal error.
func (c *Client) watchSource(ctx context.Context, src Source) {
	select {
	case err, ok := <-src.Err():
		if !ok || err == nil || c.isClosed() {
			return
		}
		c.log.Error(ctx, "event source stopped delivering", slog.Error(err))
		c.setErr(&SourceError{Err: err})
	case <-c.closed:
	}
}

func (c *Client) setErr(err error) {
	c.errOnce.Do(func() {
		c.errCh <- err
	})
}

func (c *Client) fail(ctx context.Context, msg *Message, err error) {
	c.log.Error(ctx, "fatal error while handling event",
		slog.F("type", msg.Type.String()),
		slog.F("pid", msg.Process.PID()),
		slog.Error(err),
	)
	c.setErr(err)
}

func (c *Client) handle(ctx context.Context, msg *Message) {
	<-c.ready
	src := c.respondSrc
	if src == nil {
		return
	}

	if reason := c.suppressor.Check(msg); reason != NotSuppressed {
		// The kernel holds the operation until it is answered, so
		// suppressed auth messages are still allowed explicitly.
		err := c.responder.Respond(ctx, src, msg)
		if err != nil {
			c.fail(ctx, msg, err)
		}
		if c.isClosed() {
			return
		}
		err = c.suppressor.Mute(ctx, src, msg, reason)
		if err != nil {
			c.log.Warn(ctx, "failed to mute process", slog.Error(err))
		}
		return
	}

	err := c.responder.Respond(ctx, src, msg)
	if err != nil {
		c.fail(ctx, msg, err)
		return
	}
	// A closing client still answers auth messages but reports nothing.
	if c.isClosed() {
		return
	}

	rec, err := Decode(msg)
	if err != nil {
		c.fail(ctx, msg, err)
		return
	}
	c.tracker.Observe(ctx, msg)
	if !c.tracker.Forward(rec.Process.PID) {
		return
	}

	err = c.sink.Write(ctx, rec)
	if err != nil {
		c.log.Error(ctx, "failed to write record", slog.F("kind", rec.Kind), slog.Error(err))
	}
}

func (c *Client) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
	}

	return false
}

// Close destroys the source. Auth messages whose handling already started
// are still answered. The sink is owned by the caller and is not closed.
// Operations on a closed client fail with a *ConfigurationError.
func (c *Client) Close() error {
	c.closeLock.Lock()
	defer c.closeLock.Unlock()
	if c.isClosed() {
		return errClientClosed
	}
	close(c.closed)

	// The source stays reachable until it is destroyed so that handlers
	// already running can answer their auth messages.
	src := c.source()
	var merr error
	if src != nil {
		err := src.Close()
		if err != nil {
			merr = multierror.Append(merr, xerrors.Errorf("destroy event source: %w", err))
		}
	}

	c.srcMu.Lock()
	c.src = nil
	c.srcMu.Unlock()
	return merr
}
