// Package esmontest provides an in-memory event source for tests.
package esmontest

import (
	"sync"
	"time"

	"golang.org/x/xerrors"

	"github.com/coder/esmon"
)

// Response is an answer recorded by Source.
type Response struct {
	Message *esmon.Message
	// Flags is true if the answer used the flags form.
	Flags        bool
	Allow        bool
	AllowedFlags uint32
	Cache        bool
}

// Source is an esmon.Source that delivers messages on demand and records
// every call made to it. The exported error fields make the matching
// operation fail when set.
type Source struct {
	CreateResult esmon.NewClientResult
	SubscribeErr error
	MuteErr      error
	RespondErr   error
	CloseErr     error
	// OnClose, if set, runs at the start of Close while the source can
	// still deliver messages.
	OnClose func()

	errCh chan error

	mu         sync.Mutex
	handler    esmon.Handler
	subscribed map[esmon.EventType]struct{}
	muted      []esmon.AuditToken
	responses  []Response
	closed     bool
}

var _ esmon.Source = &Source{}

// New returns an unopened Source.
func New() *Source {
	return &Source{
		subscribed: make(map[esmon.EventType]struct{}),
		errCh:      make(chan error, 1),
	}
}

// Opener returns an esmon.Opener that binds the handler to s.
func (s *Source) Opener() esmon.Opener {
	return func(handler esmon.Handler) (esmon.Source, error) {
		if s.CreateResult != esmon.NewClientSuccess {
			return nil, &esmon.SourceCreationError{Result: s.CreateResult}
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		s.handler = handler
		return s, nil
	}
}

func (s *Source) Subscribe(types []esmon.EventType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return xerrors.New("source is closed")
	}
	if s.SubscribeErr != nil {
		return &esmon.SubscriptionError{Op: "subscribe", Types: types, Err: s.SubscribeErr}
	}
	for _, t := range types {
		s.subscribed[t] = struct{}{}
	}
	return nil
}

func (s *Source) Unsubscribe(types []esmon.EventType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SubscribeErr != nil {
		return &esmon.SubscriptionError{Op: "unsubscribe", Types: types, Err: s.SubscribeErr}
	}
	for _, t := range types {
		delete(s.subscribed, t)
	}
	return nil
}

func (s *Source) MuteProcess(token esmon.AuditToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.MuteErr != nil {
		return s.MuteErr
	}
	s.muted = append(s.muted, token)
	return nil
}

func (s *Source) RespondAuth(msg *esmon.Message, allow bool, cache bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.RespondErr != nil {
		return s.RespondErr
	}
	s.responses = append(s.responses, Response{Message: msg, Allow: allow, Cache: cache})
	return nil
}

func (s *Source) RespondFlags(msg *esmon.Message, allowedFlags uint32, cache bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.RespondErr != nil {
		return s.RespondErr
	}
	s.responses = append(s.responses, Response{
		Message:      msg,
		Flags:        true,
		Allow:        allowedFlags != 0,
		AllowedFlags: allowedFlags,
		Cache:        cache,
	})
	return nil
}

func (s *Source) Err() <-chan error {
	return s.errCh
}

// Fail reports err as the reason the source stopped delivering. Only the
// first call has an effect.
func (s *Source) Fail(err error) {
	select {
	case s.errCh <- err:
	default:
	}
}

func (s *Source) Close() error {
	if s.OnClose != nil {
		s.OnClose()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return xerrors.New("source is already closed")
	}
	s.closed = true
	return s.CloseErr
}

// Deliver hands msg to the handler on the calling goroutine if its type is
// subscribed and the process is not muted. It reports whether the handler
// was called.
func (s *Source) Deliver(msg *esmon.Message) bool {
	s.mu.Lock()
	handler := s.handler
	_, ok := s.subscribed[msg.Type]
	if s.closed || handler == nil {
		ok = false
	}
	if ok && msg.Process != nil {
		for _, t := range s.muted {
			if t == msg.Process.Token {
				ok = false
				break
			}
		}
	}
	s.mu.Unlock()

	if !ok {
		return false
	}
	handler(msg)
	return true
}

// DeliverConcurrently delivers every message on its own goroutine and waits
// for all handlers to return. It returns the number of delivered messages.
func (s *Source) DeliverConcurrently(msgs []*esmon.Message) int {
	var (
		wg sync.WaitGroup
		mu sync.Mutex
		n  int
	)
	for _, msg := range msgs {
		wg.Add(1)
		go func(msg *esmon.Message) {
			defer wg.Done()
			if s.Deliver(msg) {
				mu.Lock()
				n++
				mu.Unlock()
			}
		}(msg)
	}
	wg.Wait()
	return n
}

// Subscribed reports whether t is currently subscribed.
func (s *Source) Subscribed(t esmon.EventType) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.subscribed[t]
	return ok
}

// Muted returns the muted process tokens in mute order.
func (s *Source) Muted() []esmon.AuditToken {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]esmon.AuditToken(nil), s.muted...)
}

// Responses returns the recorded answers in response order.
func (s *Source) Responses() []Response {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Response(nil), s.responses...)
}

// Closed reports whether Close was called.
func (s *Source) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Process returns a process descriptor with the given pid and executable.
func Process(pid int, executable string) *esmon.Process {
	return &esmon.Process{
		Token:      esmon.AuditToken{PID: pid, EUID: 501, RUID: 501, EGID: 20, RGID: 20},
		PPID:       1,
		Executable: &esmon.File{Path: executable},
		StartTime:  time.Unix(1700000000, 0),
	}
}

// Notify returns a notify message for ev sent by proc.
func Notify(proc *esmon.Process, ev esmon.Payload) *esmon.Message {
	return &esmon.Message{
		Type:    esmon.EventType{Kind: ev.Kind(), Action: esmon.ActionNotify},
		Time:    time.Now(),
		Process: proc,
		Event:   ev,
	}
}

// Auth returns an auth message for ev sent by proc with a deadline one
// minute from now.
func Auth(proc *esmon.Process, ev esmon.Payload) *esmon.Message {
	now := time.Now()
	return &esmon.Message{
		Type:     esmon.EventType{Kind: ev.Kind(), Action: esmon.ActionAuth},
		Time:     now,
		Deadline: now.Add(time.Minute),
		Process:  proc,
		Event:    ev,
	}
}
