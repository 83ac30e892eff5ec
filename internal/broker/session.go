package broker

import (
	"fmt"
	"sync"
	"time"

	"github.com/danmuck/voltshift/internal/auth"
	"github.com/danmuck/voltshift/internal/mailbox"
	"github.com/google/uuid"
)

// State is a client session lifecycle state.
type State string

const (
	StateCreated       State = "created"
	StateStarted       State = "started"
	StateActive        State = "active"
	StateWillTerminate State = "will_terminate"
	StateStopped       State = "stopped"
	StateDestroyed     State = "destroyed"
	StateRejected      State = "rejected"
)

// Session is one caller's connection to the broker.
type Session struct {
	id      uuid.UUID
	caller  auth.Caller
	created time.Time

	mu       sync.Mutex
	state    State
	provider Provider
	ref      *brokerRef

	onTerminate   func()
	terminateOnce sync.Once
}

func newSession(caller auth.Caller) *Session {
	return &Session{
		id:      uuid.New(),
		caller:  caller,
		created: time.Now(),
		state:   StateCreated,
	}
}

func (s *Session) ID() uuid.UUID {
	return s.id
}

func (s *Session) Caller() auth.Caller {
	return s.caller
}

func (s *Session) CreatedAt() time.Time {
	return s.created
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// OnTerminate registers fn to run once if the provider terminates the session.
func (s *Session) OnTerminate(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onTerminate = fn
}

func (s *Session) attach(p Provider) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p == nil {
		return fmt.Errorf("session %s: nil provider", s.id)
	}
	if s.state != StateCreated || s.provider != nil {
		return stateError(s.state, StateStarted)
	}
	s.provider = p
	return nil
}

func (s *Session) detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.provider = nil
}

func (s *Session) start(p Provider) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateCreated {
		return stateError(s.state, StateStarted)
	}
	b, ok := p.(*Broker)
	if !ok {
		s.state = StateRejected
		return fmt.Errorf("%w: %s", ErrProviderMismatch, p.ProviderName())
	}
	s.ref = b.acquire()
	s.state = StateStarted
	return nil
}

func (s *Session) activate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateStarted {
		s.state = StateActive
	}
}

func (s *Session) reject() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateRejected
	if s.ref != nil {
		s.ref.release()
	}
}

// stop moves a live session through will_terminate to stopped.
func (s *Session) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateStarted, StateActive:
		s.state = StateWillTerminate
		fallthrough
	case StateWillTerminate:
		s.state = StateStopped
	}
}

// finalize destroys a stopped session and drops its broker reference.
func (s *Session) finalize() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateStopped {
		return
	}
	s.state = StateDestroyed
	s.provider = nil
	if s.ref != nil {
		s.ref.release()
	}
}

func (s *Session) terminating() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateWillTerminate, StateStopped, StateDestroyed, StateRejected:
		return true
	}
	return false
}

func (s *Session) fireTerminate() {
	s.mu.Lock()
	fn := s.onTerminate
	s.mu.Unlock()
	if fn == nil {
		return
	}
	s.terminateOnce.Do(fn)
}

// ClientClose handles an orderly disconnect. Closing twice is harmless.
func (s *Session) ClientClose() error {
	if b := s.broker(); b != nil {
		b.CloseSession(s)
	}
	if !s.terminating() {
		s.stop()
		s.finalize()
	}
	return nil
}

// ClientDied handles a disconnect without a close request.
func (s *Session) ClientDied() error {
	return s.ClientClose()
}

func (s *Session) broker() *Broker {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ref == nil {
		return nil
	}
	return s.ref.broker
}

func (s *Session) activeBroker() (*Broker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActive || s.ref == nil {
		return nil, fmt.Errorf("%w: state=%s", ErrSessionInactive, s.state)
	}
	return s.ref.broker, nil
}

// Dispatch routes one command record by action.
func (s *Session) Dispatch(action uint32, in, out *Record) error {
	switch action {
	case ActionReadMSR:
		return s.ReadMSR(in, out)
	case ActionWriteMSR:
		return s.WriteMSR(in, out)
	default:
		return fmt.Errorf("%w: action=%d", ErrUnsupported, action)
	}
}

// ReadMSR reads in.MSR into out.Param. Both records are required.
func (s *Session) ReadMSR(in, out *Record) error {
	if in == nil || out == nil {
		return fmt.Errorf("%w: read needs input and output records", ErrUnsupported)
	}
	b, err := s.activeBroker()
	if err != nil {
		return err
	}
	v, err := b.ReadMSR(in.MSR)
	b.obs.Dispatched("read_msr", err)
	if err != nil {
		return err
	}
	*out = Record{Action: in.Action, MSR: in.MSR, Param: v}
	return nil
}

// WriteMSR writes in.Param to in.MSR. out, when present, echoes the request.
// The mailbox register is only reachable through MailboxWrite.
func (s *Session) WriteMSR(in, out *Record) error {
	if in == nil {
		return fmt.Errorf("%w: write needs an input record", ErrUnsupported)
	}
	b, err := s.activeBroker()
	if err != nil {
		return err
	}
	if in.MSR == b.mailbox.Index() {
		err := fmt.Errorf("%w: raw write to mailbox register %#x", ErrUnsupported, in.MSR)
		b.obs.Dispatched("write_msr", err)
		return err
	}
	err = b.WriteMSR(in.MSR, in.Param)
	b.obs.Dispatched("write_msr", err)
	if err != nil {
		return err
	}
	if out != nil {
		*out = *in
	}
	return nil
}

// MailboxRead runs a read transaction on the broker's shared mailbox.
func (s *Session) MailboxRead(domain mailbox.Domain) (uint32, error) {
	b, err := s.activeBroker()
	if err != nil {
		return 0, err
	}
	v, err := b.mailbox.Read(domain)
	b.obs.Dispatched("mailbox_read", err)
	return v, err
}

// MailboxWrite runs a write transaction on the broker's shared mailbox.
func (s *Session) MailboxWrite(domain mailbox.Domain, value uint32) error {
	b, err := s.activeBroker()
	if err != nil {
		return err
	}
	err = b.mailbox.Write(domain, value)
	b.obs.Dispatched("mailbox_write", err)
	return err
}

// SharedMemory returns a fresh copy of the broker report buffer.
func (s *Session) SharedMemory() ([]byte, error) {
	b, err := s.activeBroker()
	if err != nil {
		return nil, err
	}
	b.obs.Dispatched("shared_memory", nil)
	return b.ReportSnapshot(), nil
}
