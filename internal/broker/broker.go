package broker

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/voltshift/internal/auth"
	"github.com/danmuck/voltshift/internal/mailbox"
	"github.com/danmuck/voltshift/internal/msr"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// MaxSessions bounds the number of concurrently open client sessions.
const MaxSessions = 5

// ReportBufferSize is the declared size of the shared report buffer.
const ReportBufferSize = 4096

// Phase describes broker lifecycle transitions.
type Phase string

const (
	PhaseBoot    Phase = "boot"
	PhaseStarted Phase = "started"
	PhaseStopped Phase = "stopped"
)

// Provider is anything a session can be attached to. Only *Broker is accepted
// at session start.
type Provider interface {
	ProviderName() string
}

// Observer receives broker events for metrics.
type Observer interface {
	SessionsActive(n int)
	SessionRejected(reason string)
	Dispatched(op string, err error)
	MailboxDone(op string, attempts int, err error)
}

type nopObserver struct{}

func (nopObserver) SessionsActive(int)             {}
func (nopObserver) SessionRejected(string)         {}
func (nopObserver) Dispatched(string, error)       {}
func (nopObserver) MailboxDone(string, int, error) {}

// Options configures a Broker.
type Options struct {
	Mailbox  mailbox.Options
	Observer Observer
	Logger   *zerolog.Logger
}

// Status is a point-in-time view of broker state.
type Status struct {
	Phase    Phase
	Sessions int
	Capacity int
	Refs     int32
}

// Broker owns the register device, the shared mailbox and the session table.
type Broker struct {
	mu       sync.Mutex
	phase    Phase
	sessions [MaxSessions]*Session
	count    int

	refs    atomic.Int32
	dev     msr.Device
	mailbox *mailbox.Mailbox

	reportMu   sync.RWMutex
	report     [ReportBufferSize]byte
	reportSize int

	obs    Observer
	logger zerolog.Logger
}

// New constructs a broker in boot phase over dev.
func New(dev msr.Device, opts Options) *Broker {
	b := &Broker{
		phase:      PhaseBoot,
		dev:        dev,
		reportSize: ReportBufferSize,
		obs:        opts.Observer,
	}
	if b.obs == nil {
		b.obs = nopObserver{}
	}
	if opts.Logger != nil {
		b.logger = *opts.Logger
	} else {
		b.logger = log.Logger.With().Str("component", "broker").Logger()
	}

	mopts := opts.Mailbox
	next := mopts.Observer
	mopts.Observer = func(op mailbox.Op, domain mailbox.Domain, attempts int, err error) {
		b.obs.MailboxDone(string(op), attempts, err)
		if err != nil {
			b.logger.Warn().Err(err).Msgf("broker.Broker.mailbox op=%s domain=%s attempts=%d", op, domain, attempts)
		}
		if next != nil {
			next(op, domain, attempts, err)
		}
	}
	b.mailbox = mailbox.New(b, mopts)
	b.writeReportHeader(0)
	return b
}

// ProviderName identifies the broker as a session provider.
func (b *Broker) ProviderName() string {
	return "voltshift.broker"
}

// Start transitions boot->started. Sessions can only be created once started.
func (b *Broker) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.phase != PhaseBoot {
		return transitionError(b.phase, PhaseStarted)
	}
	b.phase = PhaseStarted
	b.logger.Info().Msg("broker.Broker.Start ready")
	return nil
}

// Stop transitions started->stopped and terminates every open session. It
// fails if any session reference is still held afterwards.
func (b *Broker) Stop() error {
	b.mu.Lock()
	if b.phase != PhaseStarted {
		phase := b.phase
		b.mu.Unlock()
		return transitionError(phase, PhaseStopped)
	}
	b.phase = PhaseStopped
	open := make([]*Session, b.count)
	copy(open, b.sessions[:b.count])
	b.mu.Unlock()

	for _, s := range open {
		b.CloseSession(s)
		s.fireTerminate()
	}

	if refs := b.refs.Load(); refs != 0 {
		return fmt.Errorf("%w: refs=%d", ErrReferencesHeld, refs)
	}
	b.logger.Info().Msgf("broker.Broker.Stop terminated=%d", len(open))
	return nil
}

// CreateSession opens a session for caller. Capacity and attach failures
// leave the table untouched.
func (b *Broker) CreateSession(caller auth.Caller) (*Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.phase != PhaseStarted {
		return nil, fmt.Errorf("%w: phase=%s", ErrNotStarted, b.phase)
	}
	if b.count >= MaxSessions {
		b.obs.SessionRejected("capacity")
		b.logger.Warn().Msgf("broker.Broker.CreateSession rejected caller=%s active=%d", caller, b.count)
		return nil, ErrCapacityExceeded
	}

	s := newSession(caller)
	if err := s.attach(b); err != nil {
		s.reject()
		b.obs.SessionRejected("attach")
		return nil, fmt.Errorf("%w: %w", ErrAttachFailed, err)
	}
	if err := s.start(b); err != nil {
		s.detach()
		s.reject()
		b.obs.SessionRejected("start")
		b.logger.Warn().Err(err).Msgf("broker.Broker.CreateSession start failed caller=%s", caller)
		return nil, fmt.Errorf("%w: %w", ErrAttachFailed, err)
	}
	s.activate()

	b.sessions[b.count] = s
	b.count++
	b.obs.SessionsActive(b.count)
	b.logger.Info().
		Str("session", s.ID().String()).
		Int("active", b.count).
		Msgf("broker.Broker.CreateSession caller=%s", caller)
	return s, nil
}

// CloseSession removes s from the table and destroys it. Unknown or already
// closed sessions are ignored.
func (b *Broker) CloseSession(s *Session) {
	b.mu.Lock()
	defer b.mu.Unlock()

	idx := -1
	for i := 0; i < b.count; i++ {
		if b.sessions[i] == s {
			idx = i
			break
		}
	}
	if idx < 0 {
		if s != nil {
			b.logger.Debug().Msgf("broker.Broker.CloseSession unknown session=%s", s.ID())
		}
		return
	}

	s.stop()
	s.finalize()

	copy(b.sessions[idx:b.count-1], b.sessions[idx+1:b.count])
	b.count--
	b.sessions[b.count] = nil
	b.obs.SessionsActive(b.count)
	b.logger.Info().
		Str("session", s.ID().String()).
		Int("active", b.count).
		Dur("age", time.Since(s.CreatedAt())).
		Msg("broker.Broker.CloseSession closed")
}

// Sessions returns the live sessions in table order.
func (b *Broker) Sessions() []*Session {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Session, b.count)
	copy(out, b.sessions[:b.count])
	return out
}

// Status returns a snapshot of broker lifecycle and table shape.
func (b *Broker) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Status{
		Phase:    b.phase,
		Sessions: b.count,
		Capacity: MaxSessions,
		Refs:     b.refs.Load(),
	}
}

// ReadMSR reads a register from the device. Index validation belongs to the
// caller.
func (b *Broker) ReadMSR(index uint32) (uint64, error) {
	v, err := b.dev.Read(index)
	if err != nil {
		b.logFault("read", index, err)
	}
	return v, err
}

// WriteMSR writes a register on the device.
func (b *Broker) WriteMSR(index uint32, value uint64) error {
	err := b.dev.Write(index, value)
	if err != nil {
		b.logFault("write", index, err)
	}
	return err
}

func (b *Broker) logFault(op string, index uint32, err error) {
	if errors.Is(err, msr.ErrHardwareFault) {
		b.logger.Error().Err(err).Msgf("broker.Broker.%sMSR fault msr=%#x", op, index)
		return
	}
	b.logger.Warn().Err(err).Msgf("broker.Broker.%sMSR failed msr=%#x", op, index)
}

// Mailbox returns the one mailbox engine shared by every session.
func (b *Broker) Mailbox() *mailbox.Mailbox {
	return b.mailbox
}

// ReportSize returns the declared size of the report buffer.
func (b *Broker) ReportSize() int {
	return b.reportSize
}

// ReportSnapshot copies the whole report buffer, header included.
func (b *Broker) ReportSnapshot() []byte {
	b.reportMu.RLock()
	defer b.reportMu.RUnlock()
	out := make([]byte, b.reportSize)
	copy(out, b.report[:b.reportSize])
	return out
}

// UpdateReport lets fn rewrite the report body and bumps the sequence word.
func (b *Broker) UpdateReport(fn func(body []byte)) {
	b.reportMu.Lock()
	defer b.reportMu.Unlock()
	fn(b.report[ReportHeaderSize:b.reportSize])
	seq := binary.LittleEndian.Uint32(b.report[4:8])
	b.writeReportHeaderLocked(seq + 1)
}

func (b *Broker) reportSequence() uint32 {
	b.reportMu.RLock()
	defer b.reportMu.RUnlock()
	return binary.LittleEndian.Uint32(b.report[4:8])
}

func (b *Broker) writeReportHeader(seq uint32) {
	b.reportMu.Lock()
	defer b.reportMu.Unlock()
	b.writeReportHeaderLocked(seq)
}

func (b *Broker) writeReportHeaderLocked(seq uint32) {
	binary.LittleEndian.PutUint32(b.report[0:4], ReportVersion)
	binary.LittleEndian.PutUint32(b.report[4:8], seq)
}

func (b *Broker) acquire() *brokerRef {
	b.refs.Add(1)
	return &brokerRef{broker: b}
}

type brokerRef struct {
	broker *Broker
	once   sync.Once
}

func (r *brokerRef) release() {
	r.once.Do(func() {
		r.broker.refs.Add(-1)
	})
}
