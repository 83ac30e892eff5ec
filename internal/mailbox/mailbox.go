package mailbox

import (
	"fmt"
	"sync"
	"time"

	"github.com/danmuck/voltshift/internal/msr"
	"github.com/danmuck/voltshift/internal/retry"
)

// DefaultRetries is the poll budget for one transaction.
const DefaultRetries = 5

// DefaultPause is the wait before each poll attempt.
const DefaultPause = 2 * time.Millisecond

// Op names a mailbox transaction kind.
type Op string

const (
	OpRead  Op = "read"
	OpWrite Op = "write"
)

// Register is the raw register path the mailbox drives.
type Register interface {
	ReadMSR(index uint32) (uint64, error)
	WriteMSR(index uint32, value uint64) error
}

// Observer is told about every finished transaction.
type Observer func(op Op, domain Domain, attempts int, err error)

// Options tunes a Mailbox. Zero values take defaults.
type Options struct {
	Index    uint32
	Retries  int
	Backoff  retry.Backoff
	Sleep    func(time.Duration)
	Observer Observer
}

func (o Options) withDefaults() Options {
	if o.Index == 0 {
		o.Index = msr.OCMailbox
	}
	if o.Retries <= 0 {
		o.Retries = DefaultRetries
	}
	if o.Backoff.InitialDelay <= 0 && o.Backoff.MaxDelay <= 0 {
		o.Backoff = retry.Fixed(DefaultPause)
	}
	if o.Sleep == nil {
		o.Sleep = time.Sleep
	}
	return o
}

// Mailbox serializes command word transactions against one register.
type Mailbox struct {
	mu   sync.Mutex
	reg  Register
	opts Options
}

func New(reg Register, opts Options) *Mailbox {
	return &Mailbox{reg: reg, opts: opts.withDefaults()}
}

// Index returns the register the mailbox drives.
func (m *Mailbox) Index() uint32 {
	return m.opts.Index
}

// Retries returns the poll budget per transaction.
func (m *Mailbox) Retries() int {
	return m.opts.Retries
}

// Read returns the value field hardware reports for domain.
func (m *Mailbox) Read(domain Domain) (uint32, error) {
	w, err := m.transact(OpRead, CmdReadVoltage, domain, 0)
	if err != nil {
		return 0, err
	}
	return w.Value(), nil
}

// Write stores value in domain. A failed Write means the caller cannot assume
// hardware applied the value.
func (m *Mailbox) Write(domain Domain, value uint32) error {
	_, err := m.transact(OpWrite, CmdWriteVoltage, domain, value)
	return err
}

func (m *Mailbox) transact(op Op, cmd Command, domain Domain, value uint32) (Word, error) {
	request, err := Encode(cmd, domain, value)
	if err != nil {
		m.observe(op, domain, 0, err)
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.reg.WriteMSR(m.opts.Index, uint64(request)); err != nil {
		err = fmt.Errorf("mailbox: %s domain=%d write command: %w", op, domain, err)
		m.observe(op, domain, 0, err)
		return 0, err
	}

	for attempt := 1; attempt <= m.opts.Retries; attempt++ {
		m.opts.Sleep(retry.NextDelay(m.opts.Backoff, attempt, nil))
		raw, err := m.reg.ReadMSR(m.opts.Index)
		if err != nil {
			err = fmt.Errorf("mailbox: %s domain=%d poll: %w", op, domain, err)
			m.observe(op, domain, attempt, err)
			return 0, err
		}
		response := Word(raw)
		if response.Busy() {
			continue
		}
		if code := response.Response(); code != 0 {
			err := &StatusError{Op: op, Domain: domain, Code: code}
			m.observe(op, domain, attempt, err)
			return 0, err
		}
		if response.Domain() != domain {
			err := &ForeignWordError{Op: op, Domain: domain, Got: response}
			m.observe(op, domain, attempt, err)
			return 0, err
		}
		m.observe(op, domain, attempt, nil)
		return response, nil
	}

	err = &TimeoutError{Op: op, Domain: domain, Attempts: m.opts.Retries}
	m.observe(op, domain, m.opts.Retries, err)
	return 0, err
}

func (m *Mailbox) observe(op Op, domain Domain, attempts int, err error) {
	if m.opts.Observer != nil {
		m.opts.Observer(op, domain, attempts, err)
	}
}

type deviceRegister struct {
	dev msr.Device
}

// DeviceRegister adapts a raw msr.Device to the mailbox register path.
func DeviceRegister(dev msr.Device) Register {
	return deviceRegister{dev: dev}
}

func (r deviceRegister) ReadMSR(index uint32) (uint64, error) {
	return r.dev.Read(index)
}

func (r deviceRegister) WriteMSR(index uint32, value uint64) error {
	return r.dev.Write(index, value)
}
