package msr

import (
	"fmt"
	"sync"
)

// RegisterHook gives one in-memory register hardware-like behavior.
// Store maps a written value to the value kept in the register; Load maps the
// kept value to what a read observes.
type RegisterHook interface {
	Store(value uint64) uint64
	Load(stored uint64) uint64
}

// Memory is a concurrency-safe Device kept entirely in process memory.
type Memory struct {
	mu     sync.Mutex
	regs   map[uint32]uint64
	hooks  map[uint32]RegisterHook
	strict bool
	closed bool
	reads  uint64
	writes uint64
}

// NewMemory returns an empty register file. Unknown indexes read as zero.
func NewMemory() *Memory {
	return &Memory{
		regs:  make(map[uint32]uint64),
		hooks: make(map[uint32]RegisterHook),
	}
}

// NewStrictMemory returns a register file where only preset or hooked indexes
// exist; anything else behaves like a faulting index.
func NewStrictMemory(preset map[uint32]uint64) *Memory {
	m := NewMemory()
	m.strict = true
	for index, value := range preset {
		m.regs[index] = value
	}
	return m
}

// Set stores value directly, bypassing any hook.
func (m *Memory) Set(index uint32, value uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.regs[index] = value
}

// Hook installs behavior for index.
func (m *Memory) Hook(index uint32, hook RegisterHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks[index] = hook
	if _, ok := m.regs[index]; !ok {
		m.regs[index] = 0
	}
}

// Counts returns how many reads and writes reached the device.
func (m *Memory) Counts() (reads, writes uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads, m.writes
}

func (m *Memory) Read(index uint32) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	stored, ok := m.regs[index]
	if !ok && m.strict {
		return 0, fmt.Errorf("%w: read 0x%x", ErrHardwareFault, index)
	}
	m.reads++
	if hook, ok := m.hooks[index]; ok {
		return hook.Load(stored), nil
	}
	return stored, nil
}

func (m *Memory) Write(index uint32, value uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if _, ok := m.regs[index]; !ok && m.strict {
		return fmt.Errorf("%w: write 0x%x", ErrHardwareFault, index)
	}
	m.writes++
	if hook, ok := m.hooks[index]; ok {
		value = hook.Store(value)
	}
	m.regs[index] = value
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
