package mailbox

import "sync"

// Simulator stands in for mailbox hardware behind an in-memory register
// (msr.Memory.Hook). Written commands complete after Latency busy polls.
type Simulator struct {
	mu      sync.Mutex
	values  map[Domain]uint32
	current Word
	pending Word
	waiting int
	latency int
	stuck   bool
	writes  int
}

func NewSimulator() *Simulator {
	return &Simulator{values: make(map[Domain]uint32)}
}

// NewStuckSimulator returns hardware that never clears the busy bit.
func NewStuckSimulator() *Simulator {
	s := NewSimulator()
	s.stuck = true
	return s
}

// SetLatency makes each command report busy for n polls before completing.
func (s *Simulator) SetLatency(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latency = n
}

// Value returns the stored value field for domain.
func (s *Simulator) Value(domain Domain) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[domain]
}

// SetValue seeds the stored value field for domain.
func (s *Simulator) SetValue(domain Domain, value uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[domain] = value & uint32(valueMask)
}

// Commands returns how many busy command words were written.
func (s *Simulator) Commands() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func (s *Simulator) Store(value uint64) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := Word(value)
	s.current = w
	s.waiting = 0
	if !w.Busy() {
		return value
	}
	s.writes++
	if s.stuck {
		return value
	}
	result := s.execute(w)
	if s.latency > 0 {
		s.pending = result
		s.waiting = s.latency
		return value
	}
	s.current = result
	return uint64(result)
}

func (s *Simulator) Load(uint64) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.waiting > 0 {
		s.waiting--
		busy := s.current
		if s.waiting == 0 {
			s.current = s.pending
		}
		return uint64(busy)
	}
	return uint64(s.current)
}

func (s *Simulator) execute(w Word) Word {
	domain := w.Domain()
	switch w.Command() {
	case CmdWriteVoltage:
		s.values[domain] = w.Value()
	case CmdReadVoltage:
	default:
		return Word(uint64(1)<<ResponseOffset | uint64(domain)<<DomainOffset)
	}
	return Word(uint64(domain)<<DomainOffset | uint64(s.values[domain])<<ValueOffset)
}
