package store

import (
	"fmt"
	"sync"
)

// MemoryStore implements Store in process memory. Sessions and codes are
// lost on restart.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	seqs     map[string]uint16
	codes    []*LearnedCode
	states   map[string]*DeviceState
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
		seqs:     make(map[string]uint16),
		states:   make(map[string]*DeviceState),
	}
}

func (m *MemoryStore) GetSession(endpoint string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[endpoint]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", endpoint, ErrNotFound)
	}
	return s.Clone(), nil
}

func (m *MemoryStore) PutSession(s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.Endpoint] = s.Clone()
	return nil
}

func (m *MemoryStore) ClearSession(endpoint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, endpoint)
	return nil
}

func (m *MemoryStore) NextSeq(endpoint string) (uint16, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seq, ok := m.seqs[endpoint]
	if ok {
		seq++ // wraps at 0x10000
	}
	m.seqs[endpoint] = seq
	return seq, nil
}

func (m *MemoryStore) SaveCode(code *LearnedCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *code
	m.codes = append(m.codes, &cp)
	return nil
}

func (m *MemoryStore) ListCodes() ([]*LearnedCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*LearnedCode, len(m.codes))
	for i, c := range m.codes {
		cp := *c
		out[i] = &cp
	}
	return out, nil
}

func (m *MemoryStore) GetState(device string) (*DeviceState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[device]
	if !ok {
		return nil, fmt.Errorf("state %s: %w", device, ErrNotFound)
	}
	return cloneState(st), nil
}

func (m *MemoryStore) UpdateState(device string, fn func(st *DeviceState) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[device]
	if !ok {
		st = &DeviceState{Device: device}
	}
	st = cloneState(st)
	if err := fn(st); err != nil {
		return err
	}
	m.states[device] = st
	return nil
}

func (m *MemoryStore) Close() error { return nil }

func cloneState(st *DeviceState) *DeviceState {
	cp := *st
	cp.Properties = make(map[string]any, len(st.Properties))
	for k, v := range st.Properties {
		cp.Properties[k] = v
	}
	return &cp
}
