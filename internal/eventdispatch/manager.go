package eventdispatch

import "sync"

// DefaultChannel is the channel name used when a caller does not specify
// one.
const DefaultChannel = ""

// DispatchManager is a process-wide registry of channel name → EventDispatch.
// Lookups from the registration manager or from a Registration must create
// the channel's dispatch if it is not yet present (lazy creation).
type DispatchManager struct {
	mu        sync.RWMutex
	dispatchers map[string]*EventDispatch
}

// NewDispatchManager returns an empty manager. The default channel's
// dispatch is created lazily on first use, same as any other channel.
func NewDispatchManager() *DispatchManager {
	return &DispatchManager{dispatchers: make(map[string]*EventDispatch)}
}

// DefaultDispatch returns the dispatch for DefaultChannel, creating it if
// necessary.
func (m *DispatchManager) DefaultDispatch() *EventDispatch {
	return m.AddEventDispatch(DefaultChannel)
}

// AddEventDispatch returns the dispatch for channel, creating it if it does
// not already exist. Safe to call repeatedly; it never replaces an
// existing dispatch.
func (m *DispatchManager) AddEventDispatch(channel string) *EventDispatch {
	m.mu.RLock()
	d, ok := m.dispatchers[channel]
	m.mu.RUnlock()
	if ok {
		return d
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.dispatchers[channel]; ok {
		return d
	}
	d = NewEventDispatch(channel)
	m.dispatchers[channel] = d
	return d
}

// RemoveEventDispatch drops channel's dispatch, if present. Per spec.md
// §4.2, dispatches are never destroyed by normal operation; this exists
// for completeness and test cleanup.
func (m *DispatchManager) RemoveEventDispatch(channel string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.dispatchers, channel)
}

// EventDispatchers returns a snapshot of every channel currently known to
// the manager.
func (m *DispatchManager) EventDispatchers() map[string]*EventDispatch {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]*EventDispatch, len(m.dispatchers))
	for k, v := range m.dispatchers {
		out[k] = v
	}
	return out
}

// Get returns the dispatch for channel and whether it already existed,
// without creating it.
func (m *DispatchManager) Get(channel string) (*EventDispatch, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.dispatchers[channel]
	return d, ok
}
