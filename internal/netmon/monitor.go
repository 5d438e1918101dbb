package netmon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ricardo-duarte-av/andromuks-sub007/internal/errutil"
)

// ErrMonitoringDisabled is returned by Start when the platform source could
// not be registered. The rest of the application keeps working without
// transition events.
var ErrMonitoringDisabled = errors.New("network monitoring disabled")

type announcement int

const (
	announcedUnknown announcement = iota
	announcedOnline
	announcedOffline
)

// Monitor turns raw connectivity events into debounced transitions.
//
// Events are queued by the source callback and handled on a single goroutine,
// so listener callbacks never run on the platform's callback thread and never
// overlap each other.
type Monitor struct {
	listener   Listener
	source     Source
	preference map[Type]int

	mu        sync.Mutex
	networks  map[string]Type
	current   Type
	handle    string
	announced announcement

	events chan Event
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithPreference overrides DefaultPreference. Transports not listed rank last.
func WithPreference(order ...Type) Option {
	return func(m *Monitor) {
		m.preference = rank(order)
	}
}

// WithBuffer sets how many events may be queued before the source blocks.
func WithBuffer(n int) Option {
	return func(m *Monitor) {
		if n > 0 {
			m.events = make(chan Event, n)
		}
	}
}

func NewMonitor(source Source, listener Listener, opts ...Option) *Monitor {
	m := &Monitor{
		listener:   listener,
		source:     source,
		preference: rank(DefaultPreference),
		networks:   make(map[string]Type),
		events:     make(chan Event, 64),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func rank(order []Type) map[Type]int {
	r := make(map[Type]int, len(order))
	for i, t := range order {
		if _, dup := r[t]; !dup {
			r[t] = i
		}
	}
	return r
}

// Start registers with the source and begins dispatching events until ctx is
// cancelled or Stop is called.
func (m *Monitor) Start(ctx context.Context) error {
	if m.source == nil {
		return fmt.Errorf("%w: no source", ErrMonitoringDisabled)
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	if err := m.source.Register(func(e Event) {
		select {
		case m.events <- e:
		case <-ctx.Done():
		}
	}); err != nil {
		cancel()
		slog.Warn("Network monitoring unavailable", "error", err)
		return fmt.Errorf("%w: %w", ErrMonitoringDisabled, err)
	}

	m.mu.Lock()
	m.cancel = cancel
	m.done = done
	m.mu.Unlock()

	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case e := <-m.events:
				m.HandleEvent(e)
			}
		}
	}()
	slog.Info("Network monitor started")
	return nil
}

// Stop unregisters from the source and waits for the dispatch loop to exit.
// Unregistration errors are logged and otherwise ignored.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()
	if cancel == nil {
		return
	}

	errutil.LogMsg(m.source.Unregister(), "Failed to unregister network callback")
	cancel()
	<-done
	slog.Info("Network monitor stopped")
}

// State returns what the monitor currently believes.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	nets := make(map[string]string, len(m.networks))
	for h, t := range m.networks {
		nets[h] = t.String()
	}
	return State{
		Online:   m.current != TypeNone,
		Type:     m.current.String(),
		Handle:   m.handle,
		Networks: nets,
	}
}

// Current returns the active transport, TypeNone when offline.
func (m *Monitor) Current() Type {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// HandleEvent applies a single event and notifies the listener. It is safe
// to call directly when no Source is used.
func (m *Monitor) HandleEvent(e Event) {
	m.mu.Lock()
	var out []func(Listener)
	switch e.Kind {
	case EventAvailable:
		if e.usable() {
			out = m.addLocked(e.Handle, e.Transport)
		}
	case EventLost:
		out = m.removeLocked(e.Handle, true)
	case EventCapabilitiesChanged:
		t, tracked := m.networks[e.Handle]
		switch {
		case e.usable() && !tracked:
			out = m.addLocked(e.Handle, e.Transport)
		case !e.usable() && tracked:
			out = m.removeLocked(e.Handle, false)
		case tracked && t != e.Transport && e.Transport != TypeNone:
			m.networks[e.Handle] = e.Transport
			out = m.retypeLocked(e.Handle)
		}
	case EventUnavailable:
		m.networks = make(map[string]Type)
		m.current, m.handle = TypeNone, ""
		out = m.announceLostLocked()
	}
	m.mu.Unlock()

	slog.Debug("Network event", "kind", e.Kind, "handle", e.Handle, "transport", e.Transport, "transitions", len(out))
	if m.listener == nil {
		return
	}
	for _, fn := range out {
		fn(m.listener)
	}
}

func (m *Monitor) addLocked(handle string, t Type) []func(Listener) {
	m.networks[handle] = t
	next, preferred := m.pickLocked()
	prev, prevHandle := m.current, m.handle

	if prev == TypeNone {
		m.current, m.handle = preferred, next
		m.announced = announcedOnline
		slog.Info("Network available", "type", preferred)
		return []func(Listener){func(l Listener) { l.OnNetworkAvailable(preferred) }}
	}
	if _, stillUp := m.networks[prevHandle]; !stillUp && prev != preferred {
		m.current, m.handle = preferred, next
		slog.Info("Network type changed", "from", prev, "to", preferred)
		return []func(Listener){
			func(l Listener) { l.OnNetworkTypeChanged(prev, preferred) },
			func(l Listener) { l.OnNetworkAvailable(preferred) },
		}
	}
	// The old network still works, so switching costs nothing visible.
	m.current, m.handle = preferred, next
	return nil
}

// removeLocked drops a network. hard reports an actual disconnect rather than
// a loss of validation; only a hard loss of the last network is announced.
func (m *Monitor) removeLocked(handle string, hard bool) []func(Listener) {
	if _, tracked := m.networks[handle]; !tracked {
		// A disconnect after the active network already lost validation.
		if hard && m.current == TypeNone && len(m.networks) == 0 && m.announced == announcedOnline {
			return m.announceLostLocked()
		}
		return nil
	}
	delete(m.networks, handle)
	if handle != m.handle {
		return nil
	}

	prev := m.current
	if next, preferred := m.pickLocked(); preferred != TypeNone {
		m.current, m.handle = preferred, next
		m.announced = announcedOnline
		// Announced even when the transport is unchanged.
		slog.Info("Network type changed", "from", prev, "to", preferred, "handle", next)
		return []func(Listener){
			func(l Listener) { l.OnNetworkTypeChanged(prev, preferred) },
			func(l Listener) { l.OnNetworkAvailable(preferred) },
		}
	}

	m.current, m.handle = TypeNone, ""
	if !hard {
		slog.Info("Active network lost validation", "type", prev)
		return nil
	}
	return m.announceLostLocked()
}

// retypeLocked re-ranks the networks after handle changed transport. Only a
// transport change of the network that stays active is announced.
func (m *Monitor) retypeLocked(handle string) []func(Listener) {
	prev, prevHandle := m.current, m.handle
	if prev == TypeNone {
		return nil
	}
	next, preferred := m.pickLocked()
	m.current, m.handle = preferred, next
	if handle != prevHandle || next != prevHandle || preferred == prev {
		return nil
	}
	slog.Info("Network type changed", "from", prev, "to", preferred, "handle", next)
	return []func(Listener){
		func(l Listener) { l.OnNetworkTypeChanged(prev, preferred) },
		func(l Listener) { l.OnNetworkAvailable(preferred) },
	}
}

func (m *Monitor) announceLostLocked() []func(Listener) {
	if m.announced == announcedOffline {
		return nil
	}
	m.announced = announcedOffline
	slog.Info("Network lost")
	return []func(Listener){func(l Listener) { l.OnNetworkLost() }}
}

// pickLocked returns the preferred network, ties broken by handle.
func (m *Monitor) pickLocked() (string, Type) {
	var (
		bestHandle string
		best       = TypeNone
		bestRank   int
	)
	for h, t := range m.networks {
		r, ok := m.preference[t]
		if !ok {
			r = len(m.preference)
		}
		if best == TypeNone || r < bestRank || (r == bestRank && h < bestHandle) {
			bestHandle, best, bestRank = h, t, r
		}
	}
	return bestHandle, best
}
