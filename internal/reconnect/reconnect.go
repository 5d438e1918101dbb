// Package reconnect keeps the sync backend connection alive across network
// transitions.
package reconnect

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ricardo-duarte-av/andromuks-sub007/internal/errutil"
	"github.com/ricardo-duarte-av/andromuks-sub007/internal/netmon"
)

// State of the managed connection.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	// StateFailed means retries were exhausted. A network change clears it.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Connector opens and closes the backend connection.
type Connector interface {
	Connect(ctx context.Context) error
	Close() error
}

// Config controls reconnection backoff.
type Config struct {
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	Multiplier     float64
	MaxAttempts    int // 0 means unlimited
	ConnectTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		InitialDelay:   time.Second,
		MaxDelay:       time.Minute,
		Multiplier:     2.0,
		MaxAttempts:    10,
		ConnectTimeout: 30 * time.Second,
	}
}

// Stats describes the connection for status endpoints.
type Stats struct {
	State       string     `json:"state"`
	Connected   bool       `json:"connected"`
	Network     string     `json:"network"`
	ConnectedAt *time.Time `json:"connected_at,omitempty"`
	Attempt     int        `json:"attempt"`
	LastError   string     `json:"last_error,omitempty"`
}

// Manager reacts to network transitions by dropping and re-establishing the
// connection. All Connect and Close calls happen on one goroutine.
type Manager struct {
	conn Connector
	cfg  Config

	mu          sync.Mutex
	state       State
	online      bool
	force       bool
	reset       bool
	network     netmon.Type
	attempt     int
	lastErr     error
	connectedAt time.Time

	kick   chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

var _ netmon.Listener = (*Manager)(nil)

// New returns a Manager that assumes the network is up until told otherwise.
func New(conn Connector, cfg Config) *Manager {
	def := DefaultConfig()
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = def.InitialDelay
	}
	if cfg.MaxDelay < cfg.InitialDelay {
		cfg.MaxDelay = cfg.InitialDelay
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = def.Multiplier
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	return &Manager{
		conn:   conn,
		cfg:    cfg,
		online: true,
		kick:   make(chan struct{}, 1),
	}
}

// Start runs the connection loop until ctx is cancelled or Stop is called.
func (m *Manager) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		cancel()
		return
	}
	m.cancel, m.done = cancel, done
	m.mu.Unlock()

	go m.run(ctx, done)
}

// Stop closes the connection and waits for the loop to exit.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (m *Manager) OnNetworkAvailable(t netmon.Type) {
	m.mu.Lock()
	m.online = true
	m.network = t
	m.reset = true
	m.mu.Unlock()
	slog.Info("Network available, reconnecting", "network", t)
	m.wake()
}

func (m *Manager) OnNetworkLost() {
	m.mu.Lock()
	m.online = false
	m.network = netmon.TypeNone
	m.mu.Unlock()
	slog.Info("Network lost, dropping connection")
	m.wake()
}

func (m *Manager) OnNetworkTypeChanged(from, to netmon.Type) {
	m.mu.Lock()
	m.force = true
	m.network = to
	m.mu.Unlock()
	slog.Info("Network type changed, forcing reconnect", "from", from, "to", to)
	m.wake()
}

// ConnectionLost reports that the backend dropped the connection on its own.
func (m *Manager) ConnectionLost(err error) {
	m.mu.Lock()
	m.force = true
	m.lastErr = err
	m.mu.Unlock()
	errutil.LogMsg(err, "Backend connection lost")
	m.wake()
}

func (m *Manager) wake() {
	select {
	case m.kick <- struct{}{}:
	default:
	}
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Stats{
		State:     m.state.String(),
		Connected: m.state == StateConnected,
		Network:   m.network.String(),
		Attempt:   m.attempt,
	}
	if m.state == StateConnected {
		at := m.connectedAt
		st.ConnectedAt = &at
	}
	if m.lastErr != nil {
		st.LastError = m.lastErr.Error()
	}
	return st
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *Manager) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	var retry *time.Timer
	stopRetry := func() {
		if retry != nil {
			retry.Stop()
			retry = nil
		}
	}
	defer stopRetry()
	delay := m.cfg.InitialDelay

	for {
		m.mu.Lock()
		online, force, reset := m.online, m.force, m.reset
		m.force, m.reset = false, false
		state := m.state
		if reset {
			m.attempt = 0
			if state == StateFailed {
				m.state, state = StateDisconnected, StateDisconnected
			}
		}
		m.mu.Unlock()

		if reset {
			delay = m.cfg.InitialDelay
			stopRetry()
		}

		switch {
		case !online:
			stopRetry()
			if state != StateDisconnected {
				m.disconnect()
				state = StateDisconnected
			}
		case force && state == StateConnected:
			m.disconnect()
			m.setState(StateReconnecting)
			state = StateReconnecting
		}

		if online && state != StateConnected && state != StateFailed && retry == nil {
			if err := m.connect(ctx); err != nil {
				if ctx.Err() != nil {
					m.disconnect()
					return
				}
				if m.exhausted() {
					slog.Error("Giving up reconnecting until the network changes", "attempts", m.cfg.MaxAttempts)
					m.setState(StateFailed)
				} else {
					slog.Info("Scheduling reconnection", "delay", delay)
					retry = time.NewTimer(delay)
					delay = time.Duration(float64(delay) * m.cfg.Multiplier)
					if delay > m.cfg.MaxDelay {
						delay = m.cfg.MaxDelay
					}
				}
			} else {
				delay = m.cfg.InitialDelay
			}
		}

		var retryC <-chan time.Time
		if retry != nil {
			retryC = retry.C
		}
		select {
		case <-ctx.Done():
			m.disconnect()
			return
		case <-m.kick:
		case <-retryC:
			retry = nil
		}
	}
}

func (m *Manager) connect(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateReconnecting {
		m.state = StateConnecting
	}
	m.attempt++
	attempt := m.attempt
	m.mu.Unlock()

	cctx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer cancel()
	err := m.conn.Connect(cctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.lastErr = err
		m.state = StateReconnecting
		slog.Warn("Connection attempt failed", "attempt", attempt, "error", err)
		return fmt.Errorf("connect attempt %d: %w", attempt, err)
	}
	m.state = StateConnected
	m.connectedAt = time.Now()
	m.attempt = 0
	m.lastErr = nil
	slog.Info("Connection established", "attempt", attempt)
	return nil
}

func (m *Manager) disconnect() {
	if m.State() == StateConnected {
		errutil.LogMsg(m.conn.Close(), "Failed to close connection")
	}
	m.setState(StateDisconnected)
}

func (m *Manager) exhausted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg.MaxAttempts > 0 && m.attempt >= m.cfg.MaxAttempts
}

var errNotConnected = errors.New("not connected")

// HTTPConnector treats a successful GET of URL as an open connection.
type HTTPConnector struct {
	Client *http.Client
	URL    string

	mu        sync.Mutex
	connected bool
}

func (c *HTTPConnector) Connect(ctx context.Context) error {
	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer errutil.Close(resp.Body, "Failed to close probe response")
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("backend probe returned %d", resp.StatusCode)
	}
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	return nil
}

func (c *HTTPConnector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return errNotConnected
	}
	c.connected = false
	return nil
}
