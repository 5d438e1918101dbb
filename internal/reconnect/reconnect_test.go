package reconnect

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ricardo-duarte-av/andromuks-sub007/internal/netmon"
)

type fakeConn struct {
	mu         sync.Mutex
	connects   int
	closes     int
	failNext   int
	alwaysFail bool
}

func (f *fakeConn) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if f.alwaysFail {
		return errors.New("connection refused")
	}
	if f.failNext > 0 {
		f.failNext--
		return errors.New("connection refused")
	}
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeConn) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects, f.closes
}

func (f *fakeConn) setAlwaysFail(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alwaysFail = v
}

func fastConfig() Config {
	return Config{InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2, ConnectTimeout: time.Second}
}

func waitState(t *testing.T, m *Manager, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return m.State() == want }, 2*time.Second, time.Millisecond, "want state %s, got %s", want, m.State())
}

func TestState_String(t *testing.T) {
	tests := map[State]string{
		StateDisconnected: "disconnected",
		StateConnecting:   "connecting",
		StateConnected:    "connected",
		StateReconnecting: "reconnecting",
		StateFailed:       "failed",
		State(99):         "unknown",
	}
	for s, want := range tests {
		assert.Equal(t, want, s.String())
	}
}

func TestManager_NetworkTransitions(t *testing.T) {
	conn := &fakeConn{}
	m := New(conn, fastConfig())
	m.Start(t.Context())
	defer m.Stop()

	waitState(t, m, StateConnected)

	t.Run("Lost drops the connection and stays idle", func(t *testing.T) {
		m.OnNetworkLost()
		waitState(t, m, StateDisconnected)
		connects, closes := conn.counts()
		assert.Equal(t, 1, closes)

		time.Sleep(20 * time.Millisecond)
		after, _ := conn.counts()
		assert.Equal(t, connects, after, "no reconnect attempts while offline")
	})

	t.Run("Available reconnects", func(t *testing.T) {
		m.OnNetworkAvailable(netmon.TypeCellular)
		waitState(t, m, StateConnected)
		assert.Equal(t, "CELLULAR", m.Stats().Network)
	})

	t.Run("Type change forces a fresh connection", func(t *testing.T) {
		before, closesBefore := conn.counts()
		m.OnNetworkTypeChanged(netmon.TypeCellular, netmon.TypeWiFi)
		require.Eventually(t, func() bool {
			c, cl := conn.counts()
			return c == before+1 && cl == closesBefore+1 && m.State() == StateConnected
		}, 2*time.Second, time.Millisecond)
	})
}

func TestManager_SameTransportHandover(t *testing.T) {
	conn := &fakeConn{}
	m := New(conn, fastConfig())
	m.Start(t.Context())
	defer m.Stop()

	mon := netmon.NewMonitor(nil, m)
	mon.HandleEvent(netmon.Event{Kind: netmon.EventAvailable, Handle: "wlan0", Transport: netmon.TypeWiFi, Validated: true, Internet: true})
	waitState(t, m, StateConnected)
	mon.HandleEvent(netmon.Event{Kind: netmon.EventAvailable, Handle: "wlan1", Transport: netmon.TypeWiFi, Validated: true, Internet: true})

	before, closesBefore := conn.counts()
	mon.HandleEvent(netmon.Event{Kind: netmon.EventLost, Handle: "wlan0"})
	require.Eventually(t, func() bool {
		c, cl := conn.counts()
		return c == before+1 && cl == closesBefore+1 && m.State() == StateConnected
	}, 2*time.Second, time.Millisecond, "the connection bound to wlan0 must be replaced")
	assert.Equal(t, "WIFI", m.Stats().Network)
}

func TestManager_Backoff(t *testing.T) {
	conn := &fakeConn{failNext: 3}
	m := New(conn, fastConfig())
	m.Start(t.Context())
	defer m.Stop()

	waitState(t, m, StateConnected)
	connects, _ := conn.counts()
	assert.Equal(t, 4, connects)
	st := m.Stats()
	assert.Empty(t, st.LastError)
	assert.NotNil(t, st.ConnectedAt)
}

func TestManager_GivesUpUntilNetworkChanges(t *testing.T) {
	conn := &fakeConn{alwaysFail: true}
	cfg := fastConfig()
	cfg.MaxAttempts = 2
	m := New(conn, cfg)
	m.Start(t.Context())
	defer m.Stop()

	waitState(t, m, StateFailed)
	connects, _ := conn.counts()
	assert.Equal(t, 2, connects)
	assert.Contains(t, m.Stats().LastError, "connection refused")

	conn.setAlwaysFail(false)
	m.OnNetworkAvailable(netmon.TypeWiFi)
	waitState(t, m, StateConnected)
}

func TestManager_StopClosesConnection(t *testing.T) {
	conn := &fakeConn{}
	m := New(conn, fastConfig())
	m.Start(context.Background())
	waitState(t, m, StateConnected)

	m.Stop()
	m.Stop()
	_, closes := conn.counts()
	assert.Equal(t, 1, closes)
	assert.Equal(t, StateDisconnected, m.State())
}

func TestHTTPConnector(t *testing.T) {
	status := http.StatusOK
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		w.WriteHeader(status)
	}))
	defer srv.Close()

	c := &HTTPConnector{Client: srv.Client(), URL: srv.URL}
	require.NoError(t, c.Connect(t.Context()))
	assert.NoError(t, c.Close())
	assert.Error(t, c.Close(), "closing twice reports not connected")

	mu.Lock()
	status = http.StatusServiceUnavailable
	mu.Unlock()
	assert.Error(t, c.Connect(t.Context()))
}
