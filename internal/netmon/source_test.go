package netmon

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := map[string]Type{
		"wlan0":       TypeWiFi,
		"wlp3s0":      TypeWiFi,
		"rmnet_data0": TypeCellular,
		"wwan0":       TypeCellular,
		"eth0":        TypeEthernet,
		"enp0s31f6":   TypeEthernet,
		"tun0":        TypeVPN,
		"wg0":         TypeVPN,
		"lo":          TypeNone,
		"docker0":     TypeNone,
		"br-1234":     TypeNone,
		"ib0":         TypeOther,
	}
	for name, want := range tests {
		assert.Equal(t, want, Classify(name), name)
	}
}

func TestEmitDiff(t *testing.T) {
	var got []Event
	fn := func(e Event) { got = append(got, e) }

	prev := emitDiff(fn, nil, nil, true)
	require.Len(t, got, 1)
	assert.Equal(t, EventUnavailable, got[0].Kind, "an empty first scan reports no network")

	got = nil
	prev = emitDiff(fn, prev, []Link{{Name: "wlan0", Transport: TypeWiFi, Usable: true}, {Name: "lo", Transport: TypeNone}}, false)
	require.Len(t, got, 1)
	assert.Equal(t, up("wlan0", TypeWiFi), got[0])

	got = nil
	prev = emitDiff(fn, prev, []Link{{Name: "wlan0", Transport: TypeWiFi, Usable: true}}, false)
	assert.Empty(t, got, "unchanged links emit nothing")

	got = nil
	prev = emitDiff(fn, prev, []Link{{Name: "wlan0", Transport: TypeWiFi}}, false)
	require.Len(t, got, 2)
	assert.Equal(t, EventCapabilitiesChanged, got[0].Kind)
	assert.False(t, got[0].Validated)
	assert.Equal(t, EventUnavailable, got[1].Kind)

	got = nil
	emitDiff(fn, prev, nil, false)
	require.Len(t, got, 1)
	assert.Equal(t, lost("wlan0").Handle, got[0].Handle)
	assert.Equal(t, EventLost, got[0].Kind)
}

func TestInterfaceSource_DrivesMonitor(t *testing.T) {
	var mu sync.Mutex
	links := []Link{{Name: "wlan0", Transport: TypeWiFi, Usable: true}}
	src := &InterfaceSource{
		Interval: 5 * time.Millisecond,
		List: func() ([]Link, error) {
			mu.Lock()
			defer mu.Unlock()
			return append([]Link(nil), links...), nil
		},
	}

	rec := &recorder{}
	m := NewMonitor(src, rec)
	require.NoError(t, m.Start(t.Context()))
	defer m.Stop()

	require.Eventually(t, func() bool { return m.Current() == TypeWiFi }, time.Second, 5*time.Millisecond)

	mu.Lock()
	links = []Link{{Name: "rmnet0", Transport: TypeCellular, Usable: true}}
	mu.Unlock()
	require.Eventually(t, func() bool { return m.Current() == TypeCellular }, time.Second, 5*time.Millisecond)

	mu.Lock()
	links = nil
	mu.Unlock()
	require.Eventually(t, func() bool { return !m.State().Online }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.events) > 0 && rec.events[len(rec.events)-1] == "lost"
	}, time.Second, 5*time.Millisecond)

	var lostCount int
	for _, e := range rec.take() {
		if e == "lost" {
			lostCount++
		}
	}
	assert.Equal(t, 1, lostCount)
}

func TestInterfaceSource_RegisterErrors(t *testing.T) {
	src := &InterfaceSource{List: func() ([]Link, error) { return nil, errors.New("netlink unavailable") }}
	assert.Error(t, src.Register(func(Event) {}))

	src = &InterfaceSource{Interval: time.Hour, List: func() ([]Link, error) { return nil, nil }}
	require.NoError(t, src.Register(func(Event) {}))
	assert.ErrorIs(t, src.Register(func(Event) {}), errAlreadyRegistered)
	assert.NoError(t, src.Unregister())
	assert.NoError(t, src.Unregister())
}
