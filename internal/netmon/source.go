package netmon

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/ricardo-duarte-av/andromuks-sub007/internal/errutil"
)

// DefaultPollInterval is how often InterfaceSource rescans interfaces.
const DefaultPollInterval = 2 * time.Second

var errAlreadyRegistered = errors.New("source already registered")

// Link is one network interface as seen by InterfaceSource.
type Link struct {
	Name      string
	Transport Type
	// Usable is set when the link is up and carries a global unicast address.
	Usable bool
}

// InterfaceSource reports connectivity by polling the host's interfaces.
// Each interface name is used as the event handle.
type InterfaceSource struct {
	Interval time.Duration
	// List returns the current links. It defaults to ListLinks.
	List func() ([]Link, error)

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

func NewInterfaceSource(interval time.Duration) *InterfaceSource {
	return &InterfaceSource{Interval: interval}
}

func (s *InterfaceSource) Register(fn func(Event)) error {
	list := s.List
	if list == nil {
		list = ListLinks
	}
	// Fail registration when interfaces cannot be read at all.
	first, err := list()
	if err != nil {
		return fmt.Errorf("failed to list interfaces: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return errAlreadyRegistered
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})

	interval := s.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	go s.poll(fn, list, first, interval, s.stop, s.done)
	return nil
}

func (s *InterfaceSource) Unregister() error {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.mu.Unlock()
	if stop == nil {
		return nil
	}
	close(stop)
	<-done
	return nil
}

func (s *InterfaceSource) poll(fn func(Event), list func() ([]Link, error), first []Link, interval time.Duration, stop, done chan struct{}) {
	defer close(done)

	prev := emitDiff(fn, nil, first, true)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			links, err := list()
			if err != nil {
				errutil.LogMsg(err, "Failed to list interfaces")
				continue
			}
			prev = emitDiff(fn, prev, links, false)
		}
	}
}

// emitDiff reports the changes between prev and links and returns the new
// snapshot. Unavailable is reported when no usable link remains, or on the
// first scan when none exists.
func emitDiff(fn func(Event), prev map[string]Link, links []Link, initial bool) map[string]Link {
	next := make(map[string]Link, len(links))
	var usable, lostUsable int
	for _, l := range links {
		if l.Transport == TypeNone {
			continue
		}
		next[l.Name] = l
		if l.Usable {
			usable++
		}

		old, seen := prev[l.Name]
		switch {
		case !seen:
			fn(Event{Kind: EventAvailable, Handle: l.Name, Transport: l.Transport, Validated: l.Usable, Internet: l.Usable})
		case old.Usable != l.Usable || old.Transport != l.Transport:
			if old.Usable && !l.Usable {
				lostUsable++
			}
			fn(Event{Kind: EventCapabilitiesChanged, Handle: l.Name, Transport: l.Transport, Validated: l.Usable, Internet: l.Usable})
		}
	}
	for name, old := range prev {
		if _, ok := next[name]; !ok {
			if old.Usable {
				lostUsable++
			}
			fn(Event{Kind: EventLost, Handle: name, Transport: old.Transport})
		}
	}
	if usable == 0 && (initial || lostUsable > 0) {
		fn(Event{Kind: EventUnavailable})
	}
	return next
}

// ListLinks reads the host's interfaces. Loopback and virtual bridge
// interfaces are skipped.
func ListLinks() ([]Link, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	links := make([]Link, 0, len(ifaces))
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		t := Classify(iface.Name)
		if t == TypeNone {
			continue
		}
		l := Link{Name: iface.Name, Transport: t}
		if iface.Flags&net.FlagUp != 0 && iface.Flags&net.FlagRunning != 0 {
			addrs, err := iface.Addrs()
			if err != nil {
				slog.Debug("Failed to read interface addresses", "iface", iface.Name, "error", err)
			}
			for _, a := range addrs {
				if ipn, ok := a.(*net.IPNet); ok && ipn.IP.IsGlobalUnicast() {
					l.Usable = true
					break
				}
			}
		}
		links = append(links, l)
	}
	return links, nil
}

var transportPrefixes = []struct {
	prefix string
	t      Type
}{
	{"lo", TypeNone},
	{"docker", TypeNone},
	{"veth", TypeNone},
	{"virbr", TypeNone},
	{"br-", TypeNone},
	{"wlan", TypeWiFi},
	{"wl", TypeWiFi},
	{"rmnet", TypeCellular},
	{"ccmni", TypeCellular},
	{"wwan", TypeCellular},
	{"ww", TypeCellular},
	{"eth", TypeEthernet},
	{"en", TypeEthernet},
	{"tun", TypeVPN},
	{"tap", TypeVPN},
	{"wg", TypeVPN},
	{"ppp", TypeVPN},
	{"utun", TypeVPN},
	{"ipsec", TypeVPN},
}

// Classify guesses an interface's transport from its name. TypeNone means
// the interface should be ignored.
func Classify(name string) Type {
	n := strings.ToLower(name)
	for _, p := range transportPrefixes {
		if strings.HasPrefix(n, p.prefix) {
			return p.t
		}
	}
	return TypeOther
}
