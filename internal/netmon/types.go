package netmon

import (
	"fmt"
	"strings"
)

// Type is the transport of a network.
type Type int

const (
	TypeNone Type = iota
	TypeWiFi
	TypeCellular
	TypeEthernet
	TypeVPN
	TypeOther
)

func (t Type) String() string {
	switch t {
	case TypeNone:
		return "NONE"
	case TypeWiFi:
		return "WIFI"
	case TypeCellular:
		return "CELLULAR"
	case TypeEthernet:
		return "ETHERNET"
	case TypeVPN:
		return "VPN"
	case TypeOther:
		return "OTHER"
	default:
		return fmt.Sprintf("Type(%d)", int(t))
	}
}

// ParseType parses the names returned by Type.String, case-insensitively.
func ParseType(s string) (Type, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "NONE":
		return TypeNone, nil
	case "WIFI":
		return TypeWiFi, nil
	case "CELLULAR":
		return TypeCellular, nil
	case "ETHERNET":
		return TypeEthernet, nil
	case "VPN":
		return TypeVPN, nil
	case "OTHER":
		return TypeOther, nil
	default:
		return TypeNone, fmt.Errorf("unknown network type: %s", s)
	}
}

// DefaultPreference ranks transports when several networks are usable at once.
var DefaultPreference = []Type{TypeEthernet, TypeWiFi, TypeCellular, TypeVPN, TypeOther}

// EventKind is the kind of connectivity change reported by a Source.
type EventKind int

const (
	// EventAvailable reports a new network.
	EventAvailable EventKind = iota
	// EventLost reports that a network disconnected.
	EventLost
	// EventCapabilitiesChanged reports that a network gained or lost
	// validated internet access without disconnecting.
	EventCapabilitiesChanged
	// EventUnavailable reports that no usable network exists.
	EventUnavailable
)

func (k EventKind) String() string {
	switch k {
	case EventAvailable:
		return "available"
	case EventLost:
		return "lost"
	case EventCapabilitiesChanged:
		return "capabilities_changed"
	case EventUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Event is a connectivity change. Only the fields the monitor needs are carried.
type Event struct {
	Kind      EventKind
	Handle    string
	Transport Type
	Validated bool
	Internet  bool
}

func (e Event) usable() bool {
	return e.Validated && e.Internet
}

// Listener receives network transitions. A reconnection manager implements it.
type Listener interface {
	OnNetworkAvailable(t Type)
	OnNetworkLost()
	OnNetworkTypeChanged(from, to Type)
}

// Listeners fans transitions out to several listeners in order.
type Listeners []Listener

func (ls Listeners) OnNetworkAvailable(t Type) {
	for _, l := range ls {
		l.OnNetworkAvailable(t)
	}
}

func (ls Listeners) OnNetworkLost() {
	for _, l := range ls {
		l.OnNetworkLost()
	}
}

func (ls Listeners) OnNetworkTypeChanged(from, to Type) {
	for _, l := range ls {
		l.OnNetworkTypeChanged(from, to)
	}
}

// Source delivers connectivity events from the platform.
type Source interface {
	// Register starts delivering events to fn, from any goroutine.
	Register(fn func(Event)) error
	// Unregister stops delivery.
	Unregister() error
}

// State is a snapshot of what the monitor knows.
type State struct {
	Online   bool              `json:"online"`
	Type     string            `json:"type"`
	Handle   string            `json:"handle,omitempty"`
	Networks map[string]string `json:"networks"`
}
