package scheduler

import (
	"fmt"
	"strings"
	"sync"
)

// NetworkType is the host's current connectivity.
type NetworkType int

const (
	NetworkUnknown NetworkType = iota
	NetworkWiFi
	NetworkCellular
	NetworkNone
)

func (n NetworkType) String() string {
	switch n {
	case NetworkWiFi:
		return "wifi"
	case NetworkCellular:
		return "cellular"
	case NetworkNone:
		return "none"
	default:
		return "unknown"
	}
}

// ParseNetworkType accepts wifi, ethernet, cellular, metered, none and
// unknown.
func ParseNetworkType(s string) (NetworkType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "unknown":
		return NetworkUnknown, nil
	case "wifi", "ethernet":
		return NetworkWiFi, nil
	case "cellular", "metered":
		return NetworkCellular, nil
	case "none", "offline":
		return NetworkNone, nil
	}
	return NetworkUnknown, fmt.Errorf("unknown network type %q", s)
}

// DeviceState is a snapshot of the conditions the scheduler adapts to.
type DeviceState struct {
	// BatteryLevel is in [0,1]. A negative value means unknown.
	BatteryLevel float64     `json:"batteryLevel"`
	Charging     bool        `json:"charging"`
	Network      NetworkType `json:"network"`
}

// DeviceMonitor reports the current device state.
type DeviceMonitor interface {
	DeviceState() DeviceState
}

// StaticDevice is a DeviceMonitor whose state is pushed by the host.
type StaticDevice struct {
	mu    sync.RWMutex
	state DeviceState
}

func NewStaticDevice(s DeviceState) *StaticDevice {
	return &StaticDevice{state: s}
}

func (d *StaticDevice) DeviceState() DeviceState {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

// Set replaces the reported state.
func (d *StaticDevice) Set(s DeviceState) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
}

func (n NetworkType) MarshalText() ([]byte, error) { return []byte(n.String()), nil }

func (n *NetworkType) UnmarshalText(b []byte) error {
	v, err := ParseNetworkType(string(b))
	if err != nil {
		return err
	}
	*n = v
	return nil
}
