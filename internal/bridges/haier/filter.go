package haier

import (
	"fmt"
	"slices"
)

// Device filter modes.
const (
	FilterInclude = "include"
	FilterExclude = "exclude"
)

// DeviceFilter selects which devices are listened to. Include keeps only
// the targets; exclude drops them, so exclude with no targets keeps all.
type DeviceFilter struct {
	Mode    string
	Targets []string
}

// Validate checks the mode.
func (f DeviceFilter) Validate() error {
	switch f.Mode {
	case "", FilterInclude, FilterExclude:
		return nil
	default:
		return fmt.Errorf("unknown device filter mode %q", f.Mode)
	}
}

// Allows reports whether deviceID passes the filter.
func (f DeviceFilter) Allows(deviceID string) bool {
	listed := slices.Contains(f.Targets, deviceID)
	if f.Mode == FilterInclude {
		return listed
	}
	return !listed
}

// Apply returns the devices that pass, in their original order.
func (f DeviceFilter) Apply(devices []Device) []Device {
	out := make([]Device, 0, len(devices))
	for _, d := range devices {
		if f.Allows(d.ID) {
			out = append(out, d)
		}
	}
	return out
}
