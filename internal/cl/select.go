package cl

import "fmt"

// DevicePath addresses one device inside an enumeration result.
type DevicePath struct {
	Platform int
	Device   int
}

// SelectDevice picks exactly one device of the requested type across the
// enumerated platforms. Matching devices are flattened in platform
// enumeration order and id indexes into that flat list, so id 1 with two
// GPUs on separate platforms picks the second GPU. DeviceTypeAll matches
// every device.
func SelectDevice(platforms []PlatformInfo, want DeviceType, id int) (DevicePath, DeviceInfo, error) {
	if len(platforms) == 0 {
		return DevicePath{}, DeviceInfo{}, ErrNoPlatforms
	}

	matched := 0
	total := 0
	for pi, p := range platforms {
		for di, d := range p.Devices {
			total++
			if !matchesType(d.Type, want) {
				continue
			}
			if matched == id {
				return DevicePath{Platform: pi, Device: di}, d, nil
			}
			matched++
		}
	}

	if matched == 0 {
		if total == 0 {
			return DevicePath{}, DeviceInfo{}, ErrNoDevices
		}
		return DevicePath{}, DeviceInfo{}, fmt.Errorf("%w matching type %s (%d device(s) present)", ErrNoDevices, want, total)
	}
	return DevicePath{}, DeviceInfo{}, fmt.Errorf("%w: id %d, only %d device(s) of type %s", ErrDeviceIndex, id, matched, want)
}

func matchesType(have, want DeviceType) bool {
	if want == DeviceTypeAll || want == DeviceTypeUnknown {
		return true
	}
	return have == want
}
