package coordinator

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Model selects the converter a device is handled by.
type Model string

const (
	ModelIRBlaster Model = "ir_blaster"
	ModelTRV       Model = "trv"
)

var (
	ErrUnknownDevice    = errors.New("unknown device")
	ErrUnsupportedModel = errors.New("operation not supported by device model")
)

// Device is a configured Zigbee device.
type Device struct {
	Name      string `json:"name" yaml:"name"`
	IEEE      string `json:"ieee" yaml:"ieee"`
	ShortAddr uint16 `json:"short_addr" yaml:"short_addr"`
	Endpoint  uint8  `json:"endpoint" yaml:"endpoint"`
	Model     Model  `json:"model" yaml:"model"`
}

// EndpointKey identifies the device endpoint in transfer sessions.
func (d Device) EndpointKey() string {
	return fmt.Sprintf("0x%04X/%d", d.ShortAddr, d.Endpoint)
}

type addrKey struct {
	addr uint16
	ep   uint8
}

// DeviceManager indexes the configured devices by name, network address
// and endpoint key. It is immutable after construction.
type DeviceManager struct {
	byName     map[string]*Device
	byAddr     map[addrKey]*Device
	byEndpoint map[string]*Device
}

// NewDeviceManager validates devices and builds the lookup indexes.
func NewDeviceManager(devices []Device) (*DeviceManager, error) {
	dm := &DeviceManager{
		byName:     make(map[string]*Device),
		byAddr:     make(map[addrKey]*Device),
		byEndpoint: make(map[string]*Device),
	}
	for i := range devices {
		d := devices[i]
		if d.Name == "" {
			return nil, fmt.Errorf("device %d: name is required", i)
		}
		if strings.ContainsAny(d.Name, "/#+") {
			return nil, fmt.Errorf("device %q: name must not contain '/', '#' or '+'", d.Name)
		}
		if _, ok := dm.byName[d.Name]; ok {
			return nil, fmt.Errorf("device %q: duplicate name", d.Name)
		}
		if d.IEEE != "" {
			ieee, err := ParseIEEE(d.IEEE)
			if err != nil {
				return nil, fmt.Errorf("device %q: %w", d.Name, err)
			}
			d.IEEE = FormatIEEE(ieee)
		}
		switch d.Model {
		case ModelIRBlaster, ModelTRV:
		default:
			return nil, fmt.Errorf("device %q: unknown model %q", d.Name, d.Model)
		}
		if d.Endpoint == 0 {
			d.Endpoint = 1
		}
		k := addrKey{d.ShortAddr, d.Endpoint}
		if other, ok := dm.byAddr[k]; ok {
			return nil, fmt.Errorf("device %q: address %s already used by %q", d.Name, d.EndpointKey(), other.Name)
		}
		dev := &d
		dm.byName[d.Name] = dev
		dm.byAddr[k] = dev
		dm.byEndpoint[d.EndpointKey()] = dev
	}
	return dm, nil
}

// Get returns the device with the given name.
func (dm *DeviceManager) Get(name string) (Device, bool) {
	d, ok := dm.byName[name]
	if !ok {
		return Device{}, false
	}
	return *d, true
}

// ByAddr returns the device at the given network address and endpoint.
func (dm *DeviceManager) ByAddr(addr uint16, ep uint8) (Device, bool) {
	d, ok := dm.byAddr[addrKey{addr, ep}]
	if !ok {
		return Device{}, false
	}
	return *d, true
}

// ByEndpoint returns the device for an EndpointKey.
func (dm *DeviceManager) ByEndpoint(key string) (Device, bool) {
	d, ok := dm.byEndpoint[key]
	if !ok {
		return Device{}, false
	}
	return *d, true
}

// List returns all devices sorted by name.
func (dm *DeviceManager) List() []Device {
	out := make([]Device, 0, len(dm.byName))
	for _, d := range dm.byName {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// lookup resolves name and checks that the device is of the wanted model.
func (dm *DeviceManager) lookup(name string, model Model) (Device, error) {
	d, ok := dm.Get(name)
	if !ok {
		return Device{}, fmt.Errorf("%w: %s", ErrUnknownDevice, name)
	}
	if d.Model != model {
		return Device{}, fmt.Errorf("%w: %s is %s, want %s", ErrUnsupportedModel, name, d.Model, model)
	}
	return d, nil
}
