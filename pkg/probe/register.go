package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	"rasc/pkg/device"
)

// ErrNoDeviceOnPortRange is returned when no port in the probed range answers
// get_sysinfo with a recognizable device type.
var ErrNoDeviceOnPortRange = errors.New("probe: no device found in port range")

// DeviceHandle identifies a device stub this runtime can issue commands to.
type DeviceHandle struct {
	EntityID string
	Kind     device.Kind
	Addr     string
	Sysinfo  map[string]any
}

// RegisterDevice sequentially probes ports in [portLow, portHigh] on host, issuing
// {"system":{"get_sysinfo":null}} at each, and classifies the first reply that
// carries a recognized "type" field.
func (p *Pool) RegisterDevice(ctx context.Context, host string, portLow, portHigh int) (DeviceHandle, error) {
	for port := portLow; port <= portHigh; port++ {
		if err := ctx.Err(); err != nil {
			return DeviceHandle{}, fmt.Errorf("probe: register device: %w", err)
		}

		addr := net.JoinHostPort(host, strconv.Itoa(port))

		sysinfo, err := p.Call(ctx, addr, "system", "get_sysinfo", nil)
		if err != nil {
			continue
		}

		kind, ok := classifyKind(sysinfo)
		if !ok {
			continue
		}

		entityID, _ := sysinfo["entity_id"].(string)
		if entityID == "" {
			entityID = addr
		}

		return DeviceHandle{EntityID: entityID, Kind: kind, Addr: addr, Sysinfo: sysinfo}, nil
	}

	return DeviceHandle{}, fmt.Errorf("%w: %s:%d-%d", ErrNoDeviceOnPortRange, host, portLow, portHigh)
}

func classifyKind(sysinfo map[string]any) (device.Kind, bool) {
	raw, ok := sysinfo["type"].(string)
	if !ok {
		return "", false
	}

	kind := device.Kind(raw)
	if _, known := device.Lookup(kind); !known {
		return "", false
	}

	return kind, true
}
