package radio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cenkalti/backoff/v5"
	"tinygo.org/x/bluetooth"
)

const (
	// eventBuffer sizes the event channel. Lifecycle events block when the
	// buffer is full; discovery events are dropped instead, since a scan with
	// duplicates enabled can outpace any consumer.
	eventBuffer = 64

	enableMaxTries = 5
)

// TinygoCentral is the production Central, backed by tinygo.org/x/bluetooth
// (BlueZ on Linux, CoreBluetooth on macOS).
type TinygoCentral struct {
	adapter  *bluetooth.Adapter
	logger   *slog.Logger
	events   chan Event
	service  bluetooth.UUID
	char     bluetooth.UUID
	connPool *sync.Map // address string -> *tinygoPeripheral
}

// NewTinygoCentral builds a central that resolves writes against the given
// service and characteristic UUIDs. Call Enable before anything else.
func NewTinygoCentral(logger *slog.Logger, serviceUUID, charUUID string) (*TinygoCentral, error) {
	svc, err := bluetooth.ParseUUID(serviceUUID)
	if err != nil {
		return nil, fmt.Errorf("radio: parse service UUID: %w", err)
	}
	chr, err := bluetooth.ParseUUID(charUUID)
	if err != nil {
		return nil, fmt.Errorf("radio: parse characteristic UUID: %w", err)
	}
	return &TinygoCentral{
		adapter:  bluetooth.DefaultAdapter,
		logger:   logger,
		events:   make(chan Event, eventBuffer),
		service:  svc,
		char:     chr,
		connPool: &sync.Map{},
	}, nil
}

// Enable powers on the adapter, retrying with backoff while the stack comes
// up (BlueZ is often still starting when this daemon launches at boot).
// On success a poweredOn state event is queued for the consumer.
func (c *TinygoCentral) Enable(ctx context.Context) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, c.adapter.Enable()
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(enableMaxTries))
	if err != nil {
		return fmt.Errorf("radio: enable adapter: %w", err)
	}

	// Route adapter-level disconnects to the peripheral that owns the link.
	c.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		addr := device.Address.String()
		if v, ok := c.connPool.LoadAndDelete(addr); ok {
			v.(*tinygoPeripheral).fireDisconnect()
		}
	})

	c.emit(StateChanged{State: StatePoweredOn})
	return nil
}

// Events implements Central.
func (c *TinygoCentral) Events() <-chan Event { return c.events }

// StartScanning implements Central. The scan runs until the stack stops it;
// this central never calls StopScan, so in practice the scan outlives the
// connect attempt that follows a discovery.
func (c *TinygoCentral) StartScanning(serviceUUIDs []string, allowDuplicates bool) error {
	filter := make([]bluetooth.UUID, 0, len(serviceUUIDs))
	for _, s := range serviceUUIDs {
		u, err := bluetooth.ParseUUID(s)
		if err != nil {
			return fmt.Errorf("radio: parse scan filter UUID: %w", err)
		}
		filter = append(filter, u)
	}

	go func() {
		c.emit(ScanStarted{})
		seen := make(map[string]bool)
		err := c.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
			if !matchesFilter(filter, result) {
				return
			}
			addr := result.Address.String()
			if !allowDuplicates {
				if seen[addr] {
					return
				}
				seen[addr] = true
			}
			c.emitDiscovery(Discovered{Peripheral: &tinygoPeripheral{
				central: c,
				name:    result.LocalName(),
				addr:    result.Address,
			}})
		})
		if err != nil {
			c.emit(Warning{Message: fmt.Sprintf("scan ended: %v", err)})
		}
		c.emit(ScanStopped{})
	}()
	return nil
}

// Connect implements Central. Resolution is reported as a Connected or
// ConnectFailed event.
func (c *TinygoCentral) Connect(p Peripheral) {
	tp, ok := p.(*tinygoPeripheral)
	if !ok {
		c.emit(ConnectFailed{Peripheral: p, Err: fmt.Errorf("radio: foreign peripheral %q", p.AdvertisedName())})
		return
	}
	go func() {
		if err := tp.dial(); err != nil {
			c.emit(ConnectFailed{Peripheral: tp, Err: err})
			return
		}
		c.connPool.Store(tp.addr.String(), tp)
		c.emit(Connected{Peripheral: tp})
	}()
}

func (c *TinygoCentral) emit(ev Event) { c.events <- ev }

func (c *TinygoCentral) emitDiscovery(ev Discovered) {
	select {
	case c.events <- ev:
	default:
		c.logger.Debug("discovery event dropped, consumer busy",
			"name", ev.Peripheral.AdvertisedName())
	}
}

func matchesFilter(filter []bluetooth.UUID, result bluetooth.ScanResult) bool {
	if len(filter) == 0 {
		return true
	}
	for _, u := range filter {
		if result.HasServiceUUID(u) {
			return true
		}
	}
	return false
}

// Compile-time check that TinygoCentral implements Central.
var _ Central = (*TinygoCentral)(nil)

type tinygoPeripheral struct {
	central *TinygoCentral
	name    string
	addr    bluetooth.Address

	mu         sync.Mutex
	device     bluetooth.Device
	writeChar  *bluetooth.DeviceCharacteristic
	disconnect func()
	gen        int
}

func (p *tinygoPeripheral) AdvertisedName() string { return p.name }

// dial connects and resolves the writable characteristic.
func (p *tinygoPeripheral) dial() error {
	device, err := p.central.adapter.Connect(p.addr, bluetooth.ConnectionParams{})
	if err != nil {
		return fmt.Errorf("radio: connect to %s: %w", p.addr.String(), err)
	}

	svcs, err := device.DiscoverServices([]bluetooth.UUID{p.central.service})
	if err != nil {
		device.Disconnect()
		return fmt.Errorf("radio: discover services: %w", err)
	}
	if len(svcs) == 0 {
		device.Disconnect()
		return fmt.Errorf("radio: service %s not found", p.central.service.String())
	}
	chars, err := svcs[0].DiscoverCharacteristics([]bluetooth.UUID{p.central.char})
	if err != nil {
		device.Disconnect()
		return fmt.Errorf("radio: discover characteristics: %w", err)
	}
	if len(chars) == 0 {
		device.Disconnect()
		return fmt.Errorf("radio: characteristic %s not found", p.central.char.String())
	}

	p.mu.Lock()
	p.device = device
	p.writeChar = &chars[0]
	p.mu.Unlock()
	return nil
}

// WriteCharacteristic implements Peripheral. BlueZ and CoreBluetooth address
// attributes by UUID, so the handle here only names the single writable
// attribute resolved at connect time.
func (p *tinygoPeripheral) WriteCharacteristic(_ uint16, data []byte, _ bool) error {
	p.mu.Lock()
	char := p.writeChar
	p.mu.Unlock()
	if char == nil {
		return fmt.Errorf("radio: peripheral %q is not connected", p.name)
	}
	if _, err := char.WriteWithoutResponse(data); err != nil {
		return fmt.Errorf("radio: write: %w", err)
	}
	return nil
}

// OnDisconnect implements Peripheral. The registration is one-shot and the
// cancel only revokes its own generation, so replacing the callback cannot
// be undone by a stale cancel.
func (p *tinygoPeripheral) OnDisconnect(fn func()) (cancel func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gen++
	gen := p.gen
	p.disconnect = fn
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.gen == gen {
			p.disconnect = nil
		}
	}
}

func (p *tinygoPeripheral) fireDisconnect() {
	p.mu.Lock()
	fn := p.disconnect
	p.disconnect = nil
	p.writeChar = nil
	p.mu.Unlock()
	if fn != nil {
		fn()
	}
}
