// Package meter maintains the connection to the Divergence Meter nixie clock
// and exposes its command set.
//
// The meter is found by advertised name on a BLE radio this process does not
// own exclusively: other consumers may start and stop scanning at any time.
// The Coordinator tracks what it wants (scanning intent), what the radio is
// actually doing (observed scan state), and the connection it holds, and
// converges on a stable connected state from any sequence of radio events.
package meter

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Sadudu/homebridge-divergence-meter/internal/radio"
)

const (
	// TargetName is the advertised local name of the meter.
	TargetName = "Divergence"

	// WriteHandle locates the single writable characteristic; every command
	// goes through it.
	WriteHandle uint16 = 0x0025

	// DefaultRestartDelay is the backoff before re-requesting a scan after
	// another consumer stopped the radio under us.
	DefaultRestartDelay = 4 * time.Second
)

// ErrNotConnected is returned by writes attempted with no active connection.
// Callers must not retry; reconnection is driven entirely by radio events.
var ErrNotConnected = errors.New("meter: not connected")

// Options configures a Coordinator.
type Options struct {
	TargetName   string        // default TargetName
	RestartDelay time.Duration // default DefaultRestartDelay
	Logger       *slog.Logger  // default slog.Default()
}

// Coordinator is the connection state machine. Construct exactly one per
// radio with New and drive it with Run.
type Coordinator struct {
	central      radio.Central
	target       string
	restartDelay time.Duration
	logger       *slog.Logger
	now          func() time.Time

	mu               sync.Mutex
	powered          bool
	wantScanning     bool // this consumer needs the radio to be scanning
	scanning         bool // last observed real scan state, whoever drives it
	peripheral       radio.Peripheral
	cancelDisconnect func()
}

// New creates a Coordinator bound to the given central.
func New(central radio.Central, opts Options) *Coordinator {
	if opts.TargetName == "" {
		opts.TargetName = TargetName
	}
	if opts.RestartDelay <= 0 {
		opts.RestartDelay = DefaultRestartDelay
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Coordinator{
		central:      central,
		target:       opts.TargetName,
		restartDelay: opts.RestartDelay,
		logger:       opts.Logger,
		now:          time.Now,
	}
}

// Run processes radio events until ctx is cancelled or the event stream
// closes. Events are handled serially, in arrival order.
func (c *Coordinator) Run(ctx context.Context) error {
	events := c.central.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			c.handle(ev)
		}
	}
}

func (c *Coordinator) handle(ev radio.Event) {
	switch ev := ev.(type) {
	case radio.StateChanged:
		c.handleStateChanged(ev.State)
	case radio.ScanStarted:
		c.handleScanStarted()
	case radio.ScanStopped:
		c.handleScanStopped()
	case radio.Discovered:
		c.handleDiscovered(ev.Peripheral)
	case radio.Connected:
		c.handleConnected(ev.Peripheral)
	case radio.ConnectFailed:
		c.handleConnectFailed(ev)
	case radio.Warning:
		c.logger.Warn("radio warning", "message", ev.Message)
	}
}

func (c *Coordinator) handleStateChanged(s radio.State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s != radio.StatePoweredOn {
		// Radio unavailable. Scanning dies with it and the stack's own
		// scan-stop event clears the observed flag; recovery waits for the
		// next power-on rather than a retry loop.
		c.powered = false
		c.wantScanning = false
		c.logger.Warn("radio unavailable", "state", s.String())
		return
	}
	c.powered = true
	if c.peripheral == nil && !c.scanning {
		c.wantScanning = true
		c.requestScanLocked()
	}
}

// requestScanLocked asks the radio to scan unless doing so could disrupt
// another consumer. A start request against an already-scanning radio can
// abort someone else's in-flight connection, so this is the only place a
// scan request is ever issued and it never repeats one. Callers hold c.mu.
func (c *Coordinator) requestScanLocked() {
	switch {
	case c.peripheral != nil:
		c.logger.Debug("scan request skipped: connected")
	case c.scanning:
		c.logger.Debug("scan request skipped: radio already scanning")
	case !c.powered:
		c.logger.Debug("scan request skipped: radio not powered on")
	default:
		if err := c.central.StartScanning(nil, true); err != nil {
			c.logger.Error("scan request failed", "error", err)
		}
	}
}

func (c *Coordinator) handleScanStarted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	// Purely observational; any consumer may have started this scan.
	c.scanning = true
}

func (c *Coordinator) handleScanStopped() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scanning = false
	if !c.wantScanning {
		// Expected stop: the target was found, or we had no use for the
		// radio in the first place.
		return
	}
	// Another consumer (or the OS) stopped scanning under us. Back off
	// before asking again so competing consumers do not livelock.
	c.logger.Info("scan stopped externally, will retry", "delay", c.restartDelay)
	time.AfterFunc(c.restartDelay, c.retryScan)
}

// retryScan runs when the restart timer fires. The timer is never cancelled;
// if state has moved on by then (reconnected, powered off) the guard in
// requestScanLocked turns the stale fire into a no-op.
func (c *Coordinator) retryScan() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.wantScanning {
		return
	}
	c.requestScanLocked()
}

func (c *Coordinator) handleDiscovered(p radio.Peripheral) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.wantScanning || p.AdvertisedName() != c.target {
		return
	}
	// Drop the intent before connecting: the same advertisement burst
	// delivers duplicates and only one attempt may be in flight.
	c.wantScanning = false
	c.logger.Info("meter discovered, connecting", "name", c.target)
	// No scan-stop here: another consumer may depend on the radio staying
	// in scan mode, so scanning is left running during the attempt.
	c.central.Connect(p)
}

func (c *Coordinator) handleConnected(p radio.Peripheral) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancelDisconnect != nil {
		c.cancelDisconnect()
	}
	c.peripheral = p
	c.cancelDisconnect = p.OnDisconnect(c.handleDisconnected)
	c.logger.Info("connected", "name", p.AdvertisedName())
}

func (c *Coordinator) handleConnectFailed(ev radio.ConnectFailed) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logger.Error("connect failed", "name", ev.Peripheral.AdvertisedName(), "error", ev.Err)
	c.wantScanning = true
	// May be a no-op if the radio kept scanning for another consumer, which
	// is exactly right: the next matching advertisement re-triggers connect.
	c.requestScanLocked()
}

// handleDisconnected runs when the held link drops.
func (c *Coordinator) handleDisconnected() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancelDisconnect != nil {
		// Revoke the registration on the stale handle before dropping it so
		// it cannot fire against replaced state.
		c.cancelDisconnect()
		c.cancelDisconnect = nil
	}
	c.peripheral = nil
	c.wantScanning = true
	c.logger.Warn("meter disconnected, rescanning")
	c.requestScanLocked()
}

// IsConnected reports whether a connection to the meter is currently held.
func (c *Coordinator) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peripheral != nil
}

// Write sends raw bytes to the meter's command characteristic. It fails with
// ErrNotConnected when no link is up and never attempts a reconnect itself.
// Writes are fire-and-forget: no peripheral-side ack is awaited, and a dead
// link surfaces later as a disconnect event.
func (c *Coordinator) Write(data []byte) error {
	c.mu.Lock()
	p := c.peripheral
	c.mu.Unlock()
	if p == nil {
		return ErrNotConnected
	}
	return p.WriteCharacteristic(WriteHandle, data, true)
}
