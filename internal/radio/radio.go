// Package radio abstracts the shared BLE central this daemon drives.
//
// The radio is a shared resource: other consumers on the same host may start
// and stop scanning independently of us. The interfaces here expose what the
// connection coordinator needs — asynchronous events and fire-and-forget
// commands — without granting ownership of the scan state. There is
// deliberately no stop-scan command: a consumer that does not own the radio
// may ask it to scan, but never to stop.
package radio

// State is the power/availability state of the BLE adapter.
type State int

const (
	StateUnknown State = iota
	StateResetting
	StateUnsupported
	StateUnauthorized
	StatePoweredOff
	StatePoweredOn
)

func (s State) String() string {
	switch s {
	case StateResetting:
		return "resetting"
	case StateUnsupported:
		return "unsupported"
	case StateUnauthorized:
		return "unauthorized"
	case StatePoweredOff:
		return "poweredOff"
	case StatePoweredOn:
		return "poweredOn"
	default:
		return "unknown"
	}
}

// Event is a notification from the BLE stack. A Central delivers events on a
// single channel, in arrival order; consumers process them serially.
type Event interface {
	event()
}

// StateChanged reports a change of the adapter's power state.
type StateChanged struct {
	State State
}

// Discovered reports an advertisement seen while the radio is scanning,
// regardless of which consumer asked for the scan.
type Discovered struct {
	Peripheral Peripheral
}

// ScanStarted reports that the radio began scanning. The scan may have been
// requested by any consumer, not necessarily this process.
type ScanStarted struct{}

// ScanStopped reports that the radio stopped scanning, whoever caused it.
type ScanStopped struct{}

// Connected reports that a connect request for the peripheral succeeded.
type Connected struct {
	Peripheral Peripheral
}

// ConnectFailed reports that a connect request for the peripheral failed.
type ConnectFailed struct {
	Peripheral Peripheral
	Err        error
}

// Warning carries a non-fatal diagnostic from the stack.
type Warning struct {
	Message string
}

func (StateChanged) event()  {}
func (Discovered) event()    {}
func (ScanStarted) event()   {}
func (ScanStopped) event()   {}
func (Connected) event()     {}
func (ConnectFailed) event() {}
func (Warning) event()       {}

// Peripheral is a remote BLE device seen in an advertisement or held as an
// open connection.
type Peripheral interface {
	// AdvertisedName returns the local name from the advertisement.
	AdvertisedName() string

	// WriteCharacteristic writes data to the attribute at handle. When
	// withoutResponse is set the write returns without waiting for a
	// peripheral-side acknowledgment.
	WriteCharacteristic(handle uint16, data []byte, withoutResponse bool) error

	// OnDisconnect registers a one-shot callback fired when the link drops.
	// The returned cancel revokes the registration; call it before discarding
	// the handle so a stale callback cannot fire against replaced state.
	OnDisconnect(fn func()) (cancel func())
}

// Central is the shared BLE radio. Implementations must be safe for use by a
// single event-processing consumer plus the goroutines that feed Events.
type Central interface {
	// Events returns the stream of radio events, in arrival order.
	Events() <-chan Event

	// StartScanning asks the radio to begin scanning. serviceUUIDs filters
	// advertisements by service (nil means all); allowDuplicates requests
	// repeated reports for the same peripheral. The request is asynchronous:
	// the radio confirms with a ScanStarted event.
	StartScanning(serviceUUIDs []string, allowDuplicates bool) error

	// Connect requests a connection to a discovered peripheral. The request
	// is fire-and-forget: resolution arrives later as a Connected or
	// ConnectFailed event.
	Connect(p Peripheral)
}
