// Buses are the per-kind broadcast channels the event driver
// publishes onto and every live builder state subscribes to (spec
// §2 data flow, §5 "bounded broadcast channels"). Kept in the builder
// package (rather than eventdriver) so builder states can subscribe
// without importing the event driver, which in turn depends on
// builder only through these bus handles.
package builder

import "github.com/ethereum/go-ethereum/event"

// DefaultBusCapacity is the bounded-broadcast-channel capacity B
// referenced throughout spec §5/§6. A package var (not a const) so
// main can apply the --broadcast-buffer flag before constructing any
// builder state; every state subscribes with this capacity at
// construction time, so it must be set once at startup, before the
// first State is built.
var DefaultBusCapacity = 32

// Buses bundles the DA/QC/Decide broadcast feeds. The transaction bus
// lives on the registry instead (it is registry state per spec §3),
// so it is not duplicated here.
type Buses struct {
	DA     event.Feed
	QC     event.Feed
	Decide event.Feed
}

// NewBuses constructs an empty Buses value.
func NewBuses() *Buses { return &Buses{} }
