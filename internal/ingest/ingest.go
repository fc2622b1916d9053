// Package ingest defines the common contract both transport adapters
// (MQTT and Crow) implement, reconciling two subscription protocols into a
// single tree/joints callback pair.
package ingest

import (
	"errors"

	"github.com/mirmik/webkin/internal/kinematics"
)

// ErrNotCompiled indicates the adapter's transport support was not built
// into this binary. No adapter in this module returns it today (both MQTT
// and Crow are always compiled in), but the contract reserves it for
// build-tag-gated transports.
var ErrNotCompiled = errors.New("ingest: transport not compiled")

// ErrTransport wraps a non-fatal transport-level failure: connection
// refused, DNS failure, or similar. Callers log it and continue; the
// server keeps serving with whatever tree it already has.
var ErrTransport = errors.New("ingest: transport error")

// TreeCallback receives a freshly decoded tree document.
type TreeCallback func(kinematics.Doc)

// JointsCallback receives a batch of joint coordinate updates.
type JointsCallback func(map[string]float64)

// Adapter is the uniform contract for a pub/sub ingest transport. Init
// performs one-time setup (address resolution, client construction) and
// returns ErrNotCompiled or a wrapped ErrTransport on failure; Connect
// opens the subscription(s) and starts the background dispatch; Disconnect
// tears them down and joins the background goroutine.
//
// Implementations must treat OnTree/OnJoints callbacks as being invoked
// from a dedicated transport goroutine: callers that install callbacks
// touching shared state (the scene coordinator) are responsible for their
// own locking, which the coordinator provides.
type Adapter interface {
	Init() error
	Connect() error
	Disconnect()
	OnTree(cb TreeCallback)
	OnJoints(cb JointsCallback)
	IsConnected() bool
}
