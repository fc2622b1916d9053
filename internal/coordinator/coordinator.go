// Package coordinator holds the authoritative scene state — the loaded
// tree, its calibration overrides, and the set of connected clients —
// behind one mutex, and composes the snapshots broadcast to clients.
package coordinator

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/mirmik/webkin/internal/calibration"
	"github.com/mirmik/webkin/internal/kinematics"
)

// ErrNoTree is returned by operations that require a loaded tree when none
// is present yet.
var ErrNoTree = errors.New("coordinator: no tree loaded")

// ErrUnknownJoint is returned when a calibration operation names a joint
// the current tree does not have.
var ErrUnknownJoint = errors.New("coordinator: unknown joint")

// ClientHandle is how the coordinator pushes bytes to one connected
// client. Implementations (the HTTP/WebSocket layer) own the actual
// connection; the coordinator never blocks waiting on anything but this
// call.
type ClientHandle interface {
	Send(data []byte) error
}

// Coordinator is the single entry point holding all authoritative mutable
// scene state behind one lock: tree, document, calibration overrides, and
// the connected-client registry.
type Coordinator struct {
	mu sync.Mutex

	tree    *kinematics.Tree
	treeDoc kinematics.Doc
	hasTree bool

	overrides *calibration.Store
	clients   map[string]ClientHandle
	zUp       bool

	log *slog.Logger
}

// New returns a Coordinator. overrides should already have Load called on
// it; zUp is forwarded to clients verbatim as a display hint, with no
// server-side rotation applied.
func New(overrides *calibration.Store, zUp bool, log *slog.Logger) *Coordinator {
	return &Coordinator{
		overrides: overrides,
		clients:   make(map[string]ClientHandle),
		zUp:       zUp,
		log:       log,
	}
}

// LoadTree replaces the current tree with doc, reapplies known calibration
// overrides, runs forward kinematics, and broadcasts scene_init to every
// connected client. A malformed document leaves the previous tree in place
// and broadcasts nothing.
func (c *Coordinator) LoadTree(doc kinematics.Doc) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tree, err := kinematics.Load(doc)
	if err != nil {
		c.log.Warn("coordinator: rejecting malformed tree, keeping previous", "err", err)
		return err
	}

	c.overrides.ApplyTo(tree)
	tree.UpdateForward()

	c.tree = tree
	c.treeDoc = doc
	c.hasTree = true

	c.broadcastLocked(c.sceneInitLocked())
	return nil
}

// UpdateJoints applies a batch of joint coordinate updates and broadcasts a
// scene_update. Unknown joint names within the map are silently ignored.
func (c *Coordinator) UpdateJoints(values map[string]float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.hasTree {
		return ErrNoTree
	}
	c.tree.SetJointCoords(values)
	c.tree.UpdateForward()
	c.broadcastLocked(c.sceneUpdateLocked())
	return nil
}

// SetZero sets axis_offset := -coord for the named joint, persists it, and
// broadcasts a scene_update. A calibration-file write failure is logged but
// does not fail the in-memory operation.
func (c *Coordinator) SetZero(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.hasTree {
		return ErrNoTree
	}
	ok, err := c.overrides.SetZero(c.tree, name)
	if !ok {
		return ErrUnknownJoint
	}
	if err != nil {
		c.log.Warn("coordinator: persisting zero offset failed", "joint", name, "err", err)
	}
	c.tree.UpdateForward()
	c.broadcastLocked(c.sceneUpdateLocked())
	return nil
}

// SetOverride partially merges the given calibration fields into the named
// joint, persists, and broadcasts a scene_update.
func (c *Coordinator) SetOverride(name string, offset, scale, sliderMin, sliderMax *float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.hasTree {
		return ErrNoTree
	}
	ok, err := c.overrides.SetOverride(c.tree, name, offset, scale, sliderMin, sliderMax)
	if !ok {
		return ErrUnknownJoint
	}
	if err != nil {
		c.log.Warn("coordinator: persisting override failed", "joint", name, "err", err)
	}
	c.tree.UpdateForward()
	c.broadcastLocked(c.sceneUpdateLocked())
	return nil
}

// ClearAllOverrides empties the override map and restores every joint's
// declared values, then broadcasts a scene_update.
func (c *Coordinator) ClearAllOverrides() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.hasTree {
		return ErrNoTree
	}
	if err := c.overrides.ClearAll(c.tree, c.treeDoc); err != nil {
		c.log.Warn("coordinator: persisting cleared overrides failed", "err", err)
	}
	c.tree.UpdateForward()
	c.broadcastLocked(c.sceneUpdateLocked())
	return nil
}

// ClearOverride removes a single joint's override and restores its
// declared values, then broadcasts a scene_update.
func (c *Coordinator) ClearOverride(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.hasTree {
		return ErrNoTree
	}
	ok, err := c.overrides.ClearOne(c.tree, c.treeDoc, name)
	if !ok {
		return ErrUnknownJoint
	}
	if err != nil {
		c.log.Warn("coordinator: persisting cleared override failed", "joint", name, "err", err)
	}
	c.tree.UpdateForward()
	c.broadcastLocked(c.sceneUpdateLocked())
	return nil
}

// Overrides returns the current calibration override map.
func (c *Coordinator) Overrides() map[string]calibration.Override {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.overrides.Overrides()
}

// TreeDoc returns the tree document as most recently loaded.
func (c *Coordinator) TreeDoc() (kinematics.Doc, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.treeDoc, c.hasTree
}

// SceneSnapshot returns the current scene snapshot in wire form.
func (c *Coordinator) SceneSnapshot() (map[string]NodeWire, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.hasTree {
		return nil, false
	}
	return wireNodes(c.tree.SceneSnapshot()), true
}

// RegisterClient adds h to the client registry under id and immediately
// sends it a scene_init reflecting the state at the moment of registration
// — never a partially updated tree, since registration happens under the
// same lock as every mutation.
func (c *Coordinator) RegisterClient(id string, h ClientHandle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clients[id] = h
	if !c.hasTree {
		return
	}
	data, err := json.Marshal(c.sceneInitLocked())
	if err != nil {
		c.log.Warn("coordinator: marshal scene_init failed", "err", err)
		return
	}
	if err := h.Send(data); err != nil {
		c.log.Warn("coordinator: initial send failed, client stays registered until unregistered", "client", id, "err", err)
	}
}

// UnregisterClient removes id from the client registry.
func (c *Coordinator) UnregisterClient(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.clients, id)
}

// ClientCount reports the number of registered clients.
func (c *Coordinator) ClientCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.clients)
}

// HasTree reports whether a tree has ever been loaded.
func (c *Coordinator) HasTree() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasTree
}

func (c *Coordinator) sceneInitLocked() SceneInit {
	return SceneInit{
		Type:       "scene_init",
		Nodes:      wireNodes(c.tree.SceneSnapshot()),
		Joints:     c.tree.JointNames(),
		JointsInfo: c.tree.JointsInfo(),
		ZUp:        c.zUp,
	}
}

func (c *Coordinator) sceneUpdateLocked() SceneUpdate {
	return SceneUpdate{
		Type:       "scene_update",
		Nodes:      wireNodes(c.tree.SceneSnapshot()),
		JointsInfo: c.tree.JointsInfo(),
	}
}

// broadcastLocked marshals frame once and pushes it to every registered
// client. A send failure never aborts the broadcast; the client stays
// registered until the HTTP runtime observes the failure and unregisters
// it.
func (c *Coordinator) broadcastLocked(frame any) {
	data, err := json.Marshal(frame)
	if err != nil {
		c.log.Warn("coordinator: marshal broadcast frame failed", "err", err)
		return
	}
	for id, h := range c.clients {
		if err := h.Send(data); err != nil {
			c.log.Warn("coordinator: broadcast send failed", "client", id, "err", err)
		}
	}
}
