// Package calibration persists per-joint calibration overrides and applies
// them on top of a loaded kinematic tree.
package calibration

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/mirmik/webkin/internal/kinematics"
)

// Override is a partial set of per-joint calibration adjustments. A nil
// field means "use the tree's declared value or the type default".
type Override struct {
	AxisOffset *float64 `json:"axis_offset,omitempty"`
	AxisScale  *float64 `json:"axis_scale,omitempty"`
	SliderMin  *float64 `json:"slider_min,omitempty"`
	SliderMax  *float64 `json:"slider_max,omitempty"`
}

// Store is a joint_name -> Override map persisted as JSON at a fixed path.
// It carries no internal lock: callers (the scene coordinator) are expected
// to serialize access through their own single scene lock.
type Store struct {
	path      string
	log       *slog.Logger
	overrides map[string]Override
}

// New returns a Store bound to path, with an empty override map until Load
// is called.
func New(path string, log *slog.Logger) *Store {
	return &Store{path: path, log: log, overrides: make(map[string]Override)}
}

// Load reads the JSON file at the store's path. A missing file is treated
// as an empty map. A parse error is logged and the store falls back to an
// empty map; it is never fatal to startup.
func (s *Store) Load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.overrides = make(map[string]Override)
		return nil
	}
	if err != nil {
		s.log.Warn("calibration: read failed, starting with empty overrides", "path", s.path, "err", err)
		s.overrides = make(map[string]Override)
		return nil
	}
	var m map[string]Override
	if err := json.Unmarshal(data, &m); err != nil {
		s.log.Warn("calibration: parse failed, starting with empty overrides", "path", s.path, "err", err)
		s.overrides = make(map[string]Override)
		return nil
	}
	s.overrides = m
	return nil
}

// Save atomically overwrites the store's file, creating the parent
// directory if it does not exist.
func (s *Store) Save() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		s.log.Warn("calibration: mkdir failed", "path", s.path, "err", err)
		return err
	}
	data, err := json.MarshalIndent(s.overrides, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		s.log.Warn("calibration: write failed", "path", s.path, "err", err)
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		s.log.Warn("calibration: rename failed", "path", s.path, "err", err)
		return err
	}
	return nil
}

// ApplyTo writes every persisted override onto the matching joint in tree.
// Joints named in the map but absent from the tree are silently ignored —
// tree shapes change over time, and dead entries are left in the map by
// design (see DESIGN.md Open Questions).
func (s *Store) ApplyTo(tree *kinematics.Tree) {
	for name, ov := range s.overrides {
		tree.ApplyPartialAxisParams(name, ov.AxisOffset, ov.AxisScale, ov.SliderMin, ov.SliderMax)
	}
}

// Overrides returns a copy of the current override map, safe for a caller
// to serialize directly (e.g. for GET /api/axis/overrides).
func (s *Store) Overrides() map[string]Override {
	out := make(map[string]Override, len(s.overrides))
	for k, v := range s.overrides {
		out[k] = v
	}
	return out
}

// SetZero reads the named joint's current coord and sets axis_offset := -coord,
// both in the override map and on the tree itself, then persists.
func (s *Store) SetZero(tree *kinematics.Tree, name string) (ok bool, err error) {
	coord, found := tree.Coord(name)
	if !found {
		return false, nil
	}
	offset := -coord
	ov := s.overrides[name]
	ov.AxisOffset = &offset
	s.overrides[name] = ov
	tree.ApplyPartialAxisParams(name, &offset, nil, nil, nil)
	return true, s.Save()
}

// SetOverride partially merges the given fields into the override map entry
// and the tree's joint, then persists. Fields left nil are untouched on
// both sides (property: override merge is partial).
func (s *Store) SetOverride(tree *kinematics.Tree, name string, offset, scale, sliderMin, sliderMax *float64) (ok bool, err error) {
	if !tree.HasJoint(name) {
		return false, nil
	}
	ov := s.overrides[name]
	if offset != nil {
		ov.AxisOffset = offset
	}
	if scale != nil {
		ov.AxisScale = scale
	}
	if sliderMin != nil {
		ov.SliderMin = sliderMin
	}
	if sliderMax != nil {
		ov.SliderMax = sliderMax
	}
	s.overrides[name] = ov
	tree.ApplyPartialAxisParams(name, offset, scale, sliderMin, sliderMax)
	return true, s.Save()
}

// ClearAll empties the override map, persists, and restores every joint in
// tree to the values declared in originalDoc (or type defaults). The tree
// is updated in place rather than reloaded, so joint coords keep their
// current values.
func (s *Store) ClearAll(tree *kinematics.Tree, originalDoc kinematics.Doc) error {
	s.overrides = make(map[string]Override)
	if err := s.Save(); err != nil {
		return err
	}
	for _, name := range tree.JointNames() {
		if p, ok := kinematics.FindOriginalAxisParams(originalDoc, name); ok {
			tree.SetAxisParams(name, p)
		}
	}
	return nil
}

// ClearOne removes a single override entry, persists, and restores the
// named joint's declared values from originalDoc.
func (s *Store) ClearOne(tree *kinematics.Tree, originalDoc kinematics.Doc, name string) (ok bool, err error) {
	if !tree.HasJoint(name) {
		return false, nil
	}
	delete(s.overrides, name)
	if err := s.Save(); err != nil {
		return true, err
	}
	if p, ok := kinematics.FindOriginalAxisParams(originalDoc, name); ok {
		tree.SetAxisParams(name, p)
	}
	return true, nil
}
