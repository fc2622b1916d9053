package calibration

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/mirmik/webkin/internal/kinematics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func f(v float64) *float64 { return &v }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func identityWirePose() kinematics.WirePose {
	return kinematics.WirePose{Position: kinematics.WireVec3{0, 0, 0}, Orientation: [4]float64{0, 0, 0, 1}}
}

func rotatorDoc() kinematics.Doc {
	return kinematics.Doc{Node: kinematics.Node{
		Name: "root", Type: kinematics.KindTransform, Pose: identityWirePose(),
		Children: []kinematics.Node{
			{Name: "J", Type: kinematics.KindRotator, Pose: identityWirePose(), Axis: &kinematics.WireVec3{0, 0, 1}},
		},
	}}
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	dir := t.TempDir()
	s := New(filepath.Join(dir, "nope.json"), testLogger())
	require.NoError(t, s.Load())
	assert.Empty(t, s.Overrides())
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "axis_overrides.json")
	s := New(path, testLogger())
	tr, err := kinematics.Load(rotatorDoc())
	require.NoError(t, err)

	ok, err := s.SetOverride(tr, "J", f(0.5), nil, nil, nil)
	require.True(t, ok)
	require.NoError(t, err)

	s2 := New(path, testLogger())
	require.NoError(t, s2.Load())
	ov := s2.Overrides()["J"]
	require.NotNil(t, ov.AxisOffset)
	assert.Equal(t, 0.5, *ov.AxisOffset)
	assert.Nil(t, ov.AxisScale)
}

// override merge is partial: successive calls leave untouched fields alone.
func TestSetOverridePartialMerge(t *testing.T) {
	dir := t.TempDir()
	s := New(filepath.Join(dir, "o.json"), testLogger())
	tr, err := kinematics.Load(rotatorDoc())
	require.NoError(t, err)

	_, err = s.SetOverride(tr, "J", f(0.3), nil, nil, nil)
	require.NoError(t, err)
	_, err = s.SetOverride(tr, "J", nil, f(2.0), nil, nil)
	require.NoError(t, err)

	p, ok := tr.AxisParams("J")
	require.True(t, ok)
	assert.Equal(t, 0.3, p.AxisOffset)
	assert.Equal(t, 2.0, p.AxisScale)
}

func TestSetZero(t *testing.T) {
	dir := t.TempDir()
	s := New(filepath.Join(dir, "o.json"), testLogger())
	tr, err := kinematics.Load(rotatorDoc())
	require.NoError(t, err)
	tr.SetJointCoord("J", 1.5708)

	ok, err := s.SetZero(tr, "J")
	require.True(t, ok)
	require.NoError(t, err)

	p, _ := tr.AxisParams("J")
	assert.Equal(t, -1.5708, p.AxisOffset)
	ov := s.Overrides()["J"]
	require.NotNil(t, ov.AxisOffset)
	assert.Equal(t, -1.5708, *ov.AxisOffset)
}

func TestSetZeroUnknownJoint(t *testing.T) {
	dir := t.TempDir()
	s := New(filepath.Join(dir, "o.json"), testLogger())
	tr, err := kinematics.Load(rotatorDoc())
	require.NoError(t, err)
	ok, err := s.SetZero(tr, "nope")
	assert.False(t, ok)
	assert.NoError(t, err)
}

// ClearAll restores every joint's declared document values.
func TestClearAllRestoresDeclaredValues(t *testing.T) {
	dir := t.TempDir()
	s := New(filepath.Join(dir, "o.json"), testLogger())
	doc := rotatorDoc()
	tr, err := kinematics.Load(doc)
	require.NoError(t, err)

	_, err = s.SetOverride(tr, "J", f(0.9), f(3), f(-5), f(5))
	require.NoError(t, err)

	require.NoError(t, s.ClearAll(tr, doc))
	assert.Empty(t, s.Overrides())

	p, _ := tr.AxisParams("J")
	assert.Equal(t, 0.0, p.AxisOffset)
	assert.Equal(t, 1.0, p.AxisScale)
	assert.Equal(t, -180.0, p.SliderMin)
	assert.Equal(t, 180.0, p.SliderMax)
}

func TestClearOneRestoresDeclaredValues(t *testing.T) {
	dir := t.TempDir()
	s := New(filepath.Join(dir, "o.json"), testLogger())
	doc := rotatorDoc()
	tr, err := kinematics.Load(doc)
	require.NoError(t, err)

	_, err = s.SetZero(tr, "J")
	require.NoError(t, err)

	ok, err := s.ClearOne(tr, doc, "J")
	require.True(t, ok)
	require.NoError(t, err)

	_, has := s.Overrides()["J"]
	assert.False(t, has)
	p, _ := tr.AxisParams("J")
	assert.Equal(t, 0.0, p.AxisOffset)
}

func TestApplyToIgnoresUnknownJoints(t *testing.T) {
	s := New("unused.json", testLogger())
	tr, err := kinematics.Load(rotatorDoc())
	require.NoError(t, err)
	s.overrides["ghost"] = Override{AxisOffset: f(9)}
	assert.NotPanics(t, func() { s.ApplyTo(tr) })
}
