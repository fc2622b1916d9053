package coordinator

import (
	"encoding/json"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/mirmik/webkin/internal/calibration"
	"github.com/mirmik/webkin/internal/kinematics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestStore(t *testing.T) *calibration.Store {
	t.Helper()
	s := calibration.New(filepath.Join(t.TempDir(), "overrides.json"), testLogger())
	require.NoError(t, s.Load())
	return s
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

// recordingClient records every frame sent to it.
type recordingClient struct {
	mu     sync.Mutex
	frames [][]byte
}

func (r *recordingClient) Send(data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	r.frames = append(r.frames, cp)
	return nil
}

func (r *recordingClient) last() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.frames) == 0 {
		return nil
	}
	return r.frames[len(r.frames)-1]
}

func (r *recordingClient) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

type failingClient struct{}

func (failingClient) Send([]byte) error { return errSendFailed }

type sendError struct{}

func (sendError) Error() string { return "fake send failure" }

var errSendFailed = sendError{}

func TestRegisterClientReceivesSceneInit(t *testing.T) {
	c := New(newTestStore(t), true, testLogger())
	require.NoError(t, c.LoadTree(rotatorDoc()))

	cl := &recordingClient{}
	c.RegisterClient("a", cl)
	require.Equal(t, 1, cl.count())

	var frame SceneInit
	require.NoError(t, json.Unmarshal(cl.last(), &frame))
	assert.Equal(t, "scene_init", frame.Type)
	assert.True(t, frame.ZUp)
	assert.Contains(t, frame.Nodes, "root")
	assert.Contains(t, frame.Nodes, "J")
	assert.Contains(t, frame.Joints, "J")
}

func TestUpdateJointsBroadcastsSceneUpdate(t *testing.T) {
	c := New(newTestStore(t), false, testLogger())
	require.NoError(t, c.LoadTree(rotatorDoc()))
	cl := &recordingClient{}
	c.RegisterClient("a", cl)

	require.NoError(t, c.UpdateJoints(map[string]float64{"J": 1.0}))
	assert.Equal(t, 2, cl.count()) // scene_init + scene_update

	var frame SceneUpdate
	require.NoError(t, json.Unmarshal(cl.last(), &frame))
	assert.Equal(t, "scene_update", frame.Type)
}

func TestUpdateJointsWithoutTreeErrors(t *testing.T) {
	c := New(newTestStore(t), false, testLogger())
	err := c.UpdateJoints(map[string]float64{"J": 1})
	assert.ErrorIs(t, err, ErrNoTree)
}

func TestSetZeroUnknownJointErrors(t *testing.T) {
	c := New(newTestStore(t), false, testLogger())
	require.NoError(t, c.LoadTree(rotatorDoc()))
	err := c.SetZero("nope")
	assert.ErrorIs(t, err, ErrUnknownJoint)
}

func TestFailingClientDoesNotAbortBroadcast(t *testing.T) {
	c := New(newTestStore(t), false, testLogger())
	require.NoError(t, c.LoadTree(rotatorDoc()))

	c.RegisterClient("bad", failingClient{})
	good := &recordingClient{}
	c.RegisterClient("good", good)

	require.NoError(t, c.UpdateJoints(map[string]float64{"J": 0.5}))
	assert.Equal(t, 2, good.count())
}

// two mutations serialized under the lock broadcast in the same order to
// every connected client.
func TestBroadcastMonotonicity(t *testing.T) {
	c := New(newTestStore(t), false, testLogger())
	require.NoError(t, c.LoadTree(rotatorDoc()))
	cl := &recordingClient{}
	c.RegisterClient("a", cl)

	require.NoError(t, c.UpdateJoints(map[string]float64{"J": 1.0}))
	require.NoError(t, c.UpdateJoints(map[string]float64{"J": 2.0}))

	require.Equal(t, 3, cl.count()) // init, update(1.0), update(2.0)

	var second, third SceneUpdate
	cl.mu.Lock()
	require.NoError(t, json.Unmarshal(cl.frames[1], &second))
	require.NoError(t, json.Unmarshal(cl.frames[2], &third))
	cl.mu.Unlock()

	n2 := second.Nodes["J"].Pose.Orientation
	n3 := third.Nodes["J"].Pose.Orientation
	assert.NotEqual(t, n2, n3, "the two updates must be observably distinct and in order")
}

// a client registering concurrently with a joint update must see either
// the pre- or post-update scene_init, never a torn state.
func TestConnectionRaceNeverObservesTornState(t *testing.T) {
	c := New(newTestStore(t), false, testLogger())
	require.NoError(t, c.LoadTree(rotatorDoc()))

	var wg sync.WaitGroup
	results := make([]*recordingClient, 20)
	wg.Add(21)
	go func() {
		defer wg.Done()
		_ = c.UpdateJoints(map[string]float64{"J": 3.0})
	}()
	for i := 0; i < 20; i++ {
		i := i
		go func() {
			defer wg.Done()
			cl := &recordingClient{}
			c.RegisterClient("race", cl)
			results[i] = cl
		}()
	}
	wg.Wait()

	for _, cl := range results {
		var frame SceneInit
		require.NoError(t, json.Unmarshal(cl.last(), &frame))
		z := frame.Nodes["J"].Pose.Orientation[2]
		w := frame.Nodes["J"].Pose.Orientation[3]
		// Either pre-update (identity: z=0,w=1) or post-update (J=3.0 rad),
		// never a value in between from a half-applied mutation.
		preUpdate := almostEqual(z, 0) && almostEqual(w, 1)
		postUpdate := almostEqual(z, jointZAt(3.0)) && almostEqual(w, jointWAt(3.0))
		assert.True(t, preUpdate || postUpdate, "observed torn state z=%v w=%v", z, w)
	}
}

func almostEqual(a, b float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d < 1e-9
}

func jointZAt(theta float64) float64 {
	return math.Sin(theta / 2)
}

func jointWAt(theta float64) float64 {
	return math.Cos(theta / 2)
}
