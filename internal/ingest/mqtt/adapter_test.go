package mqtt

import (
	"log/slog"
	"os"
	"testing"

	"github.com/mirmik/webkin/internal/kinematics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeMessage implements paho.Message for unit-testing the dispatch
// handlers without a real broker connection.
type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 0 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 0 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

func TestInitBuildsClientWithoutConnecting(t *testing.T) {
	a := New(Config{BrokerHost: "127.0.0.1", BrokerPort: 1883, JointsTopic: "joints", TreeTopic: "tree"}, testLogger())
	require.NoError(t, a.Init())
	assert.NotNil(t, a.client)
	assert.False(t, a.IsConnected())
}

func TestDispatchJointsDropsMalformedPayload(t *testing.T) {
	a := New(Config{}, testLogger())
	called := false
	a.OnJoints(func(map[string]float64) { called = true })
	a.dispatchJoints(nil, fakeMessage{topic: "joints", payload: []byte("not json")})
	assert.False(t, called)
}

func TestDispatchJointsInvokesCallback(t *testing.T) {
	a := New(Config{}, testLogger())
	var got map[string]float64
	a.OnJoints(func(v map[string]float64) { got = v })
	a.dispatchJoints(nil, fakeMessage{topic: "joints", payload: []byte(`{"J":1.25}`)})
	require.NotNil(t, got)
	assert.Equal(t, 1.25, got["J"])
}

func TestDispatchTreeInvokesCallback(t *testing.T) {
	a := New(Config{}, testLogger())
	var gotName string
	a.OnTree(func(d kinematics.Doc) { gotName = d.Name })
	a.dispatchTree(nil, fakeMessage{topic: "tree", payload: []byte(`{"name":"root","type":"transform","pose":{"position":[0,0,0],"orientation":[0,0,0,1]}}`)})
	assert.Equal(t, "root", gotName)
}
