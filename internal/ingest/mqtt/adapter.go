// Package mqtt implements the topic-broker ingest adapter over
// github.com/eclipse/paho.mqtt.golang.
package mqtt

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/mirmik/webkin/internal/ingest"
	"github.com/mirmik/webkin/internal/kinematics"
)

// Config configures the MQTT adapter.
type Config struct {
	BrokerHost  string
	BrokerPort  int
	JointsTopic string
	TreeTopic   string
}

// Adapter is the MQTT-backed ingest.Adapter.
type Adapter struct {
	cfg Config
	log *slog.Logger

	client paho.Client

	onTree   ingest.TreeCallback
	onJoints ingest.JointsCallback
}

// New returns an Adapter for cfg. Call Init then Connect to start
// receiving callbacks.
func New(cfg Config, log *slog.Logger) *Adapter {
	return &Adapter{cfg: cfg, log: log}
}

// Init builds the underlying paho client. It does not connect yet.
func (a *Adapter) Init() error {
	opts := paho.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", a.cfg.BrokerHost, a.cfg.BrokerPort)).
		SetClientID("webkin-" + a.cfg.JointsTopic).
		SetAutoReconnect(true).
		SetConnectTimeout(3 * time.Second)
	a.client = paho.NewClient(opts)
	return nil
}

// Connect dials the broker and subscribes to both configured topics. A
// connection failure is wrapped in ingest.ErrTransport and is non-fatal:
// the caller logs it and the server keeps serving with its current tree.
func (a *Adapter) Connect() error {
	token := a.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("%w: %v", ingest.ErrTransport, token.Error())
	}

	if err := a.subscribe(a.cfg.TreeTopic, a.dispatchTree); err != nil {
		return err
	}
	if err := a.subscribe(a.cfg.JointsTopic, a.dispatchJoints); err != nil {
		return err
	}
	return nil
}

func (a *Adapter) subscribe(topic string, handler paho.MessageHandler) error {
	token := a.client.Subscribe(topic, 0, handler)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("%w: subscribe %q: %v", ingest.ErrTransport, topic, token.Error())
	}
	return nil
}

func (a *Adapter) dispatchTree(_ paho.Client, msg paho.Message) {
	var doc kinematics.Doc
	if err := json.Unmarshal(msg.Payload(), &doc); err != nil {
		a.log.Warn("mqtt: dropping malformed tree payload", "topic", msg.Topic(), "err", err)
		return
	}
	if a.onTree != nil {
		a.onTree(doc)
	}
}

func (a *Adapter) dispatchJoints(_ paho.Client, msg paho.Message) {
	var vals map[string]float64
	if err := json.Unmarshal(msg.Payload(), &vals); err != nil {
		a.log.Warn("mqtt: dropping malformed joints payload", "topic", msg.Topic(), "err", err)
		return
	}
	if a.onJoints != nil {
		a.onJoints(vals)
	}
}

// Disconnect closes the client connection, waiting up to 250ms for pending
// work to finish. It does not send explicit unsubscribes.
func (a *Adapter) Disconnect() {
	if a.client == nil {
		return
	}
	a.client.Disconnect(250)
}

// OnTree registers the tree-document callback.
func (a *Adapter) OnTree(cb ingest.TreeCallback) { a.onTree = cb }

// OnJoints registers the joint-update callback.
func (a *Adapter) OnJoints(cb ingest.JointsCallback) { a.onJoints = cb }

// IsConnected reports the underlying client's connection state.
func (a *Adapter) IsConnected() bool {
	return a.client != nil && a.client.IsConnected()
}

var _ ingest.Adapter = (*Adapter)(nil)
