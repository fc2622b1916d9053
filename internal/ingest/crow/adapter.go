// Package crow implements the datagram pub/sub ingest adapter over a small
// in-house protocol nicknamed "Crow": JSON
// envelopes sent as UDP datagrams, with a qos field distinguishing reliable
// (acked, periodically re-subscribed) from unreliable delivery.
package crow

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/mirmik/webkin/internal/ingest"
	"github.com/mirmik/webkin/internal/kinematics"
)

// Quality of service levels for a Crow subscription.
const (
	QoSUnreliable = 0 // fire-and-forget; used for high-frequency joint updates.
	QoSReliable   = 1 // acked, with periodic re-subscribe; used for the tree document.
)

// Design-level defaults for the Crow protocol's ack cadence and keepalive.
const (
	treeAckPeriod   = 100 * time.Millisecond
	treeKeepalive   = 2 * time.Second
	jointsAckPeriod = 50 * time.Millisecond
	readBufferSize  = 64 * 1024
)

// Config configures the Crow adapter.
type Config struct {
	CrowkerAddr string
	JointsTopic string
	TreeTopic   string
}

// envelope is the wire shape of every Crow datagram.
type envelope struct {
	Op          string          `json:"op"`
	Topic       string          `json:"topic,omitempty"`
	QoS         int             `json:"qos,omitempty"`
	AckPeriodMs int64           `json:"ack_period_ms,omitempty"`
	Seq         uint64          `json:"seq,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// Adapter is the Crow-backed ingest.Adapter.
type Adapter struct {
	cfg Config
	log *slog.Logger

	conn    *net.UDPConn
	addr    *net.UDPAddr
	running bool
	wg      sync.WaitGroup
	stop    chan struct{}

	mu       sync.Mutex
	onTree   ingest.TreeCallback
	onJoints ingest.JointsCallback
}

// New returns an Adapter for cfg.
func New(cfg Config, log *slog.Logger) *Adapter {
	return &Adapter{cfg: cfg, log: log}
}

// Init resolves the crowker address. It does not open a socket yet.
func (a *Adapter) Init() error {
	addr, err := net.ResolveUDPAddr("udp", a.cfg.CrowkerAddr)
	if err != nil {
		return fmt.Errorf("%w: resolve %q: %v", ingest.ErrTransport, a.cfg.CrowkerAddr, err)
	}
	a.addr = addr
	return nil
}

// Connect opens the UDP endpoint, subscribes to both topics, and starts the
// background read loop plus the tree-subscription keepalive.
func (a *Adapter) Connect() error {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		return fmt.Errorf("%w: listen: %v", ingest.ErrTransport, err)
	}
	a.conn = conn
	a.stop = make(chan struct{})
	a.running = true

	if err := a.sendSubscribe(a.cfg.TreeTopic, QoSReliable, treeAckPeriod); err != nil {
		a.log.Warn("crow: tree subscribe failed", "err", err)
	}
	if err := a.sendSubscribe(a.cfg.JointsTopic, QoSUnreliable, jointsAckPeriod); err != nil {
		a.log.Warn("crow: joints subscribe failed", "err", err)
	}

	a.wg.Add(2)
	go a.readLoop()
	go a.keepaliveLoop()
	return nil
}

func (a *Adapter) sendSubscribe(topic string, qos int, ackPeriod time.Duration) error {
	msg := envelope{Op: "subscribe", Topic: topic, QoS: qos, AckPeriodMs: ackPeriod.Milliseconds()}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = a.conn.WriteToUDP(data, a.addr)
	return err
}

func (a *Adapter) keepaliveLoop() {
	defer a.wg.Done()
	t := time.NewTicker(treeKeepalive)
	defer t.Stop()
	for {
		select {
		case <-a.stop:
			return
		case <-t.C:
			if err := a.sendSubscribe(a.cfg.TreeTopic, QoSReliable, treeAckPeriod); err != nil {
				a.log.Warn("crow: keepalive resubscribe failed", "err", err)
			}
		}
	}
}

func (a *Adapter) readLoop() {
	defer a.wg.Done()
	buf := make([]byte, readBufferSize)
	for {
		select {
		case <-a.stop:
			return
		default:
		}
		a.conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, from, err := a.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			select {
			case <-a.stop:
				return
			default:
				a.log.Warn("crow: read error", "err", err)
				continue
			}
		}
		a.handleDatagram(buf[:n], from)
	}
}

func (a *Adapter) handleDatagram(data []byte, from *net.UDPAddr) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		a.log.Warn("crow: dropping malformed datagram", "err", err)
		return
	}
	if env.Op != "publish" {
		return
	}
	if env.QoS == QoSReliable {
		a.sendAck(env.Seq, from)
	}

	switch env.Topic {
	case a.cfg.TreeTopic:
		a.deliverTree(env.Payload)
	case a.cfg.JointsTopic:
		a.deliverJoints(env.Payload)
	}
}

func (a *Adapter) sendAck(seq uint64, to *net.UDPAddr) {
	ack := envelope{Op: "ack", Seq: seq}
	data, err := json.Marshal(ack)
	if err != nil {
		return
	}
	a.conn.WriteToUDP(data, to)
}

func (a *Adapter) deliverTree(payload json.RawMessage) {
	var doc kinematics.Doc
	if err := json.Unmarshal(payload, &doc); err != nil {
		a.log.Warn("crow: dropping malformed tree payload", "err", err)
		return
	}
	a.mu.Lock()
	cb := a.onTree
	a.mu.Unlock()
	if cb != nil {
		cb(doc)
	}
}

func (a *Adapter) deliverJoints(payload json.RawMessage) {
	var vals map[string]float64
	if err := json.Unmarshal(payload, &vals); err != nil {
		a.log.Warn("crow: dropping malformed joints payload", "err", err)
		return
	}
	a.mu.Lock()
	cb := a.onJoints
	a.mu.Unlock()
	if cb != nil {
		cb(vals)
	}
}

// Disconnect stops the background goroutines and closes the socket.
func (a *Adapter) Disconnect() {
	if !a.running {
		return
	}
	a.running = false
	close(a.stop)
	if a.conn != nil {
		a.conn.Close()
	}
	a.wg.Wait()
}

// OnTree registers the tree-document callback.
func (a *Adapter) OnTree(cb ingest.TreeCallback) {
	a.mu.Lock()
	a.onTree = cb
	a.mu.Unlock()
}

// OnJoints registers the joint-update callback.
func (a *Adapter) OnJoints(cb ingest.JointsCallback) {
	a.mu.Lock()
	a.onJoints = cb
	a.mu.Unlock()
}

// IsConnected reports whether the background loops are running.
func (a *Adapter) IsConnected() bool {
	return a.running
}

var _ ingest.Adapter = (*Adapter)(nil)
