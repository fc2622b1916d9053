// Package config resolves the server's CLI flags and environment
// variables into one immutable Config value, whose fields the caller passes
// to each constructor rather than having them read ambient global state.
package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
)

// Transport selects which ingest adapter the server wires in.
type Transport string

const (
	TransportNone Transport = ""
	TransportMQTT Transport = "mqtt"
	TransportCrow Transport = "crow"
)

// Config is the fully resolved server configuration.
type Config struct {
	Host string
	Port int
	ZUp  bool
	K3D  string
	Debug bool

	Transport Transport

	MQTTBroker      string
	MQTTPort        int
	MQTTTopicJoints string
	MQTTTopicTree   string

	CrowkerAddr     string
	CrowTopicJoints string
	CrowTopicTree   string

	OverridesPath string
}

// Parse resolves flags against args, layered under environment variable
// defaults.
func Parse(args []string) (Config, error) {
	fs := flag.NewFlagSet("webkin", flag.ContinueOnError)

	host := fs.String("host", "0.0.0.0", "address to bind the HTTP/WebSocket server to")
	port := fs.Int("port", 8080, "port to bind the HTTP/WebSocket server to")
	zUp := fs.Bool("z-up", envBool("Z_UP", false), "forward a z-up hint to clients (no server-side rotation)")
	k3d := fs.String("k3d", os.Getenv("K3D_FILE"), "path to a .k3d scene bundle to load at startup")
	debug := fs.Bool("debug", false, "widen log verbosity to debug")

	useMQTT := fs.Bool("mqtt", false, "use the MQTT ingest adapter")
	useCrow := fs.Bool("crow", false, "use the Crow datagram ingest adapter")

	mqttBroker := fs.String("mqtt-broker", "localhost", "MQTT broker host")
	mqttPort := fs.Int("mqtt-port", 1883, "MQTT broker port")
	mqttTopicJoints := fs.String("mqtt-topic-joints", "webkin/joints", "MQTT joints topic")
	mqttTopicTree := fs.String("mqtt-topic-tree", "webkin/tree", "MQTT tree topic")

	crowker := fs.String("crowker", "localhost:9000", "Crow broker address")
	crowTopicJoints := fs.String("crow-topic-joints", "joints", "Crow joints topic")
	crowTopicTree := fs.String("crow-topic-tree", "tree", "Crow tree topic")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if *useMQTT && *useCrow {
		return Config{}, fmt.Errorf("config: --mqtt and --crow are mutually exclusive")
	}

	transport := TransportNone
	switch {
	case *useMQTT:
		transport = TransportMQTT
	case *useCrow:
		transport = TransportCrow
	}

	overridesPath, err := overridesPath()
	if err != nil {
		return Config{}, err
	}

	return Config{
		Host:      *host,
		Port:      *port,
		ZUp:       *zUp,
		K3D:       *k3d,
		Debug:     *debug,
		Transport: transport,

		MQTTBroker:      *mqttBroker,
		MQTTPort:        *mqttPort,
		MQTTTopicJoints: *mqttTopicJoints,
		MQTTTopicTree:   *mqttTopicTree,

		CrowkerAddr:     *crowker,
		CrowTopicJoints: *crowTopicJoints,
		CrowTopicTree:   *crowTopicTree,

		OverridesPath: overridesPath,
	}, nil
}

// overridesPath resolves <config>/webkin/axis_overrides.json using
// os.UserConfigDir, which honors XDG_CONFIG_HOME (falling back to HOME) on
// Unix without needing a $HOME-only resolver.
func overridesPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("config: resolve config dir: %w", err)
	}
	return filepath.Join(dir, "webkin", "axis_overrides.json"), nil
}

func envBool(name string, def bool) bool {
	v, ok := os.LookupEnv(name)
	if !ok {
		return def
	}
	switch v {
	case "1", "true", "TRUE", "True":
		return true
	case "0", "false", "FALSE", "False":
		return false
	default:
		return def
	}
}
