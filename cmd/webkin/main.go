// Command webkin serves a kinematic tree over REST and WebSocket,
// optionally fed by an MQTT or Crow ingest transport.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mirmik/webkin/internal/bundle"
	"github.com/mirmik/webkin/internal/calibration"
	"github.com/mirmik/webkin/internal/config"
	"github.com/mirmik/webkin/internal/coordinator"
	"github.com/mirmik/webkin/internal/errorsx"
	"github.com/mirmik/webkin/internal/httpapi"
	"github.com/mirmik/webkin/internal/ingest"
	"github.com/mirmik/webkin/internal/ingest/crow"
	"github.com/mirmik/webkin/internal/ingest/mqtt"
	"github.com/mirmik/webkin/internal/kinematics"
)

func main() {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	log := newLogger(cfg.Debug)
	errs := errorsx.New(log)

	store := calibration.New(cfg.OverridesPath, log)
	errorsx.Ignore1(0, store.Load())

	coord := coordinator.New(store, cfg.ZUp, log)

	doc, err := loadInitialTree(cfg, log)
	if err != nil {
		log.Warn("main: no tree source available, starting empty", "err", err)
	} else if err := coord.LoadTree(doc); err != nil {
		log.Warn("main: initial tree rejected", "err", err)
	}

	adapter, transportKind := buildAdapter(cfg, log)
	if adapter != nil {
		wireAdapter(adapter, coord, log)
		if err := adapter.Init(); err != nil {
			log.Warn("main: ingest init failed", "transport", transportKind, "err", err)
		} else if err := adapter.Connect(); err != nil {
			log.Warn("main: ingest connect failed, serving with fallback tree", "transport", transportKind, "err", err)
		}
	}

	transportInfo := httpapi.TransportInfo{Kind: transportKind}
	if adapter != nil {
		transportInfo.Connected = adapter.IsConnected
	}

	handler := httpapi.NewServer(coord, cfg.ZUp, transportInfo, log)
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	srv := &http.Server{Addr: addr, Handler: handler}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info("main: listening", "addr", addr, "transport", transportKind)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs.Log(err)
		}
	}()

	<-ctx.Done()
	log.Info("main: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	errs.Log(srv.Shutdown(shutdownCtx))

	if adapter != nil {
		adapter.Disconnect()
	}
}

func newLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if debug {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

// loadInitialTree resolves the startup tree from --k3d if given, otherwise
// falls back to a single-node tree so the server still answers /api/tree
// and /ws even with no bundle and no transport configured.
func loadInitialTree(cfg config.Config, log *slog.Logger) (kinematics.Doc, error) {
	if cfg.K3D == "" {
		return fallbackTree(), nil
	}
	loader := &bundle.Loader{}
	doc, _, err := loader.Load(cfg.K3D)
	if err != nil {
		return kinematics.Doc{}, fmt.Errorf("load bundle %q: %w", cfg.K3D, err)
	}
	return doc, nil
}

func fallbackTree() kinematics.Doc {
	return kinematics.Doc{Node: kinematics.Node{
		Name: "root",
		Type: kinematics.KindTransform,
		Pose: kinematics.WirePose{
			Position:    kinematics.WireVec3{0, 0, 0},
			Orientation: [4]float64{0, 0, 0, 1},
		},
	}}
}

func buildAdapter(cfg config.Config, log *slog.Logger) (ingest.Adapter, string) {
	switch cfg.Transport {
	case config.TransportMQTT:
		a := mqtt.New(mqtt.Config{
			BrokerHost:  cfg.MQTTBroker,
			BrokerPort:  cfg.MQTTPort,
			JointsTopic: cfg.MQTTTopicJoints,
			TreeTopic:   cfg.MQTTTopicTree,
		}, log)
		return a, "mqtt"
	case config.TransportCrow:
		a := crow.New(crow.Config{
			CrowkerAddr: cfg.CrowkerAddr,
			JointsTopic: cfg.CrowTopicJoints,
			TreeTopic:   cfg.CrowTopicTree,
		}, log)
		return a, "crow"
	default:
		return nil, "none"
	}
}

func wireAdapter(a ingest.Adapter, coord *coordinator.Coordinator, log *slog.Logger) {
	a.OnTree(func(doc kinematics.Doc) {
		if err := coord.LoadTree(doc); err != nil {
			log.Warn("main: ingest tree update rejected", "err", err)
		}
	})
	a.OnJoints(func(values map[string]float64) {
		if err := coord.UpdateJoints(values); err != nil {
			log.Warn("main: ingest joint update failed", "err", err)
		}
	})
}
