package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"framesync/config"
	"framesync/pkg/cluster"
	"framesync/pkg/control"
	"framesync/pkg/coordinator"
	"framesync/pkg/diag"
	"framesync/pkg/sharedstate"
	"framesync/pkg/stats"
	"framesync/pkg/tracking"
	"framesync/pkg/transfer"
	"framesync/pkg/transport"
)

var (
	configPath = flag.String("config", "", "Path to configuration file")
	nodeID     = flag.String("node-id", "", "Node ID within the cluster")
	role       = flag.String("role", "", "Node role (master or client)")
	address    = flag.String("address", "", "Listen address (master role)")
	masterAddr = flag.String("master", "", "Master address to connect to (client role)")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	applyFlags(cfg)
	if err := revalidate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := hclog.New(&hclog.LoggerOptions{
		Name:       "framesync",
		Level:      hclog.LevelFromString(cfg.Logging.Level),
		JSONFormat: cfg.Logging.Format == "json",
	})

	if err := run(cfg, logger); err != nil {
		logger.Error("node failed", "error", err)
		os.Exit(1)
	}
}

func applyFlags(cfg *config.Config) {
	if *nodeID != "" {
		cfg.Node.ID = *nodeID
	}
	if *role != "" {
		cfg.Node.Role = *role
	}
	if *address != "" {
		cfg.Node.Address = *address
	}
	if *masterAddr != "" {
		cfg.Sync.MasterAddress = *masterAddr
	}
}

func revalidate(cfg *config.Config) error {
	if cfg.Node.ID == "" {
		return fmt.Errorf("node id is required (use -node-id)")
	}
	if cfg.Node.Role == "client" && cfg.Sync.MasterAddress == "" {
		return fmt.Errorf("client nodes need -master")
	}
	return nil
}

func run(cfg *config.Config, logger hclog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clusterRole := cluster.RoleClient
	if cfg.IsMaster() {
		clusterRole = cluster.RoleMaster
	}
	nodes := cluster.NewManager(cluster.Config{
		NodeID:  cfg.Node.ID,
		Address: cfg.Node.Address,
		Role:    clusterRole,
	})

	app := newAppState()
	stateCh := sharedstate.NewChannel(logger, app.encode, app.decode)
	st := stats.New()

	// The master mints the session id; clients adopt it from the master's
	// handshake on connect.
	session := ""
	if cfg.IsMaster() {
		session = uuid.New().String()
	}
	hub := transport.NewHub(logger, transport.Handshake{
		NodeID:  cfg.Node.ID,
		Session: session,
		Master:  cfg.IsMaster(),
	})

	sampler := buildTracking(cfg, logger)

	coord := coordinator.New(logger, nodes, hub, stateCh, st, coordinator.Config{
		Timeout:          cfg.SyncTimeout(),
		PrintWaitMessage: cfg.Sync.PrintSyncMessages,
	}, coordinator.Callbacks{
		PreSync: func() {
			st.SetSamplingLatency(sampler.SamplingTime())
			if cfg.IsMaster() {
				app.advance()
			}
		},
		Draw: app.draw,
	})
	coord.SetHeadSource(sampler, app.setViewTransform)

	transfers := transfer.NewChannel(logger, hub, nodes)
	transfers.OnReceive(func(payload []byte, id uint32, from string) {
		logger.Info("asset received", "id", id, "bytes", len(payload), "from", from)
	})

	hub.OnMessage(func(from string, msg transport.Message) {
		switch msg.Kind {
		case transport.KindTransfer, transport.KindTransferAck:
			transfers.HandleMessage(from, msg)
		default:
			coord.HandleMessage(from, msg)
		}
	})
	hub.OnStatus(func(nodeID string, connected bool) {
		coord.HandleStatus(nodeID, connected)
		transfers.HandlePeerStatus(nodeID, connected)
	})

	// The role-defining connection: without it no cluster session can
	// proceed, so failure here aborts startup.
	if cfg.IsMaster() {
		if err := hub.Listen(cfg.Node.Address); err != nil {
			return err
		}
	} else {
		dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := hub.Connect(dialCtx, cfg.Sync.MasterAddress)
		cancel()
		if err != nil {
			return err
		}
	}
	defer hub.Close()

	if err := sampler.Start(); err != nil {
		// Tracking is optional; a broken binding degrades to an identity
		// transform rather than blocking startup.
		logger.Warn("tracking unavailable", "error", err)
	}
	defer sampler.Stop()

	if cfg.Diagnostics.Enabled {
		ds := diag.New(logger, nodes, coord, st, sampler, hub)
		if err := ds.Start(cfg.Diagnostics.Address); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			ds.Shutdown(shutdownCtx)
		}()
	}

	if cfg.Control.Enabled && cfg.IsMaster() {
		cs := control.NewServer(logger, app.handleControl, func(connected bool) {
			if connected {
				logger.Info("external control connected")
			} else {
				logger.Info("external control disconnected")
			}
		})
		if err := cs.Start(cfg.Control.Address); err != nil {
			return err
		}
		defer cs.Close()
	}

	logger.Info("node running", "id", cfg.Node.ID, "role", cfg.Node.Role)

	go func() {
		<-ctx.Done()
		coord.Stop()
	}()

	for {
		if err := coord.RunFrame(); err != nil {
			break
		}
	}

	logger.Info("shutting down", "frames", coord.Frame(), "missed_syncs", st.MissedSyncs())
	return nil
}

func buildTracking(cfg *config.Config, logger hclog.Logger) *tracking.Manager {
	sampler := tracking.NewManager(logger, cfg.SampleInterval())
	for _, tc := range cfg.Tracking.Trackers {
		tr := sampler.AddTracker(tc.Name)
		if tc.Scale > 0 {
			tr.SetScale(tc.Scale)
		}
		if len(tc.Offset) == 3 {
			tr.SetOffset(mgl32.Vec3{
				float32(tc.Offset[0]),
				float32(tc.Offset[1]),
				float32(tc.Offset[2]),
			})
		}
		for _, dc := range tc.Devices {
			d := tr.AddDevice(dc.Name)
			d.SetSensorID(dc.Sensor)
			d.SetButtonCount(dc.Buttons)
			d.SetAxisCount(dc.Axes)
			d.SetEnabled(!dc.Disabled)
		}
	}
	if cfg.Tracking.HeadTracker != "" {
		sampler.SetHeadBinding(tracking.HeadBinding{
			Tracker: cfg.Tracking.HeadTracker,
			Device:  cfg.Tracking.HeadDevice,
		})
	}
	return sampler
}
