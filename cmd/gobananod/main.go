// Package main provides the gobananod daemon - a block-lattice node core.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/stjet/gobanano/internal/config"
	"github.com/stjet/gobanano/internal/ledger"
	"github.com/stjet/gobanano/internal/node"
	"github.com/stjet/gobanano/internal/stats"
	"github.com/stjet/gobanano/internal/websocket"
	"github.com/stjet/gobanano/pkg/logging"
)

var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

func main() {
	var (
		dataDir     = flag.String("data-dir", "~/.gobanano", "Data directory")
		listenAddr  = flag.String("listen", "", "Peering listen address, overrides config")
		networkName = flag.String("network", "", "Network (live, beta, dev), overrides config")
		peers       = flag.String("peers", "", "Preconfigured peers (comma-separated host:port)")
		logLevel    = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
		enableWS    = flag.Bool("websocket", false, "Enable the websocket notification server")
		showVersion = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	log := logging.New(&logging.Config{
		Level:      *logLevel,
		TimeFormat: time.TimeOnly,
	})
	logging.SetDefault(log)

	if *showVersion {
		log.Infof("gobananod %s (commit: %s)", version, commit)
		os.Exit(0)
	}

	cfg, err := config.LoadConfig(*dataDir)
	if err != nil {
		log.Fatal("Failed to load config", "error", err)
	}

	// CLI flags take precedence over the config file.
	if *listenAddr != "" {
		cfg.Node.ListenAddr = *listenAddr
	}
	if *networkName != "" {
		cfg.Network = config.NetworkType(*networkName)
	}
	if *peers != "" {
		cfg.Node.PreconfiguredPeers = splitPeers(*peers)
	}
	if *enableWS {
		cfg.Websocket.Enabled = true
	}
	cfg.Logging.Level = *logLevel
	cfg.Storage.DataDir = *dataDir

	log = logging.New(&logging.Config{
		Level:      cfg.Logging.Level,
		TimeFormat: time.TimeOnly,
	})
	logging.SetDefault(log)
	log.Info("Config loaded", "path", config.ConfigPath(*dataDir), "network", cfg.Network)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := stats.New()

	store, err := ledger.NewSqliteStore(config.ExpandPath(cfg.Storage.DataDir))
	if err != nil {
		log.Fatal("Failed to open ledger store", "error", err)
	}
	defer store.Close()

	constants := config.NetworkConstantsFor(cfg.Network)
	ledgerConstants := config.LedgerConstantsFor(cfg.Network)
	l, err := ledger.NewLedger(store, ledgerConstants, constants.WorkThresholds, st)
	if err != nil {
		log.Fatal("Failed to open ledger", "error", err)
	}

	var notifier *websocket.Server
	if cfg.Websocket.Enabled {
		notifier = websocket.NewServer(cfg.Websocket.Listen)
		if err := notifier.Start(); err != nil {
			log.Fatal("Failed to start websocket server", "error", err)
		}
		defer notifier.Stop()
	}
	l.SetObserver(node.NewLedgerObserver(st, notifier))

	n, err := node.New(ctx, cfg, l, st, config.NodeFlags{})
	if err != nil {
		log.Fatal("Failed to create node", "error", err)
	}

	if err := n.Start(); err != nil {
		log.Fatal("Failed to start node", "error", err)
	}

	nodeID, _ := n.NodeID()
	log.Info("Node started", "version", version, "node_id", nodeID)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("Shutting down")
	n.Stop()
}

func splitPeers(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
