package main

import (
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"medchain/config"
	"medchain/core"
	"medchain/observability"
	"medchain/observability/logging"
	"medchain/rpc"
	"medchain/storage"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	logger := logging.Setup("mediatord", cfg.Environment)

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	// Touch the metrics registry before serving so the collectors exist even
	// if no request has arrived yet.
	observability.ModuleMetrics()
	http.Handle("/metrics", promhttp.Handler())

	node := core.NewNode(db, core.PauseSet(cfg.Paused()))
	server := rpc.NewServer(node, cfg.RPCToken)

	logger.Info("starting mediator node",
		slog.String("network", cfg.NetworkName),
		slog.String("rpc", cfg.RPCAddress),
		slog.String("data_dir", cfg.DataDir),
	)

	if err := server.Start(cfg.RPCAddress); err != nil {
		logger.Error("RPC server terminated", slog.Any("error", err))
		os.Exit(1)
	}
}
