package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rift/core/internal/config"
	"github.com/rift/core/internal/node"
	"github.com/rift/core/internal/riftlog"
)

const defaultConfigLoc = `/etc/rift/node.conf`

var (
	confLoc  = flag.String("config-file", defaultConfigLoc, "Location for node topology configuration")
	logLevel = flag.String("log-level", "INFO", "Minimum log level (DEBUG, INFO, WARN, ERROR, CRITICAL)")
	lg       *riftlog.Logger
)

func init() {
	flag.Parse()
	lg = riftlog.New("riftd", os.Stderr)
	if lvl, err := riftlog.LevelFromString(*logLevel); err == nil {
		lg.SetLevel(lvl)
	}
}

func main() {
	cfg, err := config.Load(*confLoc)
	if err != nil {
		lg.Error("failed to load configuration", riftlog.SD("path", *confLoc), riftlog.SD("error", err.Error()))
		os.Exit(1)
	}

	n, err := node.New(cfg, lg)
	if err != nil {
		lg.Error("failed to build node", riftlog.SD("error", err.Error()))
		os.Exit(1)
	}
	defer n.Close()

	lg.Info("node started", riftlog.SD("system-id", fmt.Sprintf("%d", cfg.SystemID)), riftlog.SD("instance", cfg.InstanceID.String()))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-sigCh:
			lg.Info("shutting down")
			return
		case <-ticker.C:
			for _, err := range n.Step() {
				lg.Warn("step error", riftlog.SD("error", err.Error()))
			}
		}
	}
}
