// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of status-server.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// status-server is the process bootstrap for the attribute storage and
// ingestion engine: it loads the XML configuration, builds the engine,
// starts collection, and waits for SIGINT/SIGTERM to run a graceful,
// checkpointing shutdown -- the signal-handling idiom is adapted from the
// teacher's cmd/cc-backend/main.go.
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/hereon-wpi/status-server/internal/config"
	"github.com/hereon-wpi/status-server/internal/device"
	"github.com/hereon-wpi/status-server/internal/engine"
	"github.com/hereon-wpi/status-server/pkg/corelog"
)

func main() {
	var (
		configPath = flag.String("config", "./config.xml", "Path to the XML engine configuration")
		logLevel   = flag.String("loglevel", "info", "One of debug, info, warn, err")
		logDate    = flag.Bool("logdate", false, "Include date/time in log output")
		mode       = flag.String("mode", "heavy", "Initial collection mode: light or heavy")
	)
	flag.Parse()

	corelog.SetLevel(*logLevel)
	corelog.SetLogDateTime(*logDate)

	cfg, err := config.Load(*configPath)
	if err != nil {
		corelog.Abortf("[MAIN]> loading configuration: %v", err)
	}

	builder, err := engine.NewBuilder(cfg, defaultFactories())
	if err != nil {
		corelog.Abortf("[MAIN]> constructing engine builder: %v", err)
	}

	eng, err := builder.Build(cfg)
	if err != nil {
		corelog.Abortf("[MAIN]> building engine: %v", err)
	}

	if failed := eng.FailedAttributes(); len(failed) > 0 {
		corelog.Warnf("[MAIN]> %d attribute(s) failed to resolve and were skipped: %v", len(failed), failed)
	}

	collectMode := engine.HeavyDuty
	if *mode == "light" {
		collectMode = engine.LightPoll
	}

	if err := eng.StartCollect(collectMode); err != nil {
		corelog.Abortf("[MAIN]> starting collection: %v", err)
	}
	corelog.Infof("[MAIN]> collecting in %s mode", eng.Status())

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs

	corelog.Info("[MAIN]> shutdown signal received, checkpointing and exiting")
	if err := eng.Shutdown(); err != nil {
		corelog.Errorf("[MAIN]> shutdown encountered errors: %v", err)
		os.Exit(1)
	}
}

// defaultFactories registers the transports this build understands. A
// device's <device transport="..."> attribute selects one by name.
func defaultFactories() map[string]device.Factory {
	return map[string]device.Factory{
		"nats": func(deviceName string, rawConfig map[string]any) (device.Client, error) {
			cfg := device.NatsClientConfig{}
			if addr, ok := rawConfig["address"].(string); ok {
				cfg.Address = addr
			}
			if user, ok := rawConfig["username"].(string); ok {
				cfg.Username = user
			}
			if pass, ok := rawConfig["password"].(string); ok {
				cfg.Password = pass
			}
			if creds, ok := rawConfig["credsFilePath"].(string); ok {
				cfg.CredsFilePath = creds
			}
			return device.NewNatsClient(deviceName, cfg)
		},
	}
}
