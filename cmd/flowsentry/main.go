package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/oarkflow/ip"

	"github.com/oarkflow/flowsentry"
)

func main() {
	var (
		configDir  = flag.String("config", "configs", "configuration directory")
		listenAddr = flag.String("listen", ":9410", "control API listen address")
		dbPath     = flag.String("db", "", "sqlite event database path (empty = in-memory store)")
		source     = flag.String("source", "ingest0", "traffic source name")
		logFile    = flag.String("log-file", "", "log file path (empty = console)")
		logLevel   = flag.String("log-level", "info", "log level")
		adminToken = flag.String("admin-token", "", "control API admin token (empty disables auth)")
	)
	flag.Parse()

	if err := run(*configDir, *listenAddr, *dbPath, *source, *logFile, *logLevel, *adminToken); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configDir, listenAddr, dbPath, source, logFile, logLevel, adminToken string) error {
	ip.Init()

	logger := flowsentry.NewConsoleLogger(logLevel)
	rotate := func() error { return nil }
	if logFile != "" {
		var rotateFn func() error
		logger, rotateFn = flowsentry.NewFileLogger(logLevel, logFile)
		rotate = rotateFn
	}

	var store flowsentry.EventStore
	if dbPath != "" {
		sqlStore, err := flowsentry.NewSQLEventStore(dbPath)
		if err != nil {
			return err
		}
		store = sqlStore
	} else {
		store = flowsentry.NewInMemoryEventStore(0)
	}
	defer store.Close()

	config, err := flowsentry.LoadConfig(configDir)
	if err != nil {
		return err
	}
	if err := flowsentry.NewDefaultConfigValidator().Validate(config); err != nil {
		return err
	}
	runtime, err := flowsentry.BuildRuntime(config, flowsentry.DefaultOptionRegistry())
	if err != nil {
		return err
	}

	metrics := flowsentry.NewInMemoryMetricsCollector()
	ledger := flowsentry.NewDetectionLedger(0)

	src := flowsentry.NewChanSource(0)
	pipeline := flowsentry.NewDetectionPipeline(source, store, ledger, metrics, logger)
	handle := flowsentry.NewConfigHandle(runtime, nil)
	analyzer := flowsentry.NewAnalyzer(source, src, pipeline, handle, logger)
	analyzer.SetRotateHook(rotate)

	watcher := flowsentry.NewConfigWatcher(configDir, flowsentry.DefaultOptionRegistry(), logger)
	watcher.Register(analyzer)
	if err := watcher.Start(); err != nil {
		return err
	}
	defer watcher.Stop()

	var adminHash []byte
	if adminToken != "" {
		adminHash, err = flowsentry.HashAdminToken(adminToken)
		if err != nil {
			return err
		}
	}

	control := flowsentry.NewControlServer(flowsentry.ControlServerOptions{
		Watcher:   watcher,
		Store:     store,
		Metrics:   metrics,
		Ledger:    ledger,
		Logger:    logger,
		AdminHash: adminHash,
	})
	control.Register(analyzer, src)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runDone := make(chan struct{})
	go func() {
		analyzer.Run(ctx)
		close(runDone)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-shutdown
		logger.Info().Msg("shutting down")
		analyzer.Execute(flowsentry.CommandStop)
		src.Close()
		if err := control.Shutdown(); err != nil {
			logger.Error().Err(err).Msg("control server shutdown failed")
		}
	}()

	logger.Info().Str("addr", listenAddr).Str("config", configDir).Msg("flowsentry control API listening")
	if err := control.Listen(listenAddr); err != nil {
		return err
	}

	<-runDone
	logger.Info().Uint64("packets", analyzer.Count()).Msg("analyzer drained")
	return nil
}
