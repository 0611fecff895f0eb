// Copyright (c) 2013-2017 The btcsuite developers
// Copyright (c) 2015-2016 The Decred developers
// Copyright (C) 2015-2017 The Lightning Network Developers

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	flags "github.com/jessevdk/go-flags"

	"github.com/breez/mempooltracker/api"
	"github.com/breez/mempooltracker/build"
	"github.com/breez/mempooltracker/mempool"
	"github.com/breez/mempooltracker/mempoolcfg"
	"github.com/breez/mempooltracker/rpcpool"
	"github.com/breez/mempooltracker/txdecoder"
	"github.com/breez/mempooltracker/zmqsub"
)

var mpLog = build.NewSubLogger("MPTK")

func main() {
	if err := run(); err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run wires every collaborator together and blocks until an
// interrupt or fatal error ends the process, in the manner of
// cmd/lnd's nested-main/daemon split.
func run() error {
	cfg, err := mempoolcfg.Load(os.Args[1:])
	if err != nil {
		return err
	}

	if cfg.LogDir != "" {
		logFile := filepath.Join(cfg.LogDir, "mempoold.log")
		if err := build.InitLogRotator(logFile, cfg.MaxLogFileSizeKB, cfg.MaxLogFiles); err != nil {
			return fmt.Errorf("initializing log rotator: %w", err)
		}
	}
	build.SetLevels(cfg.LogLevel)
	mpLog.Infof("starting mempool tracker, profile=%s", cfg.Profile())

	rpc, err := rpcpool.New(rpcpool.Config{
		Host:       cfg.RPCEndpoint,
		User:       cfg.RPCUser,
		Pass:       cfg.RPCPass,
		CookiePath: cfg.RPCCookiePath,
		DisableTLS: true,
		PoolCount:  cfg.RPCPoolCount,
		PoolSize:   cfg.RPCPoolSize,
	})
	if err != nil {
		return fmt.Errorf("connecting to node: %w", err)
	}
	defer rpc.Shutdown()

	decoder := txdecoder.New(rpc)

	profile := mempool.ProfilePersonal
	if cfg.Profile() == mempoolcfg.ProfilePublic {
		profile = mempool.ProfilePublic
	}

	apiServer := api.NewServer(nil)
	tracker := mempool.NewTracker(profile, apiServer.Publish)
	defer tracker.Stop()
	apiServer.SetTracker(tracker)

	source := zmqsub.New(zmqsub.Endpoints{
		Sequence: cfg.Notifications.Sequence,
		RawTx:    cfg.Notifications.RawTx,
		RawBlock: cfg.Notifications.RawBlock,
	})
	defer source.Close()

	dispatcher := mempool.NewDispatcher(source, tracker, decoder, decoder, mpLog)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := dispatcher.Start(ctx); err != nil {
		return fmt.Errorf("starting dispatcher: %w", err)
	}
	defer dispatcher.Stop()

	reconciler := mempool.NewReconciler(tracker, rpc, decoder, mpLog)
	go runReconcilerLoop(ctx, reconciler, cfg.ResyncPeriod())

	listenAddr, err := cfg.ListenAddr()
	if err != nil {
		return err
	}
	go func() {
		if err := apiServer.Serve(listenAddr); err != nil {
			mpLog.Errorf("api server stopped: %v", err)
		}
	}()

	return waitForShutdown()
}

// runReconcilerLoop runs the reconciler once immediately and then
// again on every tick of period, so a mempool state drifted by a
// missed or dropped notification heals itself without a restart.
func runReconcilerLoop(ctx context.Context, reconciler *mempool.Reconciler, period time.Duration) {
	if err := reconciler.Run(ctx); err != nil && ctx.Err() == nil {
		mpLog.Errorf("reconciler pass failed: %v", err)
	}

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := reconciler.Run(ctx); err != nil && ctx.Err() == nil {
				mpLog.Errorf("reconciler pass failed: %v", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// waitForShutdown blocks until SIGINT/SIGTERM, per this codebase's
// signal handling in daemon shutdown paths.
func waitForShutdown() error {
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	<-interrupt
	mpLog.Infof("received shutdown signal")
	return nil
}
