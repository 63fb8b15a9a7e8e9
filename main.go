package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"songbot/cmd"
	"songbot/internal/config"
	"songbot/pkg/deps"
)

func main() {
	os.Exit(run())
}

// run wires the process's dependency check, single-instance lock, App
// assembly, and signal-driven shutdown, in that order; any init failure
// exits non-zero before the bot touches the network.
func run() int {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Println("[ERROR]", err)
		return 1
	}

	logger, err := cmd.SetupLogging(cfg.LogPath)
	if err != nil {
		fmt.Println("[ERROR]", err)
		return 1
	}
	log := logger.WithField("component", "main")

	checker := deps.NewChecker("yt-dlp", "ffmpeg")
	if err := checker.CheckAndPrint(log.WithField("component", "deps")); err != nil {
		log.WithError(err).Error("missing required dependencies")
		return 1
	}

	lockFile, err := cmd.AcquireLock(cfg.LockPath)
	if err != nil {
		log.WithError(err).Error("could not acquire single-instance lock")
		return 1
	}
	defer cmd.ReleaseLock(lockFile, cfg.LockPath)

	app, err := cmd.New(cfg, log)
	if err != nil {
		log.WithError(err).Error("failed to initialize")
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		log.Info("shutdown signal received")
		cancel()
	}()

	if err := app.Run(ctx); err != nil {
		log.WithError(err).Error("app exited with error")
		return 1
	}
	return 0
}
