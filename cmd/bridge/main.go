package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/raymondelooff/battery-telemetry-bridge/bridge"
	"go.uber.org/zap"
)

func main() {
	c := bridge.DefaultConfig()
	if len(os.Args) > 1 {
		var err error
		c, err = bridge.LoadConfig(os.Args[1])
		if err != nil {
			log.Fatalf("error: %v", err)
		}
	}

	// Set up logger
	var logger *zap.Logger
	var err error
	if c.Env == "dev" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatalf("error: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	// Set up bridge
	b, err := bridge.NewBridge(c, sugar)
	if err != nil {
		sugar.Fatalf("bridge: %s", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := b.Run(ctx); err != nil {
		sugar.Errorf("bridge: %s", err)
		return
	}
	sugar.Info("bridge: shutdown OK")
}
