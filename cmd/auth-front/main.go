package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/merchantdash/auth-front/internal"
	"github.com/merchantdash/auth-front/internal/config"
	"github.com/merchantdash/auth-front/internal/log"
)

var BuildVersion = "dev"

func main() {
	configPath := flag.String("config", "config.json", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(BuildVersion)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.LogError("Failed to load config: %v", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := internal.NewAuthFront(cfg)

	log.LogInfoWithFields("main", "auth-front starting", map[string]any{
		"version": BuildVersion,
		"addr":    cfg.Server.Addr,
	})

	if err := app.Run(ctx); err != nil {
		log.LogError("Broker exited with error: %v", err)
		os.Exit(1)
	}
}
