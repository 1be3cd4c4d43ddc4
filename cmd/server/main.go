// Package main is the entry point for the tenant provisioning server.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"nexaauth.io/provisioner/internal/app"
	"nexaauth.io/provisioner/internal/config"
	"nexaauth.io/provisioner/internal/pkg/logger"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := pflag.NewFlagSet("provisioner", pflag.ContinueOnError)
	configFile := flags.StringP("config", "c", "", "path to the configuration file")
	if err := flags.Parse(args); err != nil {
		return err
	}

	// Load configuration
	cfg, err := config.Load(*configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Initialize logger
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("Starting tenant provisioner",
		zap.Int("port", cfg.Server.Port),
		zap.String("keycloak", cfg.Keycloak.ServerURL),
		zap.String("realm", cfg.Keycloak.Realm),
		zap.String("log_level", cfg.Log.Level),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer application.Shutdown()

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.Port))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return application.Serve(ctx, ln)
}
