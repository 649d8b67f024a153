// Command server runs the warroom backend: room administration over
// REST plus the sync and terminal websocket channels.
//
// Configuration comes from environment variables (12-factor), with CLI
// flags overriding. SIGINT and SIGTERM trigger a graceful shutdown that
// closes every socket and kills every PTY.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/warroomhq/warroom/internal/infrastructure/config"
	"github.com/warroomhq/warroom/internal/infrastructure/logging"
	"github.com/warroomhq/warroom/internal/server"
)

func main() {
	port := flag.String("port", "", "listen port (overrides PORT)")
	dataDir := flag.String("data", "", "state store directory (overrides DATA_DIR)")
	dev := flag.Bool("dev", false, "development mode: console logs, debug level")
	flag.Parse()

	cfg := config.LoadOrDefault()
	if *port != "" {
		cfg.Server.Port = *port
	}
	if *dataDir != "" {
		cfg.Storage.DataDir = *dataDir
	}
	if *dev {
		cfg.Logging.Development = true
		cfg.Logging.Level = "debug"
	}

	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
		OutputPaths: []string{"stdout"},
	})
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Fatal("failed to create server", zap.Error(err))
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Run()
	}()

	select {
	case sig := <-sigChan:
		logger.Info("shutting down", zap.String("signal", sig.String()))
		if err := srv.Close(); err != nil {
			logger.Error("shutdown error", zap.Error(err))
		}
	case err := <-errChan:
		if err != nil {
			logger.Fatal("server error", zap.Error(err))
		}
	}
}
