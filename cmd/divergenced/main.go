// Command divergenced keeps a Divergence Meter nixie clock connected over
// BLE and exposes its command set on a local HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Sadudu/homebridge-divergence-meter/internal/api"
	"github.com/Sadudu/homebridge-divergence-meter/internal/config"
	"github.com/Sadudu/homebridge-divergence-meter/internal/meter"
	"github.com/Sadudu/homebridge-divergence-meter/internal/radio"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: ~/.config/divergenced/config.yaml)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validation: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: config.ParseLogLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	central, err := radio.NewTinygoCentral(logger, cfg.Device.ServiceUUID, cfg.Device.CharacteristicUUID)
	if err != nil {
		log.Fatalf("radio: %v", err)
	}
	if err := central.Enable(ctx); err != nil {
		log.Fatalf("Failed to enable BLE adapter: %v\n\nCheck that the Bluetooth service is running and this user may access it.", err)
	}
	log.Println("BLE adapter ready")

	coord := meter.New(central, meter.Options{
		TargetName:   cfg.Device.Name,
		RestartDelay: cfg.RestartDelay(),
		Logger:       logger,
	})
	go func() {
		if err := coord.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("coordinator stopped", "error", err)
		}
	}()

	srv := &http.Server{
		Addr:    cfg.HTTP.ListenAddr,
		Handler: api.NewServer(coord, logger),
	}
	go func() {
		log.Printf("Control API listening on http://%s", cfg.HTTP.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server: %v", err)
		}
	}()

	log.Printf("Looking for %q. Ctrl+C to quit.", cfg.Device.Name)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("Shutting down...")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
}

// loadConfig falls back to defaults when no file is given and the default
// path does not exist.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		path = config.DefaultConfigPath()
		if path == "" {
			return config.Default(), nil
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return config.Default(), nil
		}
	}
	return config.Load(path)
}
