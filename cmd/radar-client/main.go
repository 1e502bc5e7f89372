// Radar client.
// Polls a flights server and draws the aircraft around a fixed center on a
// terminal radar scope.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/unklstewy/flightscope/internal/flightsapi"
	"github.com/unklstewy/flightscope/internal/logging"
	"github.com/unklstewy/flightscope/pkg/config"
)

var configPath = flag.String("config", "configs/flightscope.yaml", "Path to configuration file")

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// The terminal belongs to the TUI
	if cfg.Logging.File == "" {
		cfg.Logging.File = "logs/radar-client.log"
	}
	logger, closer, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	defer closer.Close()
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var program *tea.Program
	send := func(msg tea.Msg) { program.Send(msg) }

	client := flightsapi.NewClient(cfg.Client.ServerURL)
	p := newPoller(client, send,
		cfg.Client.CenterLatitude, cfg.Client.CenterLongitude, cfg.Client.SquareSizeKm,
		cfg.Client.PollInterval(), logger)

	program = tea.NewProgram(newModel(ctx, cfg, p, client, logger), tea.WithAltScreen())

	go func() {
		err := config.Watch(ctx, *configPath, func(updated *config.Config) {
			d := updated.Client.PollInterval()
			if d != p.Interval() {
				logger.Info("Poll interval changed", "interval", d)
				p.SetInterval(d)
			}
		})
		if err != nil {
			logger.Warn("Config watch unavailable", "err", err)
		}
	}()

	logger.Info("Radar client starting", "server", cfg.Client.ServerURL,
		"lat", cfg.Client.CenterLatitude, "lng", cfg.Client.CenterLongitude)

	if _, err := program.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	p.Stop()
}
