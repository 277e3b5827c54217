// Command ezsecurity runs the EzSecurity token service.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/StricklySoft/ezsecurity/internal/telemetry"
	"github.com/StricklySoft/ezsecurity/pkg/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "ezsecurity:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := pflag.NewFlagSet("ezsecurity", pflag.ContinueOnError)
	configFile := fs.StringP("config", "c", "ezsecurity.yaml", "YAML or JSON configuration file")
	config.BindFlags(fs, &Config{})
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg := config.MustLoad[Config](config.New().
		WithEnvPrefix("EZSECURITY").
		WithFile(*configFile).
		WithFlags(fs))

	level, _ := cfg.Level()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})).
		With("service", "ezsecurity", "version", version)
	slog.SetDefault(logger)

	tel, err := telemetry.Setup("ezsecurity", version, true)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lis, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.ListenAddr, err)
	}

	a := newApp(cfg, logger, tel.Meter())
	a.onClose(tel.Shutdown)
	svc, err := a.service(ctx, version, lis, tel.Handler())
	if err != nil {
		_ = lis.Close()
		_ = a.close(context.Background())
		return err
	}
	return svc.Run(ctx)
}
