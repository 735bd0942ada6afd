// linewatch is the single-host supervisor stack for a production-line
// data-collection kiosk: one binary with three entry points.
//
//	linewatch api       — the HTTP API process polling the PLC
//	linewatch watchdog  — the supervisor owning the API process group
//	linewatch run       — the launcher: watchdog + presentation process
//
// Configuration comes from the environment (see pkg/config).
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/factorykit/linewatch/pkg/api"
	"github.com/factorykit/linewatch/pkg/config"
	"github.com/factorykit/linewatch/pkg/plc"
	"github.com/factorykit/linewatch/pkg/production"
	"github.com/factorykit/linewatch/pkg/service"
	"github.com/factorykit/linewatch/pkg/watchdog"
)

func main() {
	root := &cobra.Command{
		Use:           "linewatch",
		Short:         "Production line monitor: PLC polling API under a restart watchdog",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(apiCmd(), watchdogCmd(), runCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.Set(level); err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func apiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "api",
		Short: "Run the API server process",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings := config.Load(nil)
			log, err := newLogger(settings.LogLevel)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			if path, err := config.WriteBootMarker(os.Getpid(), time.Now()); err != nil {
				log.Warn("boot marker not written", zap.Error(err))
			} else {
				log.Debug("boot marker written", zap.String("path", path))
			}

			master, err := production.LoadMaster(settings.Service.MasterDir, settings.Service.LineName)
			if err != nil {
				log.Error("cannot load production master", zap.Error(err))
				return err
			}

			var transport service.Transport
			if settings.Service.UsePLC {
				client := plc.NewClient(settings.PLC, log.Named("plc"),
					plc.WithRestartHook(func() {
						_ = syscall.Kill(os.Getpid(), syscall.SIGTERM)
					}))
				if !client.Connect() {
					// Not fatal: the service reconnects on demand and the
					// watchdog handles sustained failure.
					log.Warn("initial PLC connection failed")
				}
				transport = client
			}

			fetcher := plc.NewFetcher(settings.Devices, master, log.Named("plc"))
			svc := service.New(settings.Service, master, transport, fetcher, log.Named("service"))
			server := api.NewServer(svc, settings.API, log.Named("api"))

			ctx, stop := signalContext()
			defer stop()
			return server.Run(ctx)
		},
	}
}

func watchdogCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watchdog",
		Short: "Run the supervisor owning the API process group",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings := config.Load(nil)
			log, err := newLogger(settings.LogLevel)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			exe, err := os.Executable()
			if err != nil {
				return fmt.Errorf("resolve own executable: %w", err)
			}

			w := watchdog.New(settings.Watchdog, settings.API, []string{exe, "api"}, log.Named("watchdog"))

			ctx, stop := signalContext()
			defer stop()
			return w.Run(ctx)
		},
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Launch the watchdog and the presentation process",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings := config.Load(nil)
			log, err := newLogger(settings.LogLevel)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			exe, err := os.Executable()
			if err != nil {
				return fmt.Errorf("resolve own executable: %w", err)
			}

			ctx, stop := signalContext()
			defer stop()

			// The supervisor's death ends the whole tree; the
			// presentation dying is only worth a log line.
			treeCtx, cancel := context.WithCancel(ctx)
			defer cancel()

			g := new(errgroup.Group)
			g.Go(func() error {
				defer cancel()
				log.Info("starting watchdog process")
				err := runChild(treeCtx, exe, "watchdog")
				if err != nil {
					log.Error("watchdog exited with error", zap.Error(err))
					return err
				}
				log.Info("watchdog exited")
				return nil
			})

			if len(settings.PresentationCmd) > 0 {
				argv := settings.PresentationCmd
				g.Go(func() error {
					log.Info("starting presentation process", zap.Strings("command", argv))
					if err := runChild(treeCtx, argv[0], argv[1:]...); err != nil {
						log.Warn("presentation process exited with error", zap.Error(err))
					}
					return nil
				})
			}

			return g.Wait()
		},
	}
}

// runChild runs one child with inherited stdio; context cancellation
// forwards SIGTERM and allows a grace before the hard kill.
func runChild(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = 10 * time.Second

	err := cmd.Run()
	if err == nil || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
