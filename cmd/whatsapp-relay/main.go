// Copyright 2024-2026 Aiku AI

// Command whatsapp-relay bridges a WhatsApp account and an operator group.
// Direct messages are forwarded into the group, operator replies are routed
// back to the original sender, and an HTTP API sends outbound messages.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/aiku/whatsapp-relay/pkg/api"
	"github.com/aiku/whatsapp-relay/pkg/config"
	"github.com/aiku/whatsapp-relay/pkg/relay"
	"github.com/aiku/whatsapp-relay/pkg/relay/mediaconv"
	"github.com/aiku/whatsapp-relay/pkg/session"
)

// These are filled at build time with -ldflags.
var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var (
	configPath     string
	generateConfig bool
	noSaveConfig   bool
)

var rootCmd = &cobra.Command{
	Use:           "whatsapp-relay",
	Short:         "Relay WhatsApp direct messages to an operator group",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runRelay,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, _ []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "whatsapp-relay %s\n", Tag)
		fmt.Fprintf(out, "  Commit:     %s\n", Commit)
		fmt.Fprintf(out, "  Build time: %s\n", BuildTime)
		fmt.Fprintf(out, "  Go version: %s\n", runtime.Version())
	},
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the config file")
	rootCmd.Flags().BoolVarP(&generateConfig, "generate-config", "g", false, "write the example config to --config and exit")
	rootCmd.Flags().BoolVar(&noSaveConfig, "no-update", false, "don't write the merged config back to disk")
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runRelay(cmd *cobra.Command, _ []string) error {
	if generateConfig {
		if err := config.Generate(configPath); err != nil {
			return fmt.Errorf("failed to generate config: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote example config to %s\n", configPath)
		return nil
	}

	cfg, err := config.Load(configPath, !noSaveConfig)
	if err != nil {
		return err
	}
	if err = cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	log, err := cfg.Logging.Compile()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	zerolog.DefaultContextLogger = log
	log.Info().Str("version", Tag).Str("commit", Commit).Str("build_time", BuildTime).Msg("Starting whatsapp-relay")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = log.WithContext(ctx)

	container, err := session.OpenStore(ctx, cfg.Session, *log)
	if err != nil {
		return err
	}

	sup := session.NewSupervisor(session.NewWhatsmeowDialer(container, *log), cfg.Session, *log)
	sup.OnReady(func() { log.Info().Msg("WhatsApp session is ready") })
	sup.OnDisconnected(func() { log.Warn().Msg("WhatsApp session disconnected") })

	transformer := mediaconv.New(*log)
	cfg.Media.Apply(transformer)

	r, err := relay.New(cfg.Relay, sup, transformer, *log)
	if err != nil {
		return err
	}
	r.Subscribe(sup)

	apiServer := api.NewServer(cfg.API, sup, *log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sup.Run(gctx) })
	g.Go(func() error { return r.Run(gctx) })
	g.Go(func() error { return apiServer.Run(gctx) })
	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	log.Info().Msg("Shut down")
	return err
}
