package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/michaelbrown/labrunner/internal/events"
	"github.com/michaelbrown/labrunner/internal/hints"
	"github.com/michaelbrown/labrunner/internal/limiter"
	"github.com/michaelbrown/labrunner/internal/pipeline"
	"github.com/michaelbrown/labrunner/internal/server"
)

var addrFlag string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the labrunner HTTP server",
	Long: `Start the labrunner HTTP server with REST API and WebSocket support.

API endpoints are under /api; Prometheus metrics are served at /metrics.

Examples:
  labrunner serve
  labrunner serve --addr :9090`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&addrFlag, "addr", "", "Address to listen on (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p, err := pipeline.New(cfg, log)
	if err != nil {
		return err
	}
	defer p.Close()

	catalog, err := loadCatalog(cfg)
	if err != nil {
		return err
	}
	log.Info().Int("exercises", catalog.Len()).Str("dir", cfg.Exercises.Dir).Msg("exercise catalog loaded")

	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer store.Close()

	var publisher events.Publisher = events.Nop{}
	if len(cfg.Events.Brokers) > 0 {
		kp, err := events.NewKafkaPublisher(events.KafkaConfig{Brokers: cfg.Events.Brokers, Topic: cfg.Events.Topic})
		if err != nil {
			return fmt.Errorf("creating event publisher: %w", err)
		}
		publisher = kp
		log.Info().Strs("brokers", cfg.Events.Brokers).Str("topic", cfg.Events.Topic).Msg("publishing graded events")
	}
	defer publisher.Close()

	var hinter *hints.Hinter
	if cfg.Hints.Enabled {
		client := hints.NewClient(cfg.Hints.BaseURL, cfg.Hints.APIKey, cfg.Hints.Model)
		hinter = hints.New(client, hints.Config{Timeout: cfg.Hints.Timeout, MaxChars: cfg.Hints.MaxChars}, log)
		log.Info().Str("model", cfg.Hints.Model).Msg("hints enabled")
	}

	lim := limiter.New(cfg.Limits.GlobalRPS, cfg.Limits.ClientRPS, cfg.Limits.Burst)
	lim.StartCleanup(time.Minute, ctx.Done())

	srv := server.New(cfg.Server, cfg.Auth, server.Deps{
		Coordinator: p.Coordinator,
		Catalog:     catalog,
		Store:       store,
		Publisher:   publisher,
		Hinter:      hinter,
		Limiter:     lim,
		Logger:      log,
	})

	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	addr := cfg.Server.Addr
	if addrFlag != "" {
		addr = addrFlag
	}
	return srv.Start(addr)
}
