package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/feedboard/backend/internal/config"
	"github.com/feedboard/backend/internal/logging"
	"github.com/feedboard/backend/internal/repo"
)

// make version a variable so the build system can inject it
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newCLI().Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "feedboard-backend: %v\n", err)
		os.Exit(1)
	}
}

func newCLI() *cli.Command {
	configFlag := &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Sources: cli.EnvVars("FEEDBOARD_CONFIG"),
		Value:   "config.yaml",
		Usage:   "path to the YAML config file",
	}

	serveCmd := &cli.Command{
		Name:   "serve",
		Usage:  "run the HTTP API, the gRPC health server and the sync scheduler",
		Action: serveAction,
	}

	return &cli.Command{
		Name:    "feedboard-backend",
		Usage:   "third-party integration sync engine",
		Version: version,
		Flags:   []cli.Flag{configFlag},
		Commands: []*cli.Command{
			serveCmd,
			{
				Name:   "migrate",
				Usage:  "create or update the database schema",
				Action: migrateAction,
			},
			{
				Name:  "sync",
				Usage: "run one sync pass for an integration and print the result",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "integration", Aliases: []string{"i"}, Required: true, Usage: "integration id"},
					&cli.IntFlag{Name: "tenant", Aliases: []string{"t"}, Required: true, Usage: "tenant id owning the integration"},
					&cli.StringFlag{Name: "tenant-url", Usage: "public tenant URL used for post links (defaults to the configured template)"},
				},
				Action: syncAction,
			},
			{
				Name:  "token",
				Usage: "issue an API access token for a tenant",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "tenant", Aliases: []string{"t"}, Required: true, Usage: "tenant id the token is scoped to"},
					&cli.StringFlag{Name: "tenant-url", Usage: "public tenant URL carried in the token (defaults to the configured template)"},
					&cli.DurationFlag{Name: "ttl", Usage: "token lifetime (defaults to 24h)"},
				},
				Action: tokenAction,
			},
		},
		Action: serveAction,
	}
}

// setup loads config and builds the root logger for a command
func setup(cmd *cli.Command) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	base, err := logging.NewLogger(cfg.Log.Level, cfg.Log.JSON)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to setup logger: %w", err)
	}
	return cfg, logging.NewContextLogger(base, "feedboard-backend", version), nil
}

func serveAction(ctx context.Context, cmd *cli.Command) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	logger.Info("Starting Feedboard Backend",
		zap.String("version", version),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.Int("grpc_port", cfg.GRPC.Port))

	app, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	if err := repo.Migrate(ctx, app.db); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	return app.Run(ctx)
}

func migrateAction(ctx context.Context, cmd *cli.Command) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	db, err := setupDatabase(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := repo.Migrate(ctx, db); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	logger.Info("Database schema is up to date")
	return nil
}

func syncAction(ctx context.Context, cmd *cli.Command) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	integrationID, err := uuid.Parse(cmd.String("integration"))
	if err != nil {
		return fmt.Errorf("invalid integration id: %w", err)
	}
	tenantID := int64(cmd.Int("tenant"))

	app, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	tenantURL := cmd.String("tenant-url")
	if tenantURL == "" {
		tenantURL = app.syncWorker.TenantURL(tenantID)
	}

	result, err := app.syncService.TriggerSync(ctx, integrationID, tenantID, tenantURL)
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}

	fmt.Printf("synced=%d errors=%d conflicts=%d skipped=%d\n", result.Synced, result.Errors, result.Conflicts, result.Skipped)
	return nil
}
