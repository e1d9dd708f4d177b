package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehrsync/ehrsync/internal/adapter"
	"github.com/ehrsync/ehrsync/internal/canonical"
	"github.com/ehrsync/ehrsync/internal/config"
	"github.com/ehrsync/ehrsync/internal/conflict"
	"github.com/ehrsync/ehrsync/internal/connection"
	"github.com/ehrsync/ehrsync/internal/facade"
	"github.com/ehrsync/ehrsync/internal/gateway"
	"github.com/ehrsync/ehrsync/internal/platform/audit"
	"github.com/ehrsync/ehrsync/internal/platform/auth"
	"github.com/ehrsync/ehrsync/internal/platform/db"
	"github.com/ehrsync/ehrsync/internal/platform/middleware"
	"github.com/ehrsync/ehrsync/internal/platform/webhook"
	"github.com/ehrsync/ehrsync/internal/transform"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "sync-server",
		Short: "EHR synchronization and conflict resolution service",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(syncCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger() zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return logger
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the sync API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

// syncCmd runs one sync pass from the command line. Useful for cron-driven
// deployments that do not want the HTTP surface.
func syncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync pass for a patient and provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			patientArg, _ := cmd.Flags().GetString("patient")
			providerArg, _ := cmd.Flags().GetString("provider")
			directionArg, _ := cmd.Flags().GetString("direction")

			patientID, err := uuid.Parse(patientArg)
			if err != nil {
				return fmt.Errorf("--patient must be a UUID: %w", err)
			}
			provider := canonical.Provider(providerArg)
			if !provider.Valid() {
				return fmt.Errorf("unknown provider %q", providerArg)
			}
			direction, err := facade.ParseDirection(directionArg)
			if err != nil {
				return err
			}

			logger := newLogger()
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			f, err := buildFacade(cfg, pool, logger)
			if err != nil {
				return err
			}

			result, err := f.SyncPatientData(ctx, patientID, provider, direction)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(result); err != nil {
				return err
			}
			if !result.Success {
				return fmt.Errorf("sync finished with %d error(s)", len(result.Errors))
			}
			return nil
		},
	}
	cmd.Flags().String("patient", "", "Local patient record UUID")
	cmd.Flags().String("provider", "", "EHR provider name")
	cmd.Flags().String("direction", "INBOUND", "Sync direction: INBOUND, OUTBOUND or FULL")
	_ = cmd.MarkFlagRequired("patient")
	_ = cmd.MarkFlagRequired("provider")
	return cmd
}

func runServer() error {
	logger := newLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:   cfg.AuthIssuer,
			Audience: cfg.AuthAudience,
			JWKSURL:  cfg.AuthJWKSURL,
		}))
	}

	apiV1 := e.Group("/api/v1")
	apiV1.Use(auth.RequireRole("sync-operator", "reviewer"))

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	e.GET("/health/db", func(c echo.Context) error {
		pingCtx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		if err := pool.Ping(pingCtx); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	f, err := buildFacade(cfg, pool, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build sync facade")
	}
	facade.NewHandler(f).RegisterRoutes(apiV1)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

// buildFacade wires the repositories, conflict engine, notifier and one
// sync adapter per configured vendor.
func buildFacade(cfg *config.Config, pool *pgxpool.Pool, logger zerolog.Logger) (*facade.Facade, error) {
	stores := adapter.Stores{
		Patients:     canonical.NewPatientRepoPG(pool),
		Encounters:   canonical.NewEncounterRepoPG(pool),
		Observations: canonical.NewObservationRepoPG(pool),
		Medications:  canonical.NewMedicationRepoPG(pool),
		Allergies:    canonical.NewAllergyRepoPG(pool),
		Conditions:   canonical.NewConditionRepoPG(pool),
	}

	txRun := func(ctx context.Context, fn func(context.Context) error) error {
		return db.WithTx(ctx, pool, fn)
	}

	connections := connection.NewService(connection.NewRepoPG(pool))
	engine := conflict.NewEngine(conflict.NewRepoPG(pool), nil, txRun, logger)
	transformer := transform.NewService(nil, logger)

	var sink audit.Sink = audit.NewLogSink(logger)
	if cfg.AuditSink == "postgres" {
		sink = audit.NewPGSink(pool)
	}

	notifier, err := webhook.NewNotifier(cfg.WebhookURL, cfg.WebhookSecret, logger)
	if err != nil {
		return nil, fmt.Errorf("configure webhook notifier: %w", err)
	}

	f := facade.New(connections, engine, notifier, cfg.SyncMaxConcurrent, logger)

	vendorClient := &http.Client{Timeout: cfg.VendorTimeout()}

	vendors := config.LoadVendors()
	if len(vendors) == 0 {
		logger.Warn().Msg("no vendors configured; sync operations will be rejected")
	}
	for name, vs := range vendors {
		provider := canonical.Provider(name)
		gwCfg, err := gatewayConfig(provider, vs, cfg.VendorTimeout())
		if err != nil {
			return nil, fmt.Errorf("configure %s gateway: %w", name, err)
		}
		gw, err := gateway.New(gwCfg, vendorClient, logger)
		if err != nil {
			return nil, err
		}
		a, err := adapter.New(adapter.Config{
			Provider:    provider,
			Gateway:     gw,
			Transformer: transformer,
			Conflicts:   engine,
			Stores:      stores,
			Quirks:      vendorQuirks(provider),
			Tx:          txRun,
			Audit:       sink,
			Log:         logger,
		})
		if err != nil {
			return nil, fmt.Errorf("configure %s adapter: %w", name, err)
		}
		f.RegisterAdapter(a)
		logger.Info().Str("provider", name).Str("auth_style", vs.AuthStyle).Msg("vendor configured")
	}

	return f, nil
}

func gatewayConfig(provider canonical.Provider, vs config.VendorSettings, timeout time.Duration) (gateway.ProviderConfig, error) {
	gwCfg := gateway.ProviderConfig{
		Provider:     provider,
		BaseURL:      vs.BaseURL,
		AuthStyle:    gateway.AuthStyle(vs.AuthStyle),
		TokenURL:     vs.TokenURL,
		ClientID:     vs.ClientID,
		ClientSecret: vs.ClientSecret,
		APIKey:       vs.APIKey,
		SigningKeyID: vs.SigningKeyID,
		Scopes:       vs.Scopes,
		Timeout:      timeout,
		UseHL7:       vs.UseHL7,
	}
	if vs.SigningKeyFile != "" {
		pem, err := os.ReadFile(vs.SigningKeyFile)
		if err != nil {
			return gateway.ProviderConfig{}, fmt.Errorf("read signing key: %w", err)
		}
		key, err := jwt.ParseRSAPrivateKeyFromPEM(pem)
		if err != nil {
			return gateway.ProviderConfig{}, fmt.Errorf("parse signing key: %w", err)
		}
		gwCfg.SigningKey = key
	}
	return gwCfg, nil
}

// vendorQuirks returns the per-vendor behavior knobs. The proprietary APIs
// carry fields with no canonical equivalent, so unmapped values ride along
// instead of being dropped.
func vendorQuirks(provider canonical.Provider) adapter.Quirks {
	switch provider {
	case canonical.ProviderMeditech, canonical.ProviderAllscripts, canonical.ProviderNextgen:
		return adapter.Quirks{PreserveUnmapped: true}
	default:
		return adapter.Quirks{}
	}
}
