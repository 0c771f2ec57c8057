package main

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cashback/internal/blob"
	"cashback/internal/config"
	"cashback/internal/handlers"
	"cashback/internal/notify"
	"cashback/internal/services"
	"cashback/internal/store"
	"cashback/internal/wizard"

	"github.com/gin-gonic/gin"
	"github.com/google/logger"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

//go:embed all:templates
var templateFS embed.FS

//go:embed all:assets
var assetsFS embed.FS

var (
	verbose     bool
	catalogFile string
)

var rootCmd = &cobra.Command{
	Use:   "cashback",
	Short: "Cashback campaign participation server",
	Long: `cashback runs the participation wizard for outlet cashback campaigns:
participants pick a zone, get an outlet assigned, reserve an item and upload
proof of purchase for review.

Configuration is read from the environment (CAMPAIGN_MODE, DB_DRIVER, ...).`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger.Init("cashback", true, false, io.Discard)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server, the stats poller and the pending-selection sweeper",
	RunE:  runServe,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close()
		logger.Info("Schema is up to date.")
		return nil
	},
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load zones, outlets and items from a YAML catalog",
	Long: `Inserts the zones of a YAML catalog that do not exist yet, with their
outlets and items. Existing zones are left untouched, so seeding twice is safe.

Example:
  cashback seed --file catalog.yaml`,
	RunE: runSeed,
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Expire abandoned pending selections once and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close()
		svc := services.NewSelectionService(st, selectionOptions(cfg))
		n, err := services.NewSweeper(svc, cfg.PendingTTL, cfg.SweepInterval).SweepOnce(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "expired %d pending selections\n", n)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log every SQL query")
	seedCmd.Flags().StringVarP(&catalogFile, "file", "f", "catalog.yaml", "YAML catalog to load")
	rootCmd.AddCommand(serveCmd, migrateCmd, seedCmd, sweepCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func openStore(cfg *config.Config) (*store.Store, error) {
	return store.Open(store.Options{
		Driver:          cfg.DatabaseDriver,
		DSN:             cfg.DSN(),
		ConnectAttempts: 5,
		RetryDelay:      2 * time.Second,
		LogQueries:      verbose,
	})
}

func selectionOptions(cfg *config.Config) services.SelectionOptions {
	return services.SelectionOptions{
		Mode:              services.Mode(cfg.Mode),
		StrictPhonePrefix: cfg.StrictPhonePrefix,
		RequireName:       cfg.RequireName,
	}
}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	f, err := os.Open(catalogFile)
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()
	cat, err := store.LoadCatalog(f)
	if err != nil {
		return err
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	n, err := st.SeedCatalog(cmd.Context(), cat)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "seeded %d new zones from %s\n", n, catalogFile)
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// 1. Storage
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	blobs, err := blob.NewOS(cfg.BlobRoot, cfg.PublicBaseURL)
	if err != nil {
		return err
	}

	// 2. Outbound email
	var sender notify.Sender = notify.Noop{}
	if cfg.EmailEnabled() {
		sender = notify.NewEmailJS(cfg.EmailJSEndpoint, cfg.EmailJSServiceID, cfg.EmailJSTemplateID, cfg.EmailJSPublicKey)
	} else {
		logger.Warning("EmailJS is not configured; confirmation emails are disabled.")
	}

	// 3. Load HTML templates from the embedded filesystem.
	templates, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return fmt.Errorf("parse templates: %w", err)
	}

	// 4. Services for the configured campaign
	stats := services.NewStatsService(st)
	poller := services.NewStatsPoller(stats, cfg.StatsRefresh)
	deps := handlers.Deps{
		Catalog:       st,
		Launch:        services.NewLaunchService(cfg.LaunchAt, sender),
		Stats:         stats,
		Poller:        poller,
		Blobs:         blobs,
		Templates:     templates,
		CookieSecure:  cfg.CookieSecure,
		AdminUser:     cfg.AdminUser,
		AdminPassword: cfg.AdminPassword,
	}
	var sweeper *services.Sweeper
	if cfg.Mode == config.ModeForm {
		deps.Forms = services.NewFormService(st, sender, services.FormOptions{
			MonthlyCap:        cfg.MonthlyCap,
			CapByEmail:        cfg.MonthlyCapKey == config.CapKeyPhoneEmail,
			StrictPhonePrefix: cfg.StrictPhonePrefix,
			ConfirmTemplateID: cfg.EmailJSTemplateID,
		})
	} else {
		opts := selectionOptions(cfg)
		svc := services.NewSelectionService(st, opts)
		deps.Selections = svc
		deps.Uploader = services.NewScreenshotUploader(blobs, cfg.MaxScreenshotBytes)
		deps.Wizard = wizard.Options{Mode: opts.Mode, RequireName: opts.RequireName, StrictPhonePrefix: opts.StrictPhonePrefix}
		sweeper = services.NewSweeper(svc, cfg.PendingTTL, cfg.SweepInterval)
	}
	httpHandler := handlers.NewHTTPHandler(deps)

	// 5. Router and static files
	r := gin.Default()
	r.MaxMultipartMemory = cfg.MaxScreenshotBytes + 1<<20
	assetsSubFS, err := fs.Sub(assetsFS, "assets")
	if err != nil {
		return fmt.Errorf("assets sub-filesystem: %w", err)
	}
	r.StaticFS("/assets", http.FS(assetsSubFS))
	httpHandler.RegisterRoutes(r)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// 6. Background workers and the server share one lifetime.
	g, ctx := errgroup.WithContext(cmd.Context())
	g.Go(func() error {
		poller.Run(ctx)
		return nil
	})
	if sweeper != nil {
		g.Go(func() error {
			sweeper.Run(ctx)
			return nil
		})
	}
	g.Go(func() error {
		logger.Infof("Server starting on %s (%s campaign)", cfg.HTTPAddr, cfg.Mode)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to run server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		logger.Info("Shutting down server...")
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
