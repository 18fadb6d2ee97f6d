// Package main provides the CLI entry point for the Loxone client.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	loxone "github.com/postalsys/loxone-go"
	"github.com/postalsys/loxone-go/internal/catalog"
	"github.com/postalsys/loxone-go/internal/config"
	"github.com/postalsys/loxone-go/internal/logging"
	"github.com/postalsys/loxone-go/internal/metrics"
	"github.com/postalsys/loxone-go/internal/recovery"
	"github.com/postalsys/loxone-go/internal/wizard"
)

var (
	configPath  string
	logLevel    string
	logFormat   string
	metricsAddr string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "loxone",
		Short: "A client for the Loxone Miniserver's remotecontrol protocol",
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "./config.yaml", "path to configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured logging level")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "override the configured logging format")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9090)")

	rootCmd.AddCommand(configureCmd())
	rootCmd.AddCommand(connectCmd())
	rootCmd.AddCommand(catalogCmd())
	rootCmd.AddCommand(monitorCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	if _, err := os.Stat(configPath); err == nil {
		cfg, err = config.Load(configPath)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	} else {
		cfg = config.Default()
	}

	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}
	return cfg, cfg.Validate()
}

func startMetricsServer(logger *slog.Logger) (*metrics.Metrics, func()) {
	if metricsAddr == "" {
		return nil, func() {}
	}

	m := metrics.NewMetrics()
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: metricsAddr, Handler: mux}

	go func() {
		defer recovery.RecoverWithLog(logger, "metrics-server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(os.Stderr, "metrics server: %v\n", err)
		}
	}()

	return m, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func configureCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "configure",
		Short: "Run the interactive setup wizard and write the config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			w := wizard.New()
			if existing, err := config.Load(configPath); err == nil {
				w = w.WithExisting(existing)
			}

			cfg, err := w.Run()
			if err != nil {
				return err
			}
			if err := config.Save(configPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			fmt.Printf("Wrote %s\n", configPath)
			return nil
		},
	}
}

func connectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "connect",
		Short: "Connect, authenticate, and print the LoxAPP3 structure timestamp",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format)

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			client, _, err := loxone.Connect(ctx, cfg, loxone.WithLogger(logger))
			if err != nil {
				return err
			}
			defer client.Close()

			if err := handshake(ctx, client, cfg); err != nil {
				return err
			}

			ts, err := client.GetLoxAPP3Timestamp(ctx)
			if err != nil {
				return fmt.Errorf("get structure timestamp: %w", err)
			}
			fmt.Printf("LoxAPP3 last modified: %s\n", ts)
			return nil
		},
	}
}

func catalogCmd() *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Fetch and save the LoxAPP3 structure catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format)

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			client, _, err := loxone.Connect(ctx, cfg, loxone.WithLogger(logger))
			if err != nil {
				return err
			}
			defer client.Close()

			if err := handshake(ctx, client, cfg); err != nil {
				return err
			}

			cat, err := client.GetLoxAPP3Catalog(ctx)
			if err != nil {
				return fmt.Errorf("fetch catalog: %w", err)
			}

			if err := os.WriteFile(outPath, cat.RawJSON, 0o644); err != nil {
				return fmt.Errorf("write catalog: %w", err)
			}
			fmt.Printf("Saved %s (%s, %d controls)\n", outPath, humanize.Bytes(uint64(len(cat.RawJSON))), len(cat.Controls))
			return nil
		},
	}
	cmd.Flags().StringVarP(&outPath, "out", "o", "LoxAPP3.json", "output path for the structure catalog")
	return cmd
}

func monitorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "monitor",
		Short: "Connect and print incoming events until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format)

			m, stopMetrics := startMetricsServer(logger)
			defer stopMetrics()

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			connectCtx, connectCancel := context.WithTimeout(ctx, 30*time.Second)
			client, _, err := loxone.Connect(connectCtx, cfg, loxone.WithLogger(logger), loxone.WithMetrics(m))
			connectCancel()
			if err != nil {
				return err
			}
			defer client.Close()

			if err := handshake(ctx, client, cfg); err != nil {
				return err
			}

			var cat *catalog.Catalog
			if data, err := os.ReadFile("LoxAPP3.json"); err == nil {
				cat, _ = catalog.Parse(data)
			}

			update, err := client.EnableStatusUpdate(ctx)
			if err != nil {
				return fmt.Errorf("enable status update: %w", err)
			}
			fmt.Printf("Initial state: %d events\n", len(update.InitialState))
			for _, ev := range update.InitialState {
				printEvent(ev, cat)
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			for {
				select {
				case ev, ok := <-update.Stream:
					if !ok {
						return fmt.Errorf("event stream closed")
					}
					printEvent(ev, cat)
				case <-sigCh:
					fmt.Println("\ninterrupted")
					return nil
				}
			}
		},
	}
}

// printEvent renders one decoded event, resolving its control name through
// cat when a local structure catalog is available.
func printEvent(ev loxone.Event, cat *catalog.Catalog) {
	switch e := ev.(type) {
	case loxone.ValueEvent:
		fmt.Printf("[value]    %s = %v\n", describe(e.UUID, cat), e.Value)
	case loxone.TextEvent:
		fmt.Printf("[text]     %s = %q\n", describe(e.UUID, cat), e.Text)
	case loxone.DaytimerEvent:
		fmt.Printf("[daytimer] %s: %d entries\n", describe(e.UUID, cat), len(e.Entries))
	case loxone.WeatherEvent:
		fmt.Printf("[weather]  %s: %d entries\n", describe(e.UUID, cat), len(e.Entries))
	case loxone.OutOfServiceEvent:
		fmt.Println("[system]   miniserver reported out of service")
	default:
		fmt.Printf("[unknown]  %v\n", e)
	}
}

func describe(id loxone.UUID, cat *catalog.Catalog) string {
	if cat == nil {
		return id.String()
	}
	ctrl, ok := cat.Lookup(id)
	if !ok {
		return id.String()
	}
	return fmt.Sprintf("%s (%s)", ctrl.Name, cat.RoomName(ctrl))
}

// handshake drives the key-exchange → authenticate sequence every
// subcommand that talks to the Miniserver needs after connecting, preferring
// a configured, unexpired token over the configured password.
func handshake(ctx context.Context, client *loxone.Client, cfg *config.Config) error {
	certPEM, err := cfg.Miniserver.GetCertPEM()
	if err != nil {
		return fmt.Errorf("read certificate: %w", err)
	}
	if len(certPEM) == 0 {
		return fmt.Errorf("no miniserver certificate configured (set miniserver.cert_pem or miniserver.cert_path)")
	}

	if _, err := client.KeyExchange(ctx, string(certPEM)); err != nil {
		return fmt.Errorf("key exchange: %w", err)
	}

	if cfg.Miniserver.HasToken() {
		if err := client.Authenticate(ctx, cfg.Miniserver.Token, cfg.Miniserver.Username); err == nil {
			return nil
		}
	}

	if cfg.Miniserver.Password == "" {
		return fmt.Errorf("no valid token and no password configured; run 'loxone configure'")
	}
	if _, err := client.GetJWT(ctx, cfg.Miniserver.Username, cfg.Miniserver.Password, 2, "loxone-go", "loxone-go cli"); err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}
	return nil
}
