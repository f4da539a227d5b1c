package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/smartdevs17/contract-risk-watcher/internal/config"
	"github.com/smartdevs17/contract-risk-watcher/internal/models"
	"github.com/smartdevs17/contract-risk-watcher/pkg/utils"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// AppVersion contains the application version
const AppVersion = "1.0.0"

// newRootCmd builds the CLI with its own viper instance
func newRootCmd() *cobra.Command {
	v := viper.New()

	rootCmd := &cobra.Command{
		Use:           "contract-risk-watcher",
		Short:         "Smart contract deployment risk watcher",
		Long:          `Discovers newly deployed smart contracts, enriches them with explorer metadata and forwards a risk classification for each one.`,
		Version:       AppVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatcher(v)
		},
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	_ = v.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = v.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Run the continuous watcher",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runWatcher(v)
			},
		},
		newScanCmd(v),
		newAssessCmd(v),
		newBlacklistCmd(v),
		newConfigCmd(v),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version number",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "contract-risk-watcher %s\n", AppVersion)
			},
		},
	)

	return rootCmd
}

// loadConfig loads and validates the configuration
func loadConfig(v *viper.Viper) (*config.Config, error) {
	cfg, err := config.Load(v.GetString("config"), v)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// runWatcher is the main command to run the watcher
func runWatcher(v *viper.Viper) error {
	cfg, err := loadConfig(v)
	if err != nil {
		return err
	}

	app, err := NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)

	if err := app.Start(); err != nil {
		app.Stop()
		return fmt.Errorf("failed to start application: %w", err)
	}

	sig := <-signalChan
	app.logger.WithField("signal", sig.String()).Info("Received shutdown signal")

	return app.Stop()
}

// newOneShotApplication builds the pipeline without the HTTP server
func newOneShotApplication(v *viper.Viper) (*Application, error) {
	cfg, err := loadConfig(v)
	if err != nil {
		return nil, err
	}
	cfg.Server.Enabled = false
	return NewApplication(cfg)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newScanCmd(v *viper.Viper) *cobra.Command {
	var from, to uint64

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Discover and assess deployments in a block range once",
		RunE: func(cmd *cobra.Command, args []string) error {
			if to < from {
				return fmt.Errorf("--to (%d) must not be below --from (%d)", to, from)
			}

			app, err := newOneShotApplication(v)
			if err != nil {
				return err
			}
			defer app.Stop()

			ctx, cancel := signalContext()
			defer cancel()

			result, err := app.monitor.ScanRange(ctx, from, to)
			if result != nil {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if result.Summary != nil {
					_ = enc.Encode(result.Summary)
				}
				for _, f := range result.FetchFailures {
					fmt.Fprintf(cmd.ErrOrStderr(), "fetch failed: %s (%s): %s\n", f.Candidate.ContractAddress, f.Step, f.Error)
				}
			}
			return err
		},
	}

	cmd.Flags().Uint64Var(&from, "from", 0, "first block to scan")
	cmd.Flags().Uint64Var(&to, "to", 0, "last block to scan (inclusive)")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func newAssessCmd(v *viper.Viper) *cobra.Command {
	var creator string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "assess <address>",
		Short: "Assess a single contract without delivering the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newOneShotApplication(v)
			if err != nil {
				return err
			}
			defer app.Stop()

			ctx, cancel := signalContext()
			defer cancel()

			if app.blacklist.HasFeed() {
				if _, err := app.blacklist.Refresh(ctx); err != nil {
					app.logger.WithError(err).Warn("Blacklist refresh failed, using persisted snapshot")
				}
			}

			record, err := app.pipeline.AssessOne(ctx, models.ContractCandidate{
				ContractAddress: utils.NormalizeAddress(args[0]),
				CreatorAddress:  strings.ToLower(creator),
			})
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(record)
			}
			printVerdict(cmd.OutOrStdout(), record)
			return nil
		},
	}

	cmd.Flags().StringVar(&creator, "creator", "", "creator address to check against the blacklist")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the output record as JSON")
	return cmd
}

// levelColor maps verdict levels to terminal colors
func levelColor(level models.RiskLevel) *color.Color {
	switch level {
	case models.RiskHigh:
		return color.New(color.FgRed, color.Bold)
	case models.RiskMedium:
		return color.New(color.FgYellow, color.Bold)
	default:
		return color.New(color.FgGreen)
	}
}

func printVerdict(w io.Writer, record *models.OutputRecord) {
	fmt.Fprintf(w, "Contract: %s\n", record.ContractAddress)
	if record.CreatorAddress != "" {
		fmt.Fprintf(w, "Creator:  %s\n", record.CreatorAddress)
	}
	fmt.Fprintf(w, "Verified: %t\n", record.ABI != nil)
	fmt.Fprint(w, "Risk:     ")
	levelColor(record.RiskScore).Fprintln(w, strings.ToUpper(string(record.RiskScore)))
	if record.RiskReason != "" {
		fmt.Fprintf(w, "Reason:   %s\n", record.RiskReason)
	}
}

func newBlacklistCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "blacklist",
		Short: "Blacklist management commands",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "refresh",
		Short: "Fetch the blacklist feed and persist it",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newOneShotApplication(v)
			if err != nil {
				return err
			}
			defer app.Stop()

			entries, err := app.blacklist.Refresh(cmd.Context())
			if err != nil {
				return fmt.Errorf("blacklist refresh failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Blacklist refreshed: %d entries\n", len(entries))
			return nil
		},
	})

	return cmd
}

func newConfigCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management commands",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return fmt.Errorf("configuration validation failed: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Configuration is valid!")
			fmt.Fprintf(out, "Environment: %s\n", cfg.App.Environment)
			fmt.Fprintf(out, "Discovery: %s\n", cfg.Discovery.Source)
			fmt.Fprintf(out, "Sinks: %s\n", strings.Join(cfg.Sink.Types, ", "))
			fmt.Fprintf(out, "Database: %s\n", cfg.Storage.Type)
			return nil
		},
	})

	return cmd
}

// main is the entry point
func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
