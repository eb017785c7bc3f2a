package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/crashpusher/crashctl/internal/api"
	"github.com/crashpusher/crashctl/internal/config"
	"github.com/crashpusher/crashctl/internal/tokenstore"
	"github.com/crashpusher/crashctl/internal/upload"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagServerURL  string
	flagDataDir    string
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
)

// resolvedCfg holds the effective configuration loaded by PersistentPreRunE.
// It is available to all subcommands after the root pre-run phase completes.
var resolvedCfg *config.Config

// tokenFileName is the token slot file inside the data directory.
const tokenFileName = "token.json"

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "crashctl",
		Short:   "CrashPusher admin CLI",
		Long:    "A CLI client for the CrashPusher crash-reporting admin API.",
		Version: version,
		// Silence Cobra's default error/usage printing; we handle it ourselves.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return loadConfig(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagServerURL, "server", "", "API base URL")
	cmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "directory for the token slot and session records")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	// Register subcommands.
	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newLogoutCmd())
	cmd.AddCommand(newWhoamiCmd())
	cmd.AddCommand(newRegisterAdminCmd())
	cmd.AddCommand(newRefreshCmd())
	cmd.AddCommand(newUploadCmd())
	cmd.AddCommand(newUploadCancelCmd())
	cmd.AddCommand(newUsersCmd())
	cmd.AddCommand(newCrashesCmd())
	cmd.AddCommand(newStatsCmd())

	return cmd
}

// loadConfig resolves the effective configuration from the four-layer
// override chain and stores the result in resolvedCfg for subcommands.
func loadConfig(cmd *cobra.Command) error {
	cli := config.CLIOverrides{
		ConfigPath: flagConfigPath,
	}

	// Only pass flags to the resolver if the user explicitly set them.
	if cmd.Flags().Changed("server") {
		cli.ServerURL = &flagServerURL
	}

	if cmd.Flags().Changed("data-dir") {
		cli.DataDir = &flagDataDir
	}

	if flagVerbose {
		level := "debug"
		cli.LogLevel = &level
	}

	if flagQuiet {
		level := "error"
		cli.LogLevel = &level
	}

	cfg, err := config.Resolve(config.ReadEnvOverrides(), cli)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	resolvedCfg = cfg

	return nil
}

// buildLogger creates an slog.Logger configured by the resolved config.
// --verbose and --quiet were already folded into the config's log level.
func buildLogger() *slog.Logger {
	level := slog.LevelInfo
	format := "text"

	if resolvedCfg != nil {
		switch resolvedCfg.Logging.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}

		format = resolvedCfg.Logging.LogFormat
	}

	opts := &slog.HandlerOptions{Level: level}

	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}

	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// newAPIClient wires the guarded API client from the resolved config: token
// slot under the data dir, refresh policy, and a session-expired hint on
// stderr (the CLI analog of the web frontend's redirect to the login page).
func newAPIClient(logger *slog.Logger) *api.Client {
	tokens := tokenstore.NewStore(filepath.Join(resolvedCfg.Upload.DataDir, tokenFileName))

	// No client-level timeout: chunk uploads carry their own longer deadline,
	// everything else gets a per-command context deadline (see requestContext).
	httpClient := &http.Client{}

	client := api.NewClient(resolvedCfg.Server.URL, httpClient, tokens, logger, api.GuardOptions{
		KeepSessionOnSoftFailure: resolvedCfg.Session.KeepOnSoftRefreshFailure,
	})

	client.OnSessionExpired(func(reason string) {
		fmt.Fprintf(os.Stderr, "Session ended (%s). Run 'crashctl login' to sign in again.\n", reason)
	})

	return client
}

// newUploadEngine wires the chunked upload engine with session records kept
// next to the token slot.
func newUploadEngine(client *api.Client, logger *slog.Logger) *upload.Engine {
	store := upload.NewSessionStore(resolvedCfg.Upload.DataDir, logger)

	return upload.NewEngine(client, store, logger, upload.Options{
		ChunkTimeout: resolvedCfg.ChunkTimeout(),
	})
}

// requestContext returns a context bounded by the configured request timeout,
// for commands that make a handful of short API calls. Long-running commands
// (upload) manage their own deadlines.
func requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), resolvedCfg.RequestTimeout())
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
