// Package main provides the entry point for the kdbx2bw CLI tool.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nvinuesa/kdbx2bw/internal/bitwarden"
)

// Version information set at build time.
var (
	Version   = "0.1.0-edge"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

var rootFlags struct {
	configFile string
	verbose    bool
	quiet      bool
}

// log is built before any subcommand runs.
var log = zap.NewNop().Sugar()

var rootCmd = &cobra.Command{
	Use:   "kdbx2bw",
	Short: "Migrate a KeePass database into a Bitwarden organization",
	Long: `kdbx2bw copies every entry of a KeePass 2.x database into a Bitwarden
organization through the Vault Management API of "bw serve".

Groups become collections, custom fields keep their protection, TOTP
secrets and attachments are carried over. Items that already exist with the
same name in the target collection are replaced.

Settings are read from a YAML file (--config), a .env file in the working
directory, environment variables and flags, in increasing precedence.

Examples:
  # Start the API, then migrate
  bw serve &
  kdbx2bw migrate -f vault.kdbx -o <organization-id> -b <master-password>

  # Rehearse without touching the vault
  kdbx2bw migrate -f vault.kdbx --dry-run

  # Show what would be migrated
  kdbx2bw preview vault.kdbx`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setupLogger,
}

func init() {
	// Disable completion command
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVarP(&rootFlags.configFile, "config", "c", "", "YAML configuration file")
	rootCmd.PersistentFlags().BoolVarP(&rootFlags.verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&rootFlags.quiet, "quiet", "q", false, "Only log warnings and errors")

	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(previewCmd)
	rootCmd.AddCommand(versionCmd)
}

func setupLogger(cmd *cobra.Command, args []string) error {
	l, err := newLogger(rootFlags.verbose, rootFlags.quiet)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	log = l
	return nil
}

// newLogger builds a console logger on stderr.
func newLogger(verbose, quiet bool) (*zap.SugaredLogger, error) {
	level := zap.InfoLevel
	switch {
	case verbose:
		level = zap.DebugLevel
	case quiet:
		level = zap.WarnLevel
	}

	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.OutputPaths = []string{"stderr"}
	cfg.DisableStacktrace = true
	cfg.DisableCaller = !verbose

	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}

// printError writes err and, for API failures, the transport error or the
// response status and body.
func printError(w io.Writer, err error) {
	fmt.Fprintln(w, "Error:", err)

	var re *bitwarden.RemoteError
	if !errors.As(err, &re) {
		return
	}
	if re.Transport() {
		fmt.Fprintf(w, "Could not reach %s: %v\n", re.URL, re.Err)
		return
	}
	fmt.Fprintf(w, "Request:     %s %s\n", re.Method, re.URL)
	fmt.Fprintf(w, "Status code: %d\n", re.StatusCode)
	if re.Body != "" {
		fmt.Fprintf(w, "Body:        %s\n", re.Body)
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	_ = log.Sync()
	if err != nil {
		printError(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
