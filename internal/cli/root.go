// Package cli provides the modelstore command-line interface.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/rzpsarthak13/modelstore/pkg/modelstore"
)

// Version information (set at build time).
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
)

// app carries state shared by subcommands for one invocation.
type app struct {
	cfgFile string
	verbose bool
	client  modelstore.Client
}

// open connects using the configuration named by --config plus the
// MODELSTORE_* environment. Callers defer close.
func (a *app) open(cmd *cobra.Command) (modelstore.Client, error) {
	if a.client != nil {
		return a.client, nil
	}
	cfg, err := modelstore.LoadConfig(a.cfgFile)
	if err != nil {
		return nil, err
	}
	c, err := modelstore.NewClient(cmd.Context(), cfg, modelstore.WithLogger(newLogger(cmd.ErrOrStderr(), a.verbose)))
	if err != nil {
		return nil, err
	}
	a.client = c
	return c, nil
}

func (a *app) close() error {
	if a.client == nil {
		return nil
	}
	err := a.client.Close()
	a.client = nil
	return err
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// NewRootCmd creates and returns the root command.
func NewRootCmd() *cobra.Command {
	a := &app{}
	rootCmd := &cobra.Command{
		Use:   "modelstore",
		Short: "modelstore - schema-driven record storage",
		Long: `modelstore keeps model schemas and the tables behind them in line,
and reads the records they hold.

Schemas and the backend are taken from a YAML or JSON config file and
MODELSTORE_* environment variables.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetVersionTemplate("{{.Name}} {{.Version}}\n")

	rootCmd.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (.yaml, .yml or .json)")
	rootCmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Verbose logging to stderr")

	rootCmd.AddCommand(newVersionCommand())
	rootCmd.AddCommand(newSchemaCommand(a))
	rootCmd.AddCommand(newRecordsCommand(a))
	rootCmd.AddCommand(newWatchCommand(a))

	return rootCmd
}

// Execute runs the root command.
func Execute() error {
	rootCmd := NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "modelstore v%s (%s)\n", Version, GitCommit)
		},
	}
}
