// Package cli implements the featuregate command line: the serve command that
// runs the control plane, plus offline helpers for evaluating flags and
// checking configuration.
package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// App represents the CLI application with all wired commands.
type App struct {
	rootCmd *cobra.Command

	// Version information
	version string
	commit  string
	date    string
}

// New creates a new CLI application.
func New() *App {
	app := &App{version: "dev", commit: "unknown", date: "unknown"}
	app.setupRootCmd()
	return app
}

// Execute runs the CLI application.
func (a *App) Execute() error {
	return a.rootCmd.Execute()
}

// ExecuteContext runs the CLI application with ctx available to every command.
func (a *App) ExecuteContext(ctx context.Context) error {
	return a.rootCmd.ExecuteContext(ctx)
}

// SetVersion sets the version string for the version command.
func (a *App) SetVersion(version, commit, date string) {
	a.version = version
	a.commit = commit
	a.date = date
}

func (a *App) setupRootCmd() {
	a.rootCmd = &cobra.Command{
		Use:   "featuregate",
		Short: "Feature-rollout control plane",
		Long: `featuregate evaluates feature flags, manages the lifecycle of
flag-gated integrations and drives staged rollouts guarded by health checks.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	a.rootCmd.AddCommand(
		NewServeCmd(a),
		NewEvalCmd(a),
		NewCheckConfigCmd(a),
		a.newVersionCmd(),
	)
}

func (a *App) newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "featuregate %s (commit %s, built %s)\n", a.version, a.commit, a.date)
		},
	}
}
