package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/srab2001/featuregate/internal/config"
	"github.com/srab2001/featuregate/internal/flags"
	"github.com/srab2001/featuregate/internal/logger"
	"github.com/srab2001/featuregate/internal/rollout"
)

// NewCheckConfigCmd creates the check-config command.
func NewCheckConfigCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Validate the environment configuration without starting anything",
		Long: `Load FEATUREGATE_* variables, validate them, parse the flag file and the
integration endpoints, and check the rollout defaults against the stage list.
No connection to any backend is made.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return app.CheckConfig(cmd.OutOrStdout(), cfg)
		},
	}
}

// CheckConfig runs the offline checks against cfg and prints a summary.
func (a *App) CheckConfig(w io.Writer, cfg *config.Config) error {
	defs, err := loadFlags(&cfg.Flags)
	if err != nil {
		return err
	}
	for flag, rawURL := range cfg.Integration.Endpoints {
		if _, err := integrationName(rawURL); err != nil {
			return fmt.Errorf("integration endpoint for flag %s: %w", flag, err)
		}
	}

	ev, err := flags.NewEvaluator(logger.Discard(), defs)
	if err != nil {
		return err
	}

	// rollout.New validates the defaults against the stage list.
	engine, err := rollout.New(logger.Discard(), rollout.Deps{Flags: ev}, rollout.Config{
		Defaults: rollout.OptionsFromConfig(&cfg.Rollout),
	})
	if err != nil {
		return fmt.Errorf("rollout defaults: %w", err)
	}
	opts := engine.DefaultOptions()

	fmt.Fprintf(w, "configuration ok\n")
	fmt.Fprintf(w, "  environment:   %s\n", cfg.App.Environment)
	fmt.Fprintf(w, "  storage:       %s\n", cfg.Storage.Backend)
	fmt.Fprintf(w, "  audit:         %s\n", cfg.Audit.Backend)
	fmt.Fprintf(w, "  flags:         %d\n", len(defs))
	fmt.Fprintf(w, "  integrations:  %d\n", len(cfg.Integration.Endpoints))
	fmt.Fprintf(w, "  target stage:  %s\n", opts.TargetStage)
	return nil
}
