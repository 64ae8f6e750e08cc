package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/srab2001/featuregate/internal/flags"
	"github.com/srab2001/featuregate/internal/logger"
)

// EvalOptions holds flags for the eval command.
type EvalOptions struct {
	File   string
	UserID string
	Cohort string
	JSON   bool
}

// NewEvalCmd creates the eval command.
func NewEvalCmd(app *App) *cobra.Command {
	var opts EvalOptions

	cmd := &cobra.Command{
		Use:   "eval [flag...]",
		Short: "Evaluate flags from a definition file for one user",
		Long: `Evaluate flags offline, exactly as the running service would, for the
given user and cohort. Without flag names every flag in the file is evaluated.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.Eval(cmd.OutOrStdout(), opts, args)
		},
	}

	cmd.Flags().StringVarP(&opts.File, "file", "f", "", "Flag definition file (YAML)")
	cmd.Flags().StringVarP(&opts.UserID, "user", "u", "", "User ID to evaluate for")
	cmd.Flags().StringVarP(&opts.Cohort, "cohort", "c", "", "User cohort (default \""+flags.DefaultCohort+"\")")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "Output as JSON instead of a table")
	_ = cmd.MarkFlagRequired("file")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

// Eval evaluates names (or every flag in the file) and writes the result to w.
func (a *App) Eval(w io.Writer, opts EvalOptions, names []string) error {
	defs, err := flags.LoadFile(opts.File)
	if err != nil {
		return err
	}
	ev, err := flags.NewEvaluator(logger.Discard(), defs)
	if err != nil {
		return err
	}

	if len(names) == 0 {
		for _, f := range ev.GetAllFlags() {
			names = append(names, f.Name)
		}
	}

	user := flags.NewUserContext(opts.UserID, opts.Cohort)
	results := make([]flags.Evaluation, 0, len(names))
	for _, name := range names {
		results = append(results, ev.Evaluate(user, name))
	}

	if opts.JSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FLAG\tENABLED\tREASON\tBUCKET")
	for _, r := range results {
		bucket := "-"
		if r.Bucket >= 0 {
			bucket = fmt.Sprint(r.Bucket)
		}
		fmt.Fprintf(tw, "%s\t%t\t%s\t%s\n", r.Flag, r.Enabled, r.Reason, bucket)
	}
	return tw.Flush()
}
