package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jask/bankfeed/internal/service"
)

func newImportCommand(opts *RootOptions) *cobra.Command {
	var account, format string
	cmd := &cobra.Command{
		Use:   "import <csv>",
		Short: "Stage a CSV statement next to the bank feed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, ok := service.ParseStatementFormat(format)
			if !ok {
				return fmt.Errorf("unknown format %q (generic|anz)", format)
			}
			file, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer file.Close()

			a, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.engine.StatementImporter().ImportCSV(cmd.Context(), file, account, f)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "imported=%d skipped=%d duplicates=%d errors=%d\n", res.Imported, res.Skipped, res.Duplicates, len(res.Errors))
			for _, e := range res.Errors {
				fmt.Fprintf(out, "  %v\n", e)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&account, "account", "", "ledger account the statement belongs to (required)")
	cmd.Flags().StringVar(&format, "format", "generic", "statement layout (generic|anz)")
	_ = cmd.MarkFlagRequired("account")
	return cmd
}

func newRulesCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage categorization rules",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "import <yaml>",
		Short: "Import categorization rules from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer file.Close()

			a, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.engine.ImportRules(cmd.Context(), file)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d rule(s) imported\n", n)
			return nil
		},
	})
	return cmd
}
