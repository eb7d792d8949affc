package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newReviewCommand(opts *RootOptions) *cobra.Command {
	var duplicate, distinct bool
	var limit int
	cmd := &cobra.Command{
		Use:   "review [tx-id]",
		Short: "List potential duplicates, or settle one",
		Example: `  bankfeed review
  bankfeed review 0f9c... --duplicate
  bankfeed review 0f9c... --distinct`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 && duplicate == distinct {
				return fmt.Errorf("pass exactly one of --duplicate or --distinct")
			}
			a, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			review := a.engine.Review()
			out := cmd.OutOrStdout()
			if len(args) == 1 {
				if err := review.ResolveDuplicate(cmd.Context(), args[0], duplicate); err != nil {
					return err
				}
				verdict := "kept as distinct"
				if duplicate {
					verdict = "removed as duplicate"
				}
				fmt.Fprintf(out, "%s: %s\n", args[0], verdict)
				return nil
			}

			txs, err := review.ListPotentialDuplicates(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(txs) == 0 {
				fmt.Fprintln(out, "no potential duplicates")
				return nil
			}
			for _, t := range txs {
				dupOf := ""
				if t.DuplicateOfID != nil {
					dupOf = *t.DuplicateOfID
				}
				fmt.Fprintf(out, "%s  %s  %10s  %-40s  duplicate of %s\n",
					t.ID, t.Date.Format(time.DateOnly), t.Amount.StringFixed(2), t.Description, dupOf)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&duplicate, "duplicate", false, "confirm the transaction duplicates another")
	cmd.Flags().BoolVar(&distinct, "distinct", false, "dismiss the duplicate flag")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum transactions to list")
	return cmd
}
