package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"

	"contramind/internal/decision"
)

// errDrift makes the command exit non-zero when stored decisions would change.
var errDrift = errors.New("drift detected")

func replayCmd(opts *clientOptions) *cobra.Command {
	var (
		from, to int64
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Re-evaluate stored decisions against current parameters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q := url.Values{}
			if from > 0 {
				q.Set("from", strconv.FormatInt(from, 10))
			}
			if to > 0 {
				q.Set("to", strconv.FormatInt(to, 10))
			}
			var report decision.ReplayReport
			if err := opts.client().get(cmd.Context(), "/admin/replay", q, &report); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return err
				}
			} else {
				fmt.Fprintf(out, "Replayed ledger ids %d..%d under %s\n", report.From, report.To, report.ParamHash)
				fmt.Fprintf(out, "  checked: %d\n  pending: %d\n  drift:   %d\n", report.Checked, report.Pending, len(report.Drift))
				for _, d := range report.Drift {
					fmt.Fprintf(out, "  #%-8d %-24s %s -> %s\n", d.LedgerID, d.IdempotencyKey, d.Recorded, d.Now)
				}
			}
			if len(report.Drift) > 0 {
				return errDrift
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&from, "from", 0, "First ledger id (default: 1)")
	cmd.Flags().Int64Var(&to, "to", 0, "Last ledger id (default: latest)")
	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "Print the full report as JSON")
	return cmd
}
