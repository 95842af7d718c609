package cli

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"obyra-pricing/internal/app"
)

var cacCmd = &cobra.Command{
	Use:   "cac",
	Short: "Manage construction-cost index values",
}

var (
	cacSetPeriod string
	cacSetValue  string
)

var cacSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Store a manual CAC value for a month",
	RunE: func(cmd *cobra.Command, args []string) error {
		value, err := decimal.NewFromString(cacSetValue)
		if err != nil {
			return fmt.Errorf("invalid --value: %w", err)
		}
		return getApp().SetCAC(cmd.Context(), app.SetCACOptions{Period: cacSetPeriod, Value: value})
	},
}

var (
	backfillFrom    string
	backfillTo      string
	backfillDryRun  bool
	backfillWorkers int
)

var cacBackfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Fetch provider CAC values for months without a stored row",
	RunE: func(cmd *cobra.Command, args []string) error {
		if backfillFrom == "" || backfillTo == "" {
			return fmt.Errorf("--from and --to must be provided")
		}

		from, err := time.Parse("2006-01", backfillFrom)
		if err != nil {
			return fmt.Errorf("invalid --from value: %w", err)
		}

		to, err := time.Parse("2006-01", backfillTo)
		if err != nil {
			return fmt.Errorf("invalid --to value: %w", err)
		}

		if to.Before(from) {
			return fmt.Errorf("--from must not be after --to")
		}

		opts := app.BackfillOptions{
			From:    from,
			To:      to,
			DryRun:  backfillDryRun,
			Workers: backfillWorkers,
		}

		return getApp().BackfillCAC(cmd.Context(), opts)
	},
}

func init() {
	cacSetCmd.Flags().StringVar(&cacSetPeriod, "period", "", "Index month (YYYY-MM)")
	cacSetCmd.Flags().StringVar(&cacSetValue, "value", "", "Index value")
	_ = cacSetCmd.MarkFlagRequired("period")
	_ = cacSetCmd.MarkFlagRequired("value")

	cacBackfillCmd.Flags().StringVar(&backfillFrom, "from", "", "First month (YYYY-MM, inclusive)")
	cacBackfillCmd.Flags().StringVar(&backfillTo, "to", "", "Last month (YYYY-MM, inclusive)")
	cacBackfillCmd.Flags().BoolVar(&backfillDryRun, "dry-run", false, "Run without writing to storage")
	cacBackfillCmd.Flags().IntVar(&backfillWorkers, "workers", 2, "Number of concurrent workers")

	cacCmd.AddCommand(cacSetCmd)
	cacCmd.AddCommand(cacBackfillCmd)
}
