package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"obyra-pricing/internal/alerting"
)

var simulateKind string

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Send a sample degraded reference-data notification",
	RunE: func(cmd *cobra.Command, args []string) error {
		kind := alerting.Kind(simulateKind)
		switch kind {
		case alerting.KindRateStale, alerting.KindRateFallback, alerting.KindCACFallback:
		default:
			return fmt.Errorf("--kind must be one of %s, %s, %s", alerting.KindRateStale, alerting.KindRateFallback, alerting.KindCACFallback)
		}
		return getApp().SimulateAlert(cmd.Context(), kind)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateKind, "kind", string(alerting.KindRateFallback), "Notification kind to simulate")
}
