package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"obyra-pricing/internal/alerting"
	"obyra-pricing/internal/cac"
)

// SimulateAlert sends a sample degraded-data notification through the configured channel.
func (a *App) SimulateAlert(ctx context.Context, kind alerting.Kind) error {
	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("alerting disabled; enable alerting.enabled and alerting.telegram.enabled")
	}

	n := alerting.Notification{
		Kind:       kind,
		OccurredAt: time.Now().UTC(),
		Detail:     "simulated notification",
	}
	switch kind {
	case alerting.KindRateStale:
		n.Provider = a.Config.Exchange.Provider
		n.Value = decimal.RequireFromString("1000")
		n.Age = 3 * time.Hour
	case alerting.KindRateFallback:
		n.Provider = a.Config.Exchange.Provider
		n.Value = decimal.RequireFromString("1000")
	case alerting.KindCACFallback:
		n.Provider = cac.BaseProvider
		n.Value = a.Config.CAC.BaseValueDecimal()
	default:
		return fmt.Errorf("unknown alert kind %q", kind)
	}

	if err := notifier.Notify(ctx, n); err != nil {
		return err
	}
	a.Logger.Info().Str("kind", string(kind)).Msg("simulated alert sent")
	return nil
}
