// Package app implements the operator commands on top of the pricing services.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"obyra-pricing/internal/alerting"
	"obyra-pricing/internal/budget"
	"obyra-pricing/internal/cac"
	"obyra-pricing/internal/cache"
	"obyra-pricing/internal/config"
	"obyra-pricing/internal/exchange"
	"obyra-pricing/internal/fetcher"
	"obyra-pricing/internal/logging"
	"obyra-pricing/internal/pricing"
	"obyra-pricing/internal/rounding"
	"obyra-pricing/internal/scheduler"
	"obyra-pricing/internal/service"
	"obyra-pricing/internal/storage"
	"obyra-pricing/internal/version"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Out    io.Writer
}

// NewApp constructs a new application handle writing command output to stdout.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logging.Component(logger, "app"), Out: os.Stdout}
}

// backend bundles the stores behind either Postgres or process memory.
type backend struct {
	snapshots  storage.SnapshotStore
	indices    storage.CACStore
	locker     storage.AdvisoryLocker
	persistent bool
	close      func()
}

func (a *App) openBackend(ctx context.Context) (*backend, error) {
	if a.Config.Database.DSN == "" {
		a.Logger.Warn().Msg("database.dsn not configured; reference data kept in memory")
		mem := storage.NewMemoryStore()
		return &backend{snapshots: mem, indices: mem, close: func() {}}, nil
	}

	if a.Config.Database.AutoMigrate {
		if err := storage.Migrate(a.Config.Database.DSN); err != nil {
			return nil, err
		}
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, err
	}
	store := storage.NewStore(pool)
	return &backend{
		snapshots:  store,
		indices:    store,
		locker:     store,
		persistent: true,
		close:      store.Close,
	}, nil
}

func (a *App) requirePersistent(ctx context.Context, action string) (*backend, error) {
	b, err := a.openBackend(ctx)
	if err != nil {
		return nil, err
	}
	if !b.persistent {
		b.close()
		return nil, fmt.Errorf("database not configured; cannot %s", action)
	}
	return b, nil
}

func (a *App) newNotifier() alerting.Notifier {
	if !a.Config.Alerting.Enabled || !a.Config.Alerting.Telegram.Enabled {
		return nil
	}
	cfg := a.Config.Alerting.Telegram
	return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, cfg.Timeout, a.Logger)
}

func (a *App) newRateFetcher() (fetcher.ExchangeRateFetcher, error) {
	cfg := a.Config.Exchange
	httpOpts := func(url string) fetcher.HTTPOptions {
		return fetcher.HTTPOptions{URL: url, Timeout: cfg.RequestTimeout, UserAgent: cfg.UserAgent}
	}

	var providers []fetcher.ExchangeRateFetcher
	for _, source := range cfg.Sources {
		switch strings.ToLower(strings.TrimSpace(source)) {
		case "dolarapi":
			providers = append(providers, fetcher.NewDolarAPI(httpOpts(cfg.DolarAPIURL), a.Logger))
		case "bluelytics":
			providers = append(providers, fetcher.NewBluelytics(fetcher.BluelyticsOptions{
				HTTPOptions: httpOpts(cfg.BluelyticsURL),
				Market:      bluelyticsMarket(cfg.Provider),
			}, a.Logger))
		default:
			return nil, fmt.Errorf("unknown exchange source %q", source)
		}
	}
	if len(providers) == 1 {
		return providers[0], nil
	}
	return fetcher.NewChain(a.Logger, providers...), nil
}

func bluelyticsMarket(provider string) string {
	if strings.EqualFold(provider, "blue") {
		return "blue"
	}
	return "oficial"
}

func (a *App) newCACFetcher() (fetcher.CACFetcher, error) {
	cfg := a.Config.CAC
	if cfg.ProviderURL == "" {
		return nil, nil
	}
	return fetcher.NewCACScraper(fetcher.CACScraperOptions{
		HTTPOptions: fetcher.HTTPOptions{URL: cfg.ProviderURL, Timeout: cfg.RequestTimeout, UserAgent: cfg.UserAgent},
		Pattern:     cfg.ValuePattern,
	}, a.Logger)
}

func (a *App) ensureOptions(f fetcher.ExchangeRateFetcher) exchange.EnsureOptions {
	cfg := a.Config.Exchange
	return exchange.EnsureOptions{
		Provider:      cfg.Provider,
		BaseCurrency:  cfg.BaseCurrency,
		QuoteCurrency: cfg.QuoteCurrency,
		Fetcher:       f,
		Freshness:     cfg.Freshness(),
		FallbackRate:  cfg.Fallback(),
	}
}

func (a *App) newCACResolver(b *backend, notifier alerting.Notifier) (*cac.Resolver, error) {
	basePeriod, err := a.Config.CAC.BasePeriodDate()
	if err != nil {
		return nil, err
	}
	cacFetcher, err := a.newCACFetcher()
	if err != nil {
		return nil, err
	}

	opts := cac.Options{
		BaseValue:    a.Config.CAC.BaseValueDecimal(),
		BasePeriod:   basePeriod,
		Cache:        cache.NewTTL[string, cac.Context](64, a.Config.CAC.CacheTTL),
		FallbackTTL:  a.Config.CAC.FallbackTTL,
		Fetcher:      cacFetcher,
		Notifier:     notifier,
		FetchTimeout: a.Config.CAC.RequestTimeout,
	}
	return cac.NewResolver(b.indices, opts, a.Logger)
}

// components holds everything an estimate or refresh needs.
type components struct {
	backend   *backend
	rates     *exchange.Resolver
	cac       *cac.Resolver
	estimator *service.Estimator
	ensure    exchange.EnsureOptions
}

func (a *App) build(ctx context.Context, catalog rounding.Catalog) (*components, error) {
	b, err := a.openBackend(ctx)
	if err != nil {
		return nil, err
	}

	rateFetcher, err := a.newRateFetcher()
	if err != nil {
		b.close()
		return nil, err
	}
	notifier := a.newNotifier()

	rates := exchange.NewResolver(b.snapshots, a.Logger,
		exchange.WithNotifier(notifier),
		exchange.WithFetchTimeout(a.Config.Exchange.RequestTimeout),
	)
	cacResolver, err := a.newCACResolver(b, notifier)
	if err != nil {
		b.close()
		return nil, err
	}

	engine := pricing.NewEngine(pricing.EngineOptions{
		Cache:       cache.NewTTL[string, pricing.Response](a.Config.Pricing.CacheSize, a.Config.Pricing.CacheTTL),
		DefaultTier: a.Config.Pricing.DefaultTier,
	}, a.Logger)

	ensure := a.ensureOptions(rateFetcher)
	estimator, err := service.NewEstimator(service.EstimatorOptions{
		Rates:     rates,
		CAC:       cacResolver,
		Engine:    engine,
		Processor: budget.NewProcessor(catalog, a.Logger),
		Exchange:  ensure,
	}, a.Logger)
	if err != nil {
		b.close()
		return nil, err
	}

	return &components{backend: b, rates: rates, cac: cacResolver, estimator: estimator, ensure: ensure}, nil
}

// Run executes the long-running reference-data refresher.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	c, err := a.build(ctx, nil)
	if err != nil {
		return err
	}
	defer c.backend.close()

	sched, err := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToSlot:  a.Config.Scheduler.AlignToSlot,
		StartupDelay: a.Config.Scheduler.StartupDelay,
		RunOnStart:   true,
	}, a.Logger)
	if err != nil {
		return err
	}

	refresher, err := service.NewRefresher(service.RefresherOptions{
		Scheduler:   sched,
		Rates:       c.rates,
		CAC:         c.cac,
		Exchange:    c.ensure,
		CACSchedule: a.Config.CAC.RefreshCron,
		Locker:      c.backend.locker,
		LockKey:     a.Config.Scheduler.AdvisoryLockKey,
	}, a.Logger)
	if err != nil {
		return err
	}

	a.Logger.Info().Str("version", version.Version).
		Dur("interval", a.Config.Scheduler.Interval).
		Str("cac_schedule", a.Config.CAC.RefreshCron).
		Msg("starting reference data refresher")
	err = refresher.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("refresher terminated with error")
		return err
	}

	a.Logger.Info().Msg("reference data refresher stopped")
	return nil
}

// ExportOptions hold parameters for exporting reference-data history.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// BackfillOptions configure the CAC backfill job.
type BackfillOptions struct {
	From    time.Time
	To      time.Time
	DryRun  bool
	Workers int
}
