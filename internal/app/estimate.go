package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/shopspring/decimal"

	"obyra-pricing/internal/rounding"
	"obyra-pricing/internal/service"
)

// EstimateOptions configure the estimate command.
type EstimateOptions struct {
	Request service.EstimateRequest
	// CatalogPath points to a JSON object of material code to pack sizes.
	CatalogPath string
	JSON        bool
}

// RoundOptions configure the round command.
type RoundOptions struct {
	Required decimal.Decimal
	Sizes    []decimal.Decimal
	Unit     string
	JSON     bool
}

// Estimate prices a budget and prints it.
func (a *App) Estimate(ctx context.Context, opts EstimateOptions) error {
	catalog, err := loadCatalog(opts.CatalogPath)
	if err != nil {
		return err
	}

	c, err := a.build(ctx, catalog)
	if err != nil {
		return err
	}
	defer c.backend.close()

	resp, err := c.estimator.Estimate(ctx, opts.Request)
	if opts.JSON {
		if encErr := a.writeJSON(resp); encErr != nil {
			return encErr
		}
		return err
	}
	if err != nil {
		return fmt.Errorf("%s: %w", resp.Error, err)
	}
	return a.printEstimate(resp)
}

func (a *App) printEstimate(resp service.EstimateResponse) error {
	currency := resp.Currency
	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)

	for _, stage := range resp.Stages {
		fmt.Fprintf(writer, "%s (%s)\tconfidence %.2f\n", stage.Label, stage.Slug, stage.Confidence)
		if stage.Error != "" {
			fmt.Fprintf(writer, "  error: %s\n", stage.Error)
		}
		if len(stage.Items) > 0 {
			fmt.Fprintln(writer, "  Type\tCode\tUnit\tNet\tPurchase\tUnit price\tSubtotal")
		}
		for _, item := range stage.Items {
			fmt.Fprintf(writer, "  %s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				item.Type,
				item.Code,
				item.Unit,
				formatDecimal(item.NetQuantity, 3),
				formatDecimal(item.Quantity, 3),
				formatDecimal(item.UnitPrice.In(currency), 2),
				formatDecimal(item.Subtotal.In(currency), 2),
			)
		}
		fmt.Fprintf(writer, "  Stage total\t\t\t\t\t\t%s\n", formatDecimal(stage.Total.In(currency), 2))
		for _, note := range stage.Notes {
			fmt.Fprintf(writer, "  note: %s\n", sanitizeInline(note))
		}
	}

	fmt.Fprintf(writer, "Total ARS\t%s\n", formatDecimal(resp.TotalARS, 2))
	if resp.TotalUSD != nil {
		fmt.Fprintf(writer, "Total USD\t%s\n", formatDecimal(*resp.TotalUSD, 2))
	}
	if resp.SurplusTotal != nil {
		fmt.Fprintf(writer, "Surplus ARS\t%s\n", formatDecimal(resp.SurplusTotal.ARS, 2))
	}
	if meta := resp.ExchangeRateMeta; meta != nil {
		fmt.Fprintf(writer, "Exchange rate\t%s %s/%s (%s)\n", formatDecimal(meta.Rate, 2), meta.BaseCurrency, meta.QuoteCurrency, meta.AsOfDate)
	}
	fmt.Fprintf(writer, "CAC\t%s multiplier %s (%s)\n", resp.CACMeta.PeriodKey(), resp.CACMeta.Multiplier.StringFixed(4), resp.CACMeta.Provider)
	for _, warning := range resp.Warnings {
		fmt.Fprintf(writer, "warning: %s\n", sanitizeInline(warning))
	}
	fmt.Fprintf(writer, "Request\t%s\n", resp.RequestID)
	return writer.Flush()
}

// Round prints the purchase combination for a quantity.
func (a *App) Round(_ context.Context, opts RoundOptions) error {
	sizes := rounding.Sizes(opts.Sizes...)
	if len(sizes) == 0 && opts.Unit != "" {
		sizes = rounding.DefaultCatalog{}.PackSizes("", opts.Unit)
	}

	result, err := rounding.RoundToPurchase(opts.Required, sizes)
	if err != nil {
		return err
	}
	if opts.JSON {
		return a.writeJSON(result)
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Size\tCount")
	for _, p := range result.Packs {
		fmt.Fprintf(writer, "%s\t%d\n", p.Size.String(), p.Count)
	}
	fmt.Fprintf(writer, "Required\t%s\n", result.NetQty.String())
	fmt.Fprintf(writer, "Purchased\t%s\n", result.TotalQty.String())
	fmt.Fprintf(writer, "Surplus\t%s\n", result.Surplus.String())
	fmt.Fprintf(writer, "Breakdown\t%s\n", result.Breakdown)
	return writer.Flush()
}

func (a *App) writeJSON(v any) error {
	enc := json.NewEncoder(a.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func loadCatalog(path string) (rounding.Catalog, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	var entries map[string][]rounding.PackSize
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	catalog := make(rounding.MaterialCatalog, len(entries))
	for code, packs := range entries {
		catalog[strings.ToUpper(strings.TrimSpace(code))] = packs
	}
	return catalog, nil
}
