package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"obyra-pricing/internal/app"
	"obyra-pricing/internal/service"
)

var (
	estimateStages   []string
	estimateSurface  float64
	estimateTier     string
	estimateCurrency string
	estimateRound    bool
	estimateSurplus  bool
	estimateCatalog  string
	estimateJSON     bool
	estimateDate     string
)

var estimateCmd = &cobra.Command{
	Use:   "estimate",
	Short: "Price selected construction stages for a surface",
	Example: `  obyra-pricing estimate --stage fundaciones --stage "pintura=Pintura interior" --surface 120
  obyra-pricing estimate --stage mamposteria --surface 80 --tier premium --currency USD --round --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		stages, err := parseStages(estimateStages)
		if err != nil {
			return err
		}

		req := service.EstimateRequest{
			Stages:         stages,
			SurfaceM2:      estimateSurface,
			QualityTier:    estimateTier,
			Currency:       estimateCurrency,
			ApplyRounding:  estimateRound,
			IncludeSurplus: estimateSurplus,
		}
		if estimateDate != "" {
			at, err := time.Parse("2006-01-02", estimateDate)
			if err != nil {
				return fmt.Errorf("invalid --date value: %w", err)
			}
			req.TargetDate = &at
		}

		return getApp().Estimate(cmd.Context(), app.EstimateOptions{
			Request:     req,
			CatalogPath: estimateCatalog,
			JSON:        estimateJSON,
		})
	},
}

// parseStages accepts "slug" or "slug=Label" entries.
func parseStages(values []string) ([]service.StageRequest, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("at least one --stage is required")
	}
	out := make([]service.StageRequest, 0, len(values))
	for _, value := range values {
		slug, label, _ := strings.Cut(value, "=")
		slug = strings.TrimSpace(slug)
		if slug == "" {
			return nil, fmt.Errorf("invalid --stage value %q", value)
		}
		out = append(out, service.StageRequest{Slug: slug, Label: strings.TrimSpace(label)})
	}
	return out, nil
}

var (
	roundRequired string
	roundSizes    []string
	roundUnit     string
	roundJSON     bool
)

var roundCmd = &cobra.Command{
	Use:   "round",
	Short: "Round a quantity up to purchasable packs",
	Example: `  obyra-pricing round --required 66 --sizes 20,10,5
  obyra-pricing round --required 2.4 --unit m3`,
	RunE: func(cmd *cobra.Command, args []string) error {
		required, err := decimal.NewFromString(roundRequired)
		if err != nil {
			return fmt.Errorf("invalid --required value: %w", err)
		}

		sizes := make([]decimal.Decimal, 0, len(roundSizes))
		for _, raw := range roundSizes {
			size, err := decimal.NewFromString(strings.TrimSpace(raw))
			if err != nil {
				return fmt.Errorf("invalid --sizes value %q: %w", raw, err)
			}
			sizes = append(sizes, size)
		}

		return getApp().Round(cmd.Context(), app.RoundOptions{
			Required: required,
			Sizes:    sizes,
			Unit:     roundUnit,
			JSON:     roundJSON,
		})
	},
}

func init() {
	estimateCmd.Flags().StringArrayVar(&estimateStages, "stage", nil, "Stage slug, optionally slug=Label (repeatable)")
	estimateCmd.Flags().Float64Var(&estimateSurface, "surface", 0, "Surface in square metres")
	estimateCmd.Flags().StringVar(&estimateTier, "tier", "", "Quality tier (economic, standard, premium)")
	estimateCmd.Flags().StringVar(&estimateCurrency, "currency", "", "Output currency (ARS or USD)")
	estimateCmd.Flags().BoolVar(&estimateRound, "round", false, "Round material quantities to purchasable packs")
	estimateCmd.Flags().BoolVar(&estimateSurplus, "surplus", false, "Report surplus cost of rounded purchases")
	estimateCmd.Flags().StringVar(&estimateCatalog, "catalog", "", "JSON file mapping material codes to pack sizes")
	estimateCmd.Flags().BoolVar(&estimateJSON, "json", false, "Print the response as JSON")
	estimateCmd.Flags().StringVar(&estimateDate, "date", "", "Price against the CAC index of this day (YYYY-MM-DD)")
	_ = estimateCmd.MarkFlagRequired("surface")

	roundCmd.Flags().StringVar(&roundRequired, "required", "", "Net quantity required")
	roundCmd.Flags().StringSliceVar(&roundSizes, "sizes", nil, "Pack sizes, comma separated")
	roundCmd.Flags().StringVar(&roundUnit, "unit", "", "Use the default pack sizes for this unit when --sizes is empty")
	roundCmd.Flags().BoolVar(&roundJSON, "json", false, "Print the result as JSON")
	_ = roundCmd.MarkFlagRequired("required")
}
