// Package pricing computes material, labor and equipment line items per construction stage.
package pricing

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"obyra-pricing/internal/apperrors"
	"obyra-pricing/internal/cac"
	"obyra-pricing/internal/cache"
)

// ItemType classifies a line item.
type ItemType string

const (
	ItemMaterial  ItemType = "material"
	ItemLabor     ItemType = "labor"
	ItemEquipment ItemType = "equipment"

	CurrencyARS = "ARS"
	CurrencyUSD = "USD"

	// OriginRuleEngine tags items produced from the stage templates.
	OriginRuleEngine = "rule-engine"

	unmodeledConfidence = 0.25
	baseConfidence      = 0.6
	confidencePerItem   = 0.03
	maxConfidence       = 0.9

	quantityPlaces = 3
	pricePlaces    = 2

	// MaxSurfaceM2 is the largest surface a single estimate accepts.
	MaxSurfaceM2 = 10_000_000

	// DefaultCacheSize bounds the memoized responses when no cache is injected.
	DefaultCacheSize = 512
	// DefaultCacheTTL expires memoized responses when no cache is injected.
	DefaultCacheTTL = 6 * time.Hour
)

// LineItem is one priced row of a stage.
type LineItem struct {
	Type         ItemType        `json:"type"`
	Code         string          `json:"code"`
	Description  string          `json:"description"`
	Unit         string          `json:"unit"`
	Quantity     decimal.Decimal `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	UnitPriceARS decimal.Decimal `json:"unit_price_ars"`
	Currency     string          `json:"currency"`
	Subtotal     decimal.Decimal `json:"subtotal"`
	Origin       string          `json:"origin"`
}

// StageResult is the priced bill of one stage.
type StageResult struct {
	Slug           string          `json:"slug"`
	Label          string          `json:"label"`
	Tier           Tier            `json:"tier"`
	Currency       string          `json:"currency"`
	Items          []LineItem      `json:"items"`
	MaterialsTotal decimal.Decimal `json:"materials_total"`
	LaborTotal     decimal.Decimal `json:"labor_total"`
	EquipmentTotal decimal.Decimal `json:"equipment_total"`
	Total          decimal.Decimal `json:"total"`
	Confidence     float64         `json:"confidence"`
	Unmodeled      bool            `json:"unmodeled,omitempty"`
	Notes          []string        `json:"notes,omitempty"`
	Error          string          `json:"error,omitempty"`

	err error
}

// Err returns the error that prevented pricing this stage, if any.
func (s StageResult) Err() error {
	return s.err
}

// StageSelection names a stage requested by the caller.
type StageSelection struct {
	Slug  string `json:"slug"`
	Label string `json:"label,omitempty"`
}

// Request prices several stages with shared inputs.
type Request struct {
	Stages    []StageSelection
	SurfaceM2 float64
	Tier      string
	Currency  string
	FXRate    *decimal.Decimal
	CAC       cac.Context
}

// Response aggregates the priced stages.
type Response struct {
	Stages   []StageResult   `json:"stages"`
	Currency string          `json:"currency"`
	Tier     Tier            `json:"tier"`
	Total    decimal.Decimal `json:"total"`
	TotalARS decimal.Decimal `json:"total_ars"`
}

// EngineOptions configure an Engine. Zero values select the built-in reference data.
type EngineOptions struct {
	Templates   []StageTemplate
	Prices      map[string]decimal.Decimal
	Cache       *cache.TTL[string, Response]
	DefaultTier string
}

// Engine prices stages from immutable templates. It is safe for concurrent use.
type Engine struct {
	templates   map[string]StageTemplate
	prices      map[string]decimal.Decimal
	cache       *cache.TTL[string, Response]
	defaultTier string
	logger      zerolog.Logger
}

// NewEngine builds an engine.
func NewEngine(opts EngineOptions, logger zerolog.Logger) *Engine {
	if opts.Templates == nil {
		opts.Templates = DefaultTemplates()
	}
	if opts.Prices == nil {
		opts.Prices = ReferencePrices()
	}
	if opts.Cache == nil {
		opts.Cache = cache.NewTTL[string, Response](DefaultCacheSize, DefaultCacheTTL)
	}
	if opts.DefaultTier == "" {
		opts.DefaultTier = tierStandard.key
	}

	templates := make(map[string]StageTemplate, len(opts.Templates))
	for _, t := range opts.Templates {
		templates[NormalizeSlug(t.Slug)] = t
	}

	return &Engine{
		templates:   templates,
		prices:      opts.Prices,
		cache:       opts.Cache,
		defaultTier: opts.DefaultTier,
		logger:      logger.With().Str("component", "pricing").Logger(),
	}
}

// Template returns the template for slug, if modeled.
func (e *Engine) Template(slug string) (StageTemplate, bool) {
	t, ok := e.templates[NormalizeSlug(slug)]
	return t, ok
}

// CalculateStage prices one stage. Unmodeled stages yield an empty, low-confidence result.
func (e *Engine) CalculateStage(slug string, surfaceM2 float64, tier, currency string, fxRate *decimal.Decimal, cacCtx cac.Context) (StageResult, error) {
	surface, err := validateSurface(surfaceM2)
	if err != nil {
		return StageResult{}, err
	}
	currency, err = normalizeCurrency(currency)
	if err != nil {
		return StageResult{}, err
	}
	return e.calculateStage(slug, "", surface, e.resolveTier(tier), currency, fxRate, cacCtx)
}

func (e *Engine) calculateStage(slug, label string, surface decimal.Decimal, tier Tier, currency string, fxRate *decimal.Decimal, cacCtx cac.Context) (StageResult, error) {
	result := StageResult{
		Slug:           NormalizeSlug(slug),
		Label:          label,
		Tier:           tier,
		Currency:       currency,
		Items:          []LineItem{},
		MaterialsTotal: decimal.Zero,
		LaborTotal:     decimal.Zero,
		EquipmentTotal: decimal.Zero,
		Total:          decimal.Zero,
	}

	template, ok := e.templates[result.Slug]
	if !ok {
		if result.Label == "" {
			result.Label = slug
		}
		result.Unmodeled = true
		result.Confidence = unmodeledConfidence
		result.Notes = append(result.Notes, fmt.Sprintf("stage %q has no pricing rules; add items manually", slug))
		return result, nil
	}
	if result.Label == "" {
		result.Label = template.Label
	}

	if currency != CurrencyARS && (fxRate == nil || !fxRate.IsPositive()) {
		return result, fmt.Errorf("%w: %s pricing for stage %s", apperrors.ErrInvalidExchangeRate, currency, result.Slug)
	}

	multiplier := cacCtx.Multiplier
	if !multiplier.IsPositive() {
		multiplier = decimal.NewFromInt(1)
	}
	one := decimal.NewFromInt(1)

	for _, rule := range template.Materials {
		qty := surface.Mul(rule.CoefficientPerM2).Mul(tier.Multiplier).Round(quantityPlaces)
		result.Items = append(result.Items, e.priceItem(&result, ItemMaterial, rule.Code, rule.Description, rule.Unit, qty, multiplier, currency, fxRate))
	}
	for _, rule := range template.Labor {
		qty := decimal.Max(surface.Mul(rule.CoefficientPerM2).Mul(tier.Multiplier).Round(quantityPlaces), one)
		result.Items = append(result.Items, e.priceItem(&result, ItemLabor, rule.Code, rule.Description, rule.Unit, qty, multiplier, currency, fxRate))
	}
	for _, rule := range template.Equipment {
		days := decimal.Max(surface.Mul(rule.DaysPerM2).Mul(tier.Multiplier), rule.MinimumDays)
		result.Items = append(result.Items, e.priceItem(&result, ItemEquipment, rule.Code, rule.Description, rule.Unit, days, multiplier, currency, fxRate))
	}

	for _, item := range result.Items {
		switch item.Type {
		case ItemMaterial:
			result.MaterialsTotal = result.MaterialsTotal.Add(item.Subtotal)
		case ItemLabor:
			result.LaborTotal = result.LaborTotal.Add(item.Subtotal)
		case ItemEquipment:
			result.EquipmentTotal = result.EquipmentTotal.Add(item.Subtotal)
		}
	}
	result.Total = result.MaterialsTotal.Add(result.LaborTotal).Add(result.EquipmentTotal)
	result.Confidence = confidence(len(result.Items))
	if !tier.Known {
		result.Notes = append(result.Notes, fmt.Sprintf("unknown quality tier %q priced as standard", tier.Display))
	}
	return result, nil
}

func (e *Engine) priceItem(stage *StageResult, kind ItemType, code, description, unit string, qty, cacMultiplier decimal.Decimal, currency string, fxRate *decimal.Decimal) LineItem {
	base, ok := e.prices[code]
	if !ok {
		stage.Notes = append(stage.Notes, fmt.Sprintf("no reference price for %s", code))
		base = decimal.Zero
	}

	priceARS := base.Mul(cacMultiplier).Round(pricePlaces)
	unitPrice := priceARS
	if currency != CurrencyARS {
		unitPrice = priceARS.DivRound(*fxRate, pricePlaces)
	}

	return LineItem{
		Type:         kind,
		Code:         code,
		Description:  description,
		Unit:         unit,
		Quantity:     qty,
		UnitPrice:    unitPrice,
		UnitPriceARS: priceARS,
		Currency:     currency,
		Subtotal:     qty.Mul(unitPrice).Round(pricePlaces),
		Origin:       OriginRuleEngine,
	}
}

// CalculateSelectedStages prices every requested stage and memoizes the response.
// A stage that fails is reported on its own result and excluded from the totals.
func (e *Engine) CalculateSelectedStages(req Request) (Response, error) {
	surface, err := validateSurface(req.SurfaceM2)
	if err != nil {
		return Response{}, err
	}
	currency, err := normalizeCurrency(req.Currency)
	if err != nil {
		return Response{}, err
	}
	if len(req.Stages) == 0 {
		return Response{}, fmt.Errorf("%w: at least one stage is required", apperrors.ErrValidation)
	}
	tier := e.resolveTier(req.Tier)

	key := memoKey(req, surface, tier, currency)
	if cached, ok := e.cache.Get(key); ok {
		e.logger.Debug().Str("key", key).Msg("stage pricing served from cache")
		return cached.clone(), nil
	}

	resp := Response{
		Stages:   make([]StageResult, 0, len(req.Stages)),
		Currency: currency,
		Tier:     tier,
		Total:    decimal.Zero,
		TotalARS: decimal.Zero,
	}
	failed := 0
	for _, sel := range req.Stages {
		stage, err := e.calculateStage(sel.Slug, sel.Label, surface, tier, currency, req.FXRate, req.CAC)
		if err != nil {
			failed++
			stage.err = err
			stage.Error = err.Error()
			stage.Items = []LineItem{}
			e.logger.Warn().Err(err).Str("stage", stage.Slug).Msg("stage pricing failed")
			resp.Stages = append(resp.Stages, stage)
			continue
		}
		resp.Total = resp.Total.Add(stage.Total)
		for _, item := range stage.Items {
			resp.TotalARS = resp.TotalARS.Add(item.Quantity.Mul(item.UnitPriceARS).Round(pricePlaces))
		}
		resp.Stages = append(resp.Stages, stage)
	}

	if failed == 0 {
		e.cache.Set(key, resp)
	}
	return resp.clone(), nil
}

// Errors returns the per-stage errors joined, or nil.
func (r Response) Errors() error {
	var errs []error
	for _, s := range r.Stages {
		if s.err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Slug, s.err))
		}
	}
	return errors.Join(errs...)
}

func (r Response) clone() Response {
	out := r
	out.Stages = make([]StageResult, len(r.Stages))
	for i, s := range r.Stages {
		s.Items = append([]LineItem{}, s.Items...)
		s.Notes = append([]string(nil), s.Notes...)
		out.Stages[i] = s
	}
	return out
}

func (e *Engine) resolveTier(name string) Tier {
	if strings.TrimSpace(name) == "" {
		name = e.defaultTier
	}
	return ResolveTier(name)
}

func memoKey(req Request, surface decimal.Decimal, tier Tier, currency string) string {
	slugs := make([]string, 0, len(req.Stages))
	for _, s := range req.Stages {
		slugs = append(slugs, NormalizeSlug(s.Slug)+"="+s.Label)
	}
	fx := "-"
	if req.FXRate != nil {
		fx = req.FXRate.String()
	}
	return strings.Join([]string{
		strings.Join(slugs, ","),
		surface.String(),
		tier.Key,
		req.CAC.PeriodKey(),
		req.CAC.Multiplier.String(),
		currency,
		fx,
	}, "|")
}

func validateSurface(surfaceM2 float64) (decimal.Decimal, error) {
	if math.IsNaN(surfaceM2) || math.IsInf(surfaceM2, 0) {
		return decimal.Decimal{}, fmt.Errorf("%w: surface_m2 must be a finite number", apperrors.ErrValidation)
	}
	if surfaceM2 <= 0 {
		return decimal.Decimal{}, fmt.Errorf("%w: surface_m2 must be greater than zero", apperrors.ErrValidation)
	}
	if surfaceM2 > MaxSurfaceM2 {
		return decimal.Decimal{}, fmt.Errorf("%w: surface_m2 cannot exceed %d", apperrors.ErrValidation, MaxSurfaceM2)
	}
	return decimal.NewFromFloat(surfaceM2), nil
}

func normalizeCurrency(currency string) (string, error) {
	c := strings.ToUpper(strings.TrimSpace(currency))
	switch c {
	case "":
		return CurrencyARS, nil
	case CurrencyARS, CurrencyUSD:
		return c, nil
	default:
		return "", fmt.Errorf("%w: unsupported currency %q", apperrors.ErrValidation, currency)
	}
}

func confidence(items int) float64 {
	score := math.Min(baseConfidence+confidencePerItem*float64(items), maxConfidence)
	return math.Round(score*100) / 100
}
