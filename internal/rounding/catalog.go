package rounding

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Catalog resolves the presentations a material is sold in. An empty slice means unknown.
type Catalog interface {
	PackSizes(code, unit string) []PackSize
}

// CatalogFunc adapts a function to Catalog.
type CatalogFunc func(code, unit string) []PackSize

// PackSizes implements Catalog.
func (f CatalogFunc) PackSizes(code, unit string) []PackSize {
	return f(code, unit)
}

// MaterialCatalog holds per-material presentations, keyed by material code.
type MaterialCatalog map[string][]PackSize

// PackSizes implements Catalog.
func (m MaterialCatalog) PackSizes(code, _ string) []PackSize {
	return m[strings.ToUpper(strings.TrimSpace(code))]
}

var unitAliases = map[string]string{
	"l":        "lts",
	"lt":       "lts",
	"lts":      "lts",
	"litro":    "lts",
	"litros":   "lts",
	"kg":       "kg",
	"kgs":      "kg",
	"kilo":     "kg",
	"kilos":    "kg",
	"m3":       "m3",
	"m³":       "m3",
	"ml":       "ml",
	"metro":    "ml",
	"metros":   "ml",
	"m2":       "m2",
	"m²":       "m2",
	"bolsa":    "bolsa",
	"bolsas":   "bolsa",
	"u":        "u",
	"un":       "u",
	"unidad":   "u",
	"unidades": "u",
	"rollo":    "rollo",
	"rollos":   "rollo",
}

// NormalizeUnit maps unit spellings onto the catalog's canonical units.
func NormalizeUnit(unit string) string {
	u := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(unit)), ".")
	if canonical, ok := unitAliases[u]; ok {
		return canonical
	}
	return u
}

func sizes(values ...string) []PackSize {
	out := make([]PackSize, 0, len(values))
	for _, v := range values {
		out = append(out, PackSize{Size: decimal.RequireFromString(v)})
	}
	return out
}

var defaultPacks = map[string][]PackSize{
	"lts":   sizes("20", "10", "5", "1"),
	"kg":    sizes("50", "25", "10", "1"),
	"m3":    sizes("1", "0.5"),
	"ml":    sizes("12", "6", "1"),
	"bolsa": sizes("1"),
	"u":     sizes("1"),
	"m2":    sizes("1"),
	"rollo": sizes("1"),
}

// DefaultCatalog is the per-unit fallback used when a tenant has no presentations configured.
type DefaultCatalog struct{}

// PackSizes implements Catalog.
func (DefaultCatalog) PackSizes(_, unit string) []PackSize {
	packs := defaultPacks[NormalizeUnit(unit)]
	out := make([]PackSize, len(packs))
	copy(out, packs)
	return out
}

// Layered returns the first non-empty answer from catalogs, in order.
func Layered(catalogs ...Catalog) Catalog {
	return CatalogFunc(func(code, unit string) []PackSize {
		for _, c := range catalogs {
			if c == nil {
				continue
			}
			if packs := c.PackSizes(code, unit); len(packs) > 0 {
				return packs
			}
		}
		return nil
	})
}
