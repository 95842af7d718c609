package pricing

import (
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Tier is a resolved construction-quality tier.
type Tier struct {
	Key        string          `json:"key"`
	Display    string          `json:"display"`
	Multiplier decimal.Decimal `json:"multiplier"`
	Known      bool            `json:"known"`
}

type tierDef struct {
	key        string
	display    string
	multiplier decimal.Decimal
}

var (
	tierEconomic = tierDef{key: "economic", display: "Economic", multiplier: decimal.RequireFromString("0.85")}
	tierStandard = tierDef{key: "standard", display: "Standard", multiplier: decimal.NewFromInt(1)}
	tierPremium  = tierDef{key: "premium", display: "Premium", multiplier: decimal.RequireFromString("1.18")}

	tierAliases = map[string]tierDef{
		"economic":  tierEconomic,
		"economico": tierEconomic,
		"economica": tierEconomic,
		"standard":  tierStandard,
		"estandar":  tierStandard,
		"premium":   tierPremium,
	}
)

// ResolveTier maps a tier name to its multiplier. Unknown names price at 1.0 and are
// title-cased for display.
func ResolveTier(name string) Tier {
	trimmed := strings.TrimSpace(name)
	if def, ok := tierAliases[stripAccents(strings.ToLower(trimmed))]; ok {
		return Tier{Key: def.key, Display: def.display, Multiplier: def.multiplier, Known: true}
	}
	return Tier{
		Key:        strings.ToLower(trimmed),
		Display:    cases.Title(language.Spanish).String(trimmed),
		Multiplier: decimal.NewFromInt(1),
	}
}
