package pricing

import (
	"sort"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// MaterialRule is a per-m² material coefficient.
type MaterialRule struct {
	Code             string
	Description      string
	Unit             string
	CoefficientPerM2 decimal.Decimal
}

// LaborRule is a per-m² labor coefficient, expressed in shifts (jornales).
type LaborRule struct {
	Code             string
	Description      string
	Unit             string
	CoefficientPerM2 decimal.Decimal
}

// EquipmentRule rents equipment by the day with a floor.
type EquipmentRule struct {
	Code        string
	Description string
	Unit        string
	DaysPerM2   decimal.Decimal
	MinimumDays decimal.Decimal
}

// StageTemplate is the bill of materials for one construction stage.
type StageTemplate struct {
	Slug      string
	Label     string
	Materials []MaterialRule
	Labor     []LaborRule
	Equipment []EquipmentRule
}

// ItemCount is the number of line items the template produces.
func (t StageTemplate) ItemCount() int {
	return len(t.Materials) + len(t.Labor) + len(t.Equipment)
}

func coef(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}

func material(code, description, unit, perM2 string) MaterialRule {
	return MaterialRule{Code: code, Description: description, Unit: unit, CoefficientPerM2: coef(perM2)}
}

func labor(code, description, perM2 string) LaborRule {
	return LaborRule{Code: code, Description: description, Unit: "jornal", CoefficientPerM2: coef(perM2)}
}

func equipment(code, description, perM2, minimum string) EquipmentRule {
	return EquipmentRule{Code: code, Description: description, Unit: "dia", DaysPerM2: coef(perM2), MinimumDays: coef(minimum)}
}

const (
	codeCement    = "CEM-BOLSA"
	codeSand      = "ARENA-GRUESA"
	codeStone     = "PIEDRA-PARTIDA"
	codeLime      = "CAL-BOLSA"
	codeOfficial  = "MO-OFICIAL"
	codeHelper    = "MO-AYUDANTE"
	codeScaffold  = "EQ-ANDAMIO"
	codeConcreter = "EQ-HORMIGONERA"
)

var defaultTemplates = []StageTemplate{
	{
		Slug:  "preliminares",
		Label: "Trabajos preliminares",
		Materials: []MaterialRule{
			material("TABLA-PINO", "Tabla de pino para obrador", "m2", "0.15"),
			material("CLAVOS", "Clavos punta paris", "kg", "0.02"),
		},
		Labor: []LaborRule{labor(codeHelper, "Ayudante", "0.02")},
	},
	{
		Slug:  "excavacion",
		Label: "Excavacion y movimiento de suelos",
		Labor: []LaborRule{labor(codeHelper, "Ayudante", "0.05")},
		Equipment: []EquipmentRule{
			equipment("EQ-RETRO", "Retroexcavadora con operador", "0.01", "1"),
		},
	},
	{
		Slug:  "fundaciones",
		Label: "Fundaciones",
		Materials: []MaterialRule{
			material(codeCement, "Cemento portland 50 kg", "bolsa", "0.32"),
			material(codeSand, "Arena gruesa", "m3", "0.045"),
			material(codeStone, "Piedra partida 6-20", "m3", "0.06"),
			material("HIERRO-8", "Acero ADN 420 8 mm", "kg", "3.5"),
			material("ALAMBRE", "Alambre de atar", "kg", "0.05"),
		},
		Labor: []LaborRule{
			labor(codeOfficial, "Oficial albanil", "0.08"),
			labor(codeHelper, "Ayudante", "0.1"),
		},
		Equipment: []EquipmentRule{
			equipment(codeConcreter, "Hormigonera 150 l", "0.015", "2"),
		},
	},
	{
		Slug:  "estructura",
		Label: "Estructura de hormigon armado",
		Materials: []MaterialRule{
			material(codeCement, "Cemento portland 50 kg", "bolsa", "0.45"),
			material(codeSand, "Arena gruesa", "m3", "0.05"),
			material(codeStone, "Piedra partida 6-20", "m3", "0.08"),
			material("HIERRO-10", "Acero ADN 420 10 mm", "kg", "6.5"),
			material("FENOLICO", "Placa fenolica para encofrado", "m2", "0.35"),
		},
		Labor: []LaborRule{
			labor(codeOfficial, "Oficial albanil", "0.12"),
			labor(codeHelper, "Ayudante", "0.12"),
		},
		Equipment: []EquipmentRule{
			equipment(codeConcreter, "Hormigonera 150 l", "0.02", "3"),
			equipment("EQ-VIBRADOR", "Vibrador de inmersion", "0.01", "2"),
		},
	},
	{
		Slug:  "mamposteria",
		Label: "Mamposteria",
		Materials: []MaterialRule{
			material("LADRILLO-HUECO", "Ladrillo ceramico hueco 12x18x33", "u", "36"),
			material(codeCement, "Cemento portland 50 kg", "bolsa", "0.08"),
			material(codeLime, "Cal hidratada 25 kg", "bolsa", "0.15"),
			material(codeSand, "Arena gruesa", "m3", "0.03"),
		},
		Labor: []LaborRule{
			labor(codeOfficial, "Oficial albanil", "0.1"),
			labor(codeHelper, "Ayudante", "0.08"),
		},
		Equipment: []EquipmentRule{
			equipment(codeScaffold, "Andamio tubular", "0.02", "5"),
		},
	},
	{
		Slug:  "cubierta",
		Label: "Cubierta",
		Materials: []MaterialRule{
			material("CHAPA-C25", "Chapa sinusoidal cincalum C25", "m2", "1.1"),
			material("AISLANTE", "Membrana aislante con aluminio", "rollo", "0.05"),
			material("TORNILLO-AUTOP", "Tornillo autoperforante", "u", "6"),
		},
		Labor: []LaborRule{labor(codeOfficial, "Oficial techista", "0.07")},
		Equipment: []EquipmentRule{
			equipment(codeScaffold, "Andamio tubular", "0.01", "3"),
		},
	},
	{
		Slug:  "instalacion-electrica",
		Label: "Instalacion electrica",
		Materials: []MaterialRule{
			material("CABLE-2.5", "Cable unipolar 2,5 mm2", "ml", "6"),
			material("CANO-CORRUGADO", "Cano corrugado 3/4", "ml", "3"),
			material("CAJA-LUZ", "Caja de luz embutir", "u", "0.25"),
			material("TABLERO", "Tablero seccional con termicas", "u", "0.01"),
		},
		Labor: []LaborRule{labor("MO-ELECTRICISTA", "Oficial electricista", "0.06")},
	},
	{
		Slug:  "instalacion-sanitaria",
		Label: "Instalacion sanitaria",
		Materials: []MaterialRule{
			material("CANO-PPF", "Cano polipropileno termofusion 20 mm", "ml", "0.9"),
			material("CANO-PVC110", "Cano PVC cloacal 110 mm", "ml", "0.4"),
			material("ACCESORIOS-SAN", "Accesorios sanitarios", "u", "0.3"),
		},
		Labor: []LaborRule{labor("MO-PLOMERO", "Oficial plomero", "0.05")},
	},
	{
		Slug:  "revoques",
		Label: "Revoques",
		Materials: []MaterialRule{
			material(codeCement, "Cemento portland 50 kg", "bolsa", "0.05"),
			material(codeLime, "Cal hidratada 25 kg", "bolsa", "0.12"),
			material(codeSand, "Arena fina", "m3", "0.035"),
			material("HIDROFUGO", "Hidrofugo", "kg", "0.3"),
		},
		Labor: []LaborRule{
			labor(codeOfficial, "Oficial albanil", "0.09"),
			labor(codeHelper, "Ayudante", "0.06"),
		},
		Equipment: []EquipmentRule{
			equipment(codeScaffold, "Andamio tubular", "0.015", "5"),
		},
	},
	{
		Slug:  "pisos",
		Label: "Pisos y revestimientos",
		Materials: []MaterialRule{
			material("CERAMICO", "Ceramico esmaltado 45x45", "m2", "1.08"),
			material("PEGAMENTO", "Adhesivo cementicio", "kg", "5"),
			material("PASTINA", "Pastina", "kg", "0.3"),
		},
		Labor: []LaborRule{labor(codeOfficial, "Oficial colocador", "0.07")},
	},
	{
		Slug:  "pintura",
		Label: "Pintura",
		Materials: []MaterialRule{
			material("LATEX-INTERIOR", "Latex interior", "lts", "0.3"),
			material("FIJADOR", "Fijador sellador", "lts", "0.1"),
			material("ENDUIDO", "Enduido plastico", "kg", "0.2"),
		},
		Labor: []LaborRule{labor("MO-PINTOR", "Oficial pintor", "0.04")},
	},
}

// Reference prices in ARS at the CAC base period, per unit of each rule code.
var referencePrices = map[string]string{
	"TABLA-PINO":      "4500",
	"CLAVOS":          "3000",
	codeCement:        "6500",
	codeSand:          "18000",
	codeStone:         "25000",
	"HIERRO-8":        "1400",
	"HIERRO-10":       "1350",
	"ALAMBRE":         "2200",
	"FENOLICO":        "9000",
	"LADRILLO-HUECO":  "350",
	codeLime:          "4200",
	"CHAPA-C25":       "9500",
	"AISLANTE":        "38000",
	"TORNILLO-AUTOP":  "60",
	"CABLE-2.5":       "450",
	"CANO-CORRUGADO":  "300",
	"CAJA-LUZ":        "700",
	"TABLERO":         "65000",
	"CANO-PPF":        "2800",
	"CANO-PVC110":     "6200",
	"ACCESORIOS-SAN":  "3500",
	"HIDROFUGO":       "2500",
	"CERAMICO":        "11000",
	"PEGAMENTO":       "700",
	"PASTINA":         "1800",
	"LATEX-INTERIOR":  "5200",
	"FIJADOR":         "4300",
	"ENDUIDO":         "2600",
	codeOfficial:      "32000",
	codeHelper:        "26000",
	"MO-ELECTRICISTA": "36000",
	"MO-PLOMERO":      "35000",
	"MO-PINTOR":       "30000",
	"EQ-RETRO":        "180000",
	codeConcreter:     "25000",
	"EQ-VIBRADOR":     "15000",
	codeScaffold:      "4000",
}

var slugAliases = map[string]string{
	"trabajos-preliminares":    "preliminares",
	"movimiento-de-suelos":     "excavacion",
	"excavaciones":             "excavacion",
	"cimientos":                "fundaciones",
	"foundations":              "fundaciones",
	"estructuras":              "estructura",
	"albanileria":              "mamposteria",
	"techos":                   "cubierta",
	"techo":                    "cubierta",
	"instalaciones-electricas": "instalacion-electrica",
	"electricidad":             "instalacion-electrica",
	"instalaciones-sanitarias": "instalacion-sanitaria",
	"sanitarios":               "instalacion-sanitaria",
	"revoque":                  "revoques",
	"revestimientos":           "pisos",
	"pinturas":                 "pintura",
}

// DefaultTemplates returns the built-in stage templates.
func DefaultTemplates() []StageTemplate {
	out := make([]StageTemplate, len(defaultTemplates))
	copy(out, defaultTemplates)
	return out
}

// ReferencePrices returns the built-in ARS reference price table.
func ReferencePrices() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(referencePrices))
	for code, price := range referencePrices {
		out[code] = decimal.RequireFromString(price)
	}
	return out
}

// NormalizeSlug lower-cases the slug, joins words with "-" and resolves known aliases.
func NormalizeSlug(slug string) string {
	normalized := strings.ToLower(strings.TrimSpace(slug))
	normalized = strings.Join(strings.FieldsFunc(normalized, func(r rune) bool {
		return r == ' ' || r == '_' || r == '-'
	}), "-")
	normalized = stripAccents(normalized)
	if canonical, ok := slugAliases[normalized]; ok {
		return canonical
	}
	return normalized
}

// Slugs lists the modeled stage slugs in alphabetical order.
func Slugs(templates []StageTemplate) []string {
	out := make([]string, 0, len(templates))
	for _, t := range templates {
		out = append(out, t.Slug)
	}
	sort.Strings(out)
	return out
}

func stripAccents(value string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, value)
	if err != nil {
		return value
	}
	return out
}
