// Package rounding converts net material quantities into purchasable pack combinations.
package rounding

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"obyra-pricing/internal/apperrors"
)

// maxSweep bounds the count of the first size in a two-size sweep.
const maxSweep = 10000

// MaxPacks caps how many packs of the smallest size a requirement may need.
const MaxPacks = 1_000_000_000

// PackSize is one purchasable presentation of a material. Price is optional.
type PackSize struct {
	Size  decimal.Decimal  `json:"size"`
	Price *decimal.Decimal `json:"price,omitempty"`
	Name  string           `json:"name,omitempty"`
}

// PackCount is how many packs of one size were selected.
type PackCount struct {
	Size  decimal.Decimal `json:"size"`
	Count int64           `json:"count"`
	Name  string          `json:"name,omitempty"`
}

// Result is the selected combination for one requirement.
type Result struct {
	NetQty    decimal.Decimal  `json:"net_qty"`
	Packs     []PackCount      `json:"packs"`
	TotalQty  decimal.Decimal  `json:"total_qty"`
	Surplus   decimal.Decimal  `json:"surplus"`
	TotalCost *decimal.Decimal `json:"total_cost,omitempty"`
	Breakdown string           `json:"breakdown"`
}

// Count returns the number of packs selected for size.
func (r Result) Count(size decimal.Decimal) int64 {
	for _, p := range r.Packs {
		if p.Size.Equal(size) {
			return p.Count
		}
	}
	return 0
}

// PackTotal is the number of packs bought.
func (r Result) PackTotal() int64 {
	var total int64
	for _, p := range r.Packs {
		total += p.Count
	}
	return total
}

// Sizes builds price-less pack sizes.
func Sizes(values ...decimal.Decimal) []PackSize {
	out := make([]PackSize, 0, len(values))
	for _, v := range values {
		out = append(out, PackSize{Size: v})
	}
	return out
}

type candidate struct {
	counts  []int64
	total   decimal.Decimal
	surplus decimal.Decimal
	packs   int64
	cost    *decimal.Decimal
}

// RoundToPurchase picks packs covering required with minimum surplus, then fewest packs,
// then lowest cost when every selected size is priced. Ties keep the first candidate generated.
// With no sizes a single unit-size pack is assumed.
func RoundToPurchase(required decimal.Decimal, sizes []PackSize) (Result, error) {
	if required.IsNegative() {
		return Result{}, fmt.Errorf("%w: required quantity cannot be negative, got %s", apperrors.ErrValidation, required)
	}

	packs, err := normalizeSizes(sizes)
	if err != nil {
		return Result{}, err
	}

	smallest := packs[len(packs)-1].Size
	if required.Div(smallest).GreaterThan(decimal.NewFromInt(MaxPacks)) {
		return Result{}, fmt.Errorf("%w: required quantity %s needs more than %d packs of %s", apperrors.ErrValidation, required, MaxPacks, smallest)
	}

	if required.IsZero() {
		return Result{
			NetQty:    decimal.Zero,
			Packs:     []PackCount{},
			TotalQty:  decimal.Zero,
			Surplus:   decimal.Zero,
			Breakdown: "nothing to buy",
		}, nil
	}

	var best *candidate
	consider := func(counts []int64) {
		c := evaluate(required, packs, counts)
		if c.surplus.IsNegative() {
			return
		}
		if best == nil || better(c, *best) {
			best = &c
		}
	}

	greedyCounts := greedy(required, packs, 0)
	consider(greedyCounts)
	for _, v := range greedyVariants(required, packs, greedyCounts) {
		consider(v)
	}
	for i := range packs {
		counts := make([]int64, len(packs))
		counts[i] = ceilDiv(required, packs[i].Size)
		consider(counts)
	}
	for i := range packs {
		for j := range packs {
			if i == j {
				continue
			}
			sweepPair(required, packs, i, j, consider)
		}
	}

	return buildResult(required, packs, *best), nil
}

func normalizeSizes(sizes []PackSize) ([]PackSize, error) {
	if len(sizes) == 0 {
		return []PackSize{{Size: decimal.NewFromInt(1)}}, nil
	}

	out := make([]PackSize, 0, len(sizes))
	for _, s := range sizes {
		if !s.Size.IsPositive() {
			return nil, fmt.Errorf("%w: pack size must be positive, got %s", apperrors.ErrValidation, s.Size)
		}
		duplicate := false
		for i := range out {
			if out[i].Size.Equal(s.Size) {
				duplicate = true
				if out[i].Price == nil && s.Price != nil {
					out[i].Price = s.Price
				}
				break
			}
		}
		if !duplicate {
			out = append(out, s)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Size.GreaterThan(out[j].Size)
	})
	return out, nil
}

// greedy fills largest-first from index start, flooring every size except the last, which is ceiled.
func greedy(required decimal.Decimal, packs []PackSize, start int) []int64 {
	counts := make([]int64, len(packs))
	remaining := required
	for i := start; i < len(packs); i++ {
		if !remaining.IsPositive() {
			break
		}
		size := packs[i].Size
		var n int64
		if i == len(packs)-1 {
			n = ceilDiv(remaining, size)
		} else {
			n = remaining.Div(size).Floor().IntPart()
		}
		counts[i] = n
		remaining = remaining.Sub(size.Mul(decimal.NewFromInt(n)))
	}
	return counts
}

// greedyVariants drops one pack of each used size and backfills the deficit with smaller sizes.
func greedyVariants(required decimal.Decimal, packs []PackSize, base []int64) [][]int64 {
	var out [][]int64
	for i, n := range base {
		if n == 0 || i == len(packs)-1 {
			continue
		}
		counts := make([]int64, len(packs))
		copy(counts[:i+1], base[:i+1])
		counts[i]--

		covered := decimal.Zero
		for k := 0; k <= i; k++ {
			covered = covered.Add(packs[k].Size.Mul(decimal.NewFromInt(counts[k])))
		}
		fill := greedy(required.Sub(covered), packs, i+1)
		for k := i + 1; k < len(packs); k++ {
			counts[k] = fill[k]
		}
		out = append(out, counts)
	}
	return out
}

func sweepPair(required decimal.Decimal, packs []PackSize, first, second int, consider func([]int64)) {
	sizeA, sizeB := packs[first].Size, packs[second].Size
	upper := ceilDiv(required, sizeA)
	lower := int64(0)
	if upper > maxSweep {
		lower = upper - maxSweep
	}

	for n := lower; n <= upper; n++ {
		counts := make([]int64, len(packs))
		counts[first] = n
		remaining := required.Sub(sizeA.Mul(decimal.NewFromInt(n)))
		if remaining.IsPositive() {
			counts[second] = ceilDiv(remaining, sizeB)
		}
		consider(counts)
	}
}

func evaluate(required decimal.Decimal, packs []PackSize, counts []int64) candidate {
	total := decimal.Zero
	cost := decimal.Zero
	priced := true
	var n int64
	for i, c := range counts {
		if c == 0 {
			continue
		}
		qty := decimal.NewFromInt(c)
		total = total.Add(packs[i].Size.Mul(qty))
		n += c
		if packs[i].Price == nil {
			priced = false
		} else {
			cost = cost.Add(packs[i].Price.Mul(qty))
		}
	}

	out := candidate{counts: counts, total: total, surplus: total.Sub(required), packs: n}
	if priced && n > 0 {
		out.cost = &cost
	}
	return out
}

func better(a, b candidate) bool {
	if cmp := a.surplus.Cmp(b.surplus); cmp != 0 {
		return cmp < 0
	}
	if a.packs != b.packs {
		return a.packs < b.packs
	}
	if a.cost != nil && b.cost != nil {
		return a.cost.LessThan(*b.cost)
	}
	return false
}

func buildResult(required decimal.Decimal, packs []PackSize, best candidate) Result {
	result := Result{
		NetQty:    required,
		Packs:     []PackCount{},
		TotalQty:  best.total,
		Surplus:   best.surplus,
		TotalCost: best.cost,
	}

	parts := make([]string, 0, len(packs))
	for i, c := range best.counts {
		if c == 0 {
			continue
		}
		p := packs[i]
		result.Packs = append(result.Packs, PackCount{Size: p.Size, Count: c, Name: p.Name})
		label := p.Size.String()
		if p.Name != "" {
			label = fmt.Sprintf("%s (%s)", p.Name, p.Size)
		}
		parts = append(parts, fmt.Sprintf("%d x %s", c, label))
	}
	result.Breakdown = fmt.Sprintf("%s = %s (surplus %s)", strings.Join(parts, " + "), best.total, best.surplus)
	return result
}

func ceilDiv(qty, size decimal.Decimal) int64 {
	n := qty.Div(size).Ceil().IntPart()
	for size.Mul(decimal.NewFromInt(n)).LessThan(qty) {
		n++
	}
	return n
}
