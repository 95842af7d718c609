package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"obyra-pricing/internal/storage"
)

const cacHistoryLimit = 600

// historyPoint is one exported observation of either series.
type historyPoint struct {
	Series   string
	At       time.Time
	Value    decimal.Decimal
	Provider string
	Notes    string
}

// Export renders exchange-rate and CAC history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	b, err := a.requirePersistent(ctx, "export")
	if err != nil {
		return err
	}
	defer b.close()

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-time.Duration(opts.MaxPoints) * a.Config.Scheduler.Interval)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	snapshots, err := b.snapshots.ListSnapshotsBetween(ctx, from, to)
	if err != nil {
		return err
	}
	indices, err := b.indices.ListRecentCACIndices(ctx, cacHistoryLimit)
	if err != nil {
		return err
	}

	rates := downsample(ratePoints(snapshots), opts.MaxPoints)
	cacs := cacPoints(indices, from, to)
	if len(rates) == 0 && len(cacs) == 0 {
		a.Logger.Info().Msg("no reference data found for export window")
		return nil
	}
	a.Logger.Info().Int("snapshots", len(snapshots)).
		Int("exported_rates", len(rates)).
		Int("exported_cac", len(cacs)).
		Msg("exporting reference data")

	if opts.CSVPath != "" {
		if err := writeHistoryCSV(opts.CSVPath, append(append([]historyPoint{}, rates...), cacs...)); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeHistoryPNG(opts.PNGPath, rates, cacs); err != nil {
			return err
		}
	}

	return nil
}

func ratePoints(snapshots []storage.ExchangeRateSnapshot) []historyPoint {
	out := make([]historyPoint, 0, len(snapshots))
	for _, s := range snapshots {
		notes := ""
		if s.Notes != nil {
			notes = *s.Notes
		}
		out = append(out, historyPoint{Series: "fx", At: s.FetchedAt.UTC(), Value: s.Rate, Provider: s.Provider, Notes: notes})
	}
	return out
}

// cacPoints keeps the winning row per month inside [from, to), oldest first.
func cacPoints(indices []storage.CACIndex, from, to time.Time) []historyPoint {
	winners := map[time.Time]storage.CACIndex{}
	for _, idx := range indices {
		period := idx.Period()
		if period.Before(from.AddDate(0, -1, 0)) || !period.Before(to) {
			continue
		}
		current, ok := winners[period]
		if !ok || (idx.IsManual() && !current.IsManual()) ||
			(idx.IsManual() == current.IsManual() && idx.FetchedAt.After(current.FetchedAt)) {
			winners[period] = idx
		}
	}

	out := make([]historyPoint, 0, len(winners))
	for period, idx := range winners {
		out = append(out, historyPoint{Series: "cac", At: period, Value: idx.Value, Provider: idx.Provider})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out
}

func downsample(points []historyPoint, max int) []historyPoint {
	if max <= 0 || len(points) <= max {
		return points
	}
	if max == 1 {
		return points[len(points)-1:]
	}

	result := make([]historyPoint, 0, max)
	step := float64(len(points)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(points) {
			idx = len(points) - 1
		}
		result = append(result, points[idx])
	}
	return result
}

func writeHistoryCSV(path string, points []historyPoint) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write([]string{"series", "timestamp", "value", "provider", "notes"}); err != nil {
		return err
	}
	for _, p := range points {
		record := []string{p.Series, p.At.Format(time.RFC3339), p.Value.String(), p.Provider, p.Notes}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeHistoryPNG(path string, rates, cacs []historyPoint) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	var series []chart.Series
	if len(rates) > 0 {
		x, y := toSeries(rates)
		series = append(series, chart.TimeSeries{Name: "ARS per USD", XValues: x, YValues: y})
	}
	if len(cacs) > 0 {
		x, y := toSeries(cacs)
		series = append(series, chart.TimeSeries{Name: "CAC index", XValues: x, YValues: y, YAxis: chart.YAxisSecondary})
	}

	twoPlaces := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Rate (ARS/USD)",
			ValueFormatter: twoPlaces,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "CAC (general level)",
			ValueFormatter: twoPlaces,
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

// toSeries pads single observations so go-chart has a range to draw.
func toSeries(points []historyPoint) ([]time.Time, []float64) {
	x := make([]time.Time, 0, len(points)+1)
	y := make([]float64, 0, len(points)+1)
	for _, p := range points {
		x = append(x, p.At)
		y = append(y, p.Value.InexactFloat64())
	}
	if len(points) == 1 {
		x = append(x, points[0].At.Add(time.Hour))
		y = append(y, y[0])
	}
	return x, y
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
