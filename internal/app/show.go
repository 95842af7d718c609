package app

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"
)

// Show prints recent exchange-rate snapshots and CAC index rows.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	b, err := a.requirePersistent(ctx, "show reference data")
	if err != nil {
		return err
	}
	defer b.close()

	snapshots, err := b.snapshots.ListRecentSnapshots(ctx, opts.Limit)
	if err != nil {
		return err
	}
	indices, err := b.indices.ListRecentCACIndices(ctx, opts.Limit)
	if err != nil {
		return err
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	if len(snapshots) == 0 {
		fmt.Fprintln(writer, "no exchange rate snapshots found")
	} else {
		fmt.Fprintln(writer, "Fetched (UTC)\tProvider\tPair\tRate\tAs of\tNotes")
		for _, s := range snapshots {
			notes := ""
			if s.Notes != nil {
				notes = sanitizeInline(*s.Notes)
			}
			fmt.Fprintf(writer, "%s\t%s\t%s/%s\t%s\t%s\t%s\n",
				s.FetchedAt.UTC().Format(time.RFC3339),
				s.Provider,
				s.BaseCurrency,
				s.QuoteCurrency,
				formatDecimal(s.Rate, 4),
				s.AsOfDate.Format(time.DateOnly),
				notes,
			)
		}
	}

	fmt.Fprintln(writer)
	if len(indices) == 0 {
		fmt.Fprintln(writer, "no cac index rows found")
	} else {
		fmt.Fprintln(writer, "Period\tValue\tProvider\tFetched (UTC)\tSource")
		for _, idx := range indices {
			source := ""
			if idx.SourceURL != nil {
				source = *idx.SourceURL
			}
			fmt.Fprintf(writer, "%04d-%02d\t%s\t%s\t%s\t%s\n",
				idx.Year,
				idx.Month,
				formatDecimal(idx.Value, 2),
				idx.Provider,
				idx.FetchedAt.UTC().Format(time.RFC3339),
				source,
			)
		}
	}

	return writer.Flush()
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
