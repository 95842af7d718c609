package cli

import (
	"testing"
	"time"
)

func TestParseStages(t *testing.T) {
	stages, err := parseStages([]string{"fundaciones", " pintura = Pintura interior "})
	if err != nil {
		t.Fatalf("parseStages returned error: %v", err)
	}
	if len(stages) != 2 {
		t.Fatalf("expected 2 stages, got %d", len(stages))
	}
	if stages[0].Slug != "fundaciones" || stages[0].Label != "" {
		t.Fatalf("unexpected first stage: %+v", stages[0])
	}
	if stages[1].Slug != "pintura" || stages[1].Label != "Pintura interior" {
		t.Fatalf("unexpected second stage: %+v", stages[1])
	}

	if _, err := parseStages(nil); err == nil {
		t.Fatal("expected error for empty stage list")
	}
	if _, err := parseStages([]string{"=Muros"}); err == nil {
		t.Fatal("expected error for empty slug")
	}
}

func TestParseTimeFlag(t *testing.T) {
	got, err := parseTimeFlag("from", "2025-03-01")
	if err != nil {
		t.Fatalf("parseTimeFlag returned error: %v", err)
	}
	if want := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("expected %s, got %s", want, got)
	}

	got, err = parseTimeFlag("to", "2025-03-01T12:00:00-03:00")
	if err != nil {
		t.Fatalf("parseTimeFlag returned error: %v", err)
	}
	if got.Hour() != 15 || got.Location() != time.UTC {
		t.Fatalf("expected UTC 15:00, got %s", got)
	}

	if got, err := parseTimeFlag("from", ""); err != nil || got != nil {
		t.Fatalf("expected nil for empty value, got %v, %v", got, err)
	}
	if _, err := parseTimeFlag("from", "yesterday"); err == nil {
		t.Fatal("expected error for invalid value")
	}
}
