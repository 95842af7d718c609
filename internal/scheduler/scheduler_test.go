package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestNewRejectsNonPositiveInterval(t *testing.T) {
	if _, err := New(Options{}, zerolog.Nop()); !errors.Is(err, ErrInvalidInterval) {
		t.Fatalf("expected ErrInvalidInterval, got %v", err)
	}
}

func TestNextSlotAligned(t *testing.T) {
	s, err := New(Options{Interval: time.Hour, AlignToSlot: true}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	now := time.Date(2025, 3, 4, 10, 20, 0, 0, time.UTC)
	if got, want := s.NextSlot(now), time.Date(2025, 3, 4, 11, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("next slot = %s, want %s", got, want)
	}

	onBoundary := time.Date(2025, 3, 4, 11, 0, 0, 0, time.UTC)
	if got, want := s.NextSlot(onBoundary), time.Date(2025, 3, 4, 12, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("next slot on boundary = %s, want %s", got, want)
	}
	if got := s.SlotStart(now); !got.Equal(time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("slot start = %s", got)
	}
}

func TestNextSlotUnaligned(t *testing.T) {
	s, err := New(Options{Interval: 15 * time.Minute}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	now := time.Date(2025, 3, 4, 10, 20, 7, 0, time.UTC)
	if got := s.NextSlot(now); !got.Equal(now.Add(15 * time.Minute)) {
		t.Fatalf("unexpected next slot %s", got)
	}
	if got := s.SlotStart(now); !got.Equal(now) {
		t.Fatalf("unaligned slot start should be identity, got %s", got)
	}
}

func TestRunInvokesJobUntilCancelled(t *testing.T) {
	s, err := New(Options{Interval: 10 * time.Millisecond, RunOnStart: true}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	var calls atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(ctx context.Context, slot time.Time) error {
			if calls.Add(1) >= 3 {
				cancel()
			}
			return errors.New("job errors are logged, not fatal")
		})
	}()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	if calls.Load() < 3 {
		t.Fatalf("expected at least 3 calls, got %d", calls.Load())
	}
}
