package rpc

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRateGateAllowsBurst(t *testing.T) {
	gate := NewRateGate(60, 5)
	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 5; i++ {
		if err := gate.Wait(ctx); err != nil {
			t.Fatalf("wait %d: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("burst of 5 took %v, should be immediate", elapsed)
	}
}

func TestRateGateHonorsDeadline(t *testing.T) {
	gate := NewRateGate(60, 1) // refills one token per second
	if err := gate.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := gate.Wait(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want DeadlineExceeded when saturated past deadline", err)
	}
}

func TestRateGateRefills(t *testing.T) {
	gate := NewRateGate(600, 1) // ten tokens per second
	if err := gate.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := gate.Wait(ctx); err != nil {
		t.Errorf("expected refill within a second, got %v", err)
	}
}
