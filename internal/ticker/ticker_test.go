package ticker

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type countingTarget struct {
	ticks atomic.Int32
	err   error
}

func (c *countingTarget) Tick(context.Context) error {
	c.ticks.Add(1)
	return c.err
}

func TestNewTicker(t *testing.T) {
	logger := zerolog.New(&bytes.Buffer{})
	target := &countingTarget{}
	ticker := NewTicker(target, 1*time.Second, logger)

	if ticker == nil {
		t.Fatal("expected ticker to be created")
	}

	if ticker.target != target {
		t.Error("ticker target not set correctly")
	}

	if ticker.interval != 1*time.Second {
		t.Errorf("expected interval 1s, got %v", ticker.interval)
	}
}

func TestTickerDrivesTarget(t *testing.T) {
	logger := zerolog.New(&bytes.Buffer{})
	target := &countingTarget{}

	// Create ticker with short interval
	ticker := NewTicker(target, 20*time.Millisecond, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	done := make(chan bool)
	go func() {
		ticker.Start(ctx)
		done <- true
	}()

	// Wait for ticker to complete
	<-done

	if n := target.ticks.Load(); n < 2 {
		t.Errorf("expected at least 2 ticks, got %d", n)
	}
}

func TestTickerSurvivesTickErrors(t *testing.T) {
	logger := zerolog.New(&bytes.Buffer{})
	target := &countingTarget{err: errors.New("engine stopped")}
	ticker := NewTicker(target, 20*time.Millisecond, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	ticker.Start(ctx)

	if n := target.ticks.Load(); n < 2 {
		t.Errorf("expected ticking to continue after errors, got %d ticks", n)
	}
}

func TestTickerStopsOnContextCancel(t *testing.T) {
	logger := zerolog.New(&bytes.Buffer{})
	ticker := NewTicker(&countingTarget{}, 100*time.Millisecond, logger)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan bool)
	go func() {
		ticker.Start(ctx)
		done <- true
	}()

	// Let it run for a bit
	time.Sleep(200 * time.Millisecond)

	// Cancel context
	cancel()

	// Wait for ticker to stop
	select {
	case <-done:
		// Success - ticker stopped
	case <-time.After(1 * time.Second):
		t.Error("ticker did not stop within timeout after context cancel")
	}
}
