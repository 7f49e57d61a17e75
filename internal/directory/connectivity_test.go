package directory

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type flakyProber struct {
	healthy atomic.Bool
}

func (p *flakyProber) HealthCheck(context.Context) error {
	if p.healthy.Load() {
		return nil
	}
	return errors.New("unreachable")
}

func TestProbeMonitor_StartsOffline(t *testing.T) {
	m := NewProbeMonitor(&flakyProber{}, 0)

	if m.IsOnline() {
		t.Error("IsOnline() before first probe = true, want false")
	}
}

func TestProbeMonitor_ProbeUpdatesState(t *testing.T) {
	prober := &flakyProber{}
	m := NewProbeMonitor(prober, 0)

	var changes atomic.Int32
	m.OnChange(func(bool) { changes.Add(1) })

	ctx := context.Background()
	if m.Probe(ctx) {
		t.Error("Probe() = true for failing prober")
	}

	prober.healthy.Store(true)
	if !m.Probe(ctx) || !m.IsOnline() {
		t.Error("expected online after healthy probe")
	}
	m.Probe(ctx) // no flip

	if got := changes.Load(); got != 1 {
		t.Errorf("OnChange fired %d times, want 1", got)
	}
}

func TestProbeMonitor_Loop(t *testing.T) {
	prober := &flakyProber{}
	m := NewProbeMonitor(prober, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Close()

	prober.healthy.Store(true)
	deadline := time.Now().Add(time.Second)
	for !m.IsOnline() {
		if time.Now().After(deadline) {
			t.Fatal("monitor never observed recovery")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestProbeMonitor_SetOnline(t *testing.T) {
	m := NewProbeMonitor(&flakyProber{}, 0)
	m.SetOnline(true)

	if !m.IsOnline() {
		t.Error("SetOnline(true) not reflected")
	}
	m.Close() // safe without Start
}

// blockingProber holds every health check until released.
type blockingProber struct {
	entered chan struct{}
	release chan struct{}
}

func (p *blockingProber) HealthCheck(ctx context.Context) error {
	select {
	case p.entered <- struct{}{}:
	default:
	}
	select {
	case <-p.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestProbeMonitor_StartDoesNotBlock(t *testing.T) {
	prober := &blockingProber{entered: make(chan struct{}, 1), release: make(chan struct{})}
	m := NewProbeMonitor(prober, time.Hour)

	returned := make(chan struct{})
	go func() {
		m.Start(context.Background())
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("Start() blocked on the first probe")
	}

	<-prober.entered
	close(prober.release)

	closed := make(chan struct{})
	go func() {
		m.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close() did not wait out the loop")
	}
	if !m.IsOnline() {
		t.Error("IsOnline() = false after the first probe succeeded")
	}
}

func TestProbeMonitor_CloseRightAfterStart(t *testing.T) {
	for i := 0; i < 50; i++ {
		m := NewProbeMonitor(&flakyProber{}, time.Millisecond)
		m.Start(context.Background())
		m.Close()
	}
}

func TestProbeMonitor_StartAfterClose(t *testing.T) {
	prober := &flakyProber{}
	prober.healthy.Store(true)
	m := NewProbeMonitor(prober, time.Millisecond)
	m.Close()
	m.Start(context.Background())
	m.Close()

	if m.IsOnline() {
		t.Error("IsOnline() = true, want no probe after Close")
	}
}
