package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"remindd/internal/config"
	"remindd/internal/reminder"
	"remindd/internal/services/dispatch"
	"remindd/internal/storage"
	logx "remindd/pkg/logx"
)

func writeAppConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "storage:\n  driver: memory\ndispatcher:\n  enabled: false\nlogging:\n  level: error\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestNewStartStop(t *testing.T) {
	t.Parallel()
	a, err := New(writeAppConfig(t))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if a.runCtx.Err() != nil {
		t.Fatal("run context cancelled right after start")
	}
	a.Stop(context.Background(), StopSignal)
	if a.runCtx.Err() == nil {
		t.Fatal("run context still live after stop")
	}
}

// gateStore parks the dispatch cycle inside ListDue so the test can watch
// what shutdown does to the call's context.
type gateStore struct {
	storage.Store
	entered chan context.Context
	release chan struct{}
}

func (g *gateStore) ListDue(ctx context.Context, now time.Time, limit int) ([]reminder.Reminder, error) {
	g.entered <- ctx
	select {
	case <-g.release:
	case <-ctx.Done():
	}
	return nil, ctx.Err()
}

func TestStopDrainsDispatcherBeforeCancel(t *testing.T) {
	t.Parallel()
	a, err := New(writeAppConfig(t))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	gs := &gateStore{
		Store:   storage.NewMemory(),
		entered: make(chan context.Context, 1),
		release: make(chan struct{}),
	}
	t.Cleanup(func() { gs.Close() })
	a.disp = dispatch.New(dispatch.Config{
		Enabled:    true,
		Poll:       config.PollSpec{Kind: config.PollInterval, Every: time.Second},
		Grace:      time.Hour,
		BatchLimit: 10,
		RatePerSec: 100,
	}, gs, a.tr, nil, logx.Nop(), nil)

	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	var cycleCtx context.Context
	select {
	case cycleCtx = <-gs.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("dispatch cycle never reached the store")
	}

	stopped := make(chan struct{})
	go func() {
		a.Stop(context.Background(), StopSignal)
		close(stopped)
	}()

	// Shutdown must wait for the in-flight store call, not abort it.
	time.Sleep(100 * time.Millisecond)
	if cycleCtx.Err() != nil {
		t.Fatal("in-flight store call aborted during shutdown")
	}
	close(gs.release)

	select {
	case <-stopped:
	case <-time.After(10 * time.Second):
		t.Fatal("stop did not return after the cycle drained")
	}
	if a.runCtx.Err() == nil {
		t.Fatal("run context still live after stop")
	}
}
