package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func newTestManager(t *testing.T, b *fakeBackend) *SessionManager {
	t.Helper()
	m := NewSessionManager(SessionConfig{
		Backend:  b,
		Limits:   DefaultLimits(),
		Defaults: DefaultParameterSet(),
		View:     DefaultView(),
		MaxZoom:  14,
		Examples: DefaultExamples(),
		Logger:   zaptest.NewLogger(t).Sugar(),
	})
	t.Cleanup(m.CloseAll)
	return m
}

// waitFor polls the session snapshot until cond holds.
func waitFor(t *testing.T, s *Session, cond func(Snapshot) bool) Snapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		snap, err := s.Snapshot(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if cond(snap) {
			return snap
		}
		if time.Now().After(deadline) {
			t.Fatalf("condition not met, last snapshot %+v", snap)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSessionStartLoadsLayers(t *testing.T) {
	m := newTestManager(t, newFakeBackend())
	s, err := m.Create()
	if err != nil {
		t.Fatal(err)
	}

	snap := waitFor(t, s, func(s Snapshot) bool {
		return s.Layers[SlotWater].Active && s.Layers[SlotHAND].Active
	})
	if snap.Layers[SlotWater].Source.MapID != "default" {
		t.Errorf("water = %+v", snap.Layers[SlotWater])
	}
	if snap.View != DefaultView() {
		t.Errorf("view = %+v", snap.View)
	}
	if snap.Applied == nil || !snap.Applied.Equal(DefaultParameterSet()) {
		t.Errorf("applied = %+v", snap.Applied)
	}
	if snap.Mode != "none" {
		t.Errorf("mode = %s", snap.Mode)
	}
}

func TestSessionRefreshAndExport(t *testing.T) {
	b := newFakeBackend()
	m := newTestManager(t, b)
	s, _ := m.Create()
	ctx := context.Background()

	d, err := s.Refresh(ctx, params("2020-01-01", "2020-02-01", false))
	if err != nil || d != RefreshPeriodTooShort {
		t.Fatalf("refresh = %s, %v", d, err)
	}
	if snap, _ := s.Snapshot(ctx); snap.Warning != WarnPeriodTooShort {
		t.Errorf("warning = %q", snap.Warning)
	}

	bad := DefaultParameterSet()
	bad.MonthIndex = 13
	if _, err := s.Refresh(ctx, bad); err == nil {
		t.Error("expected validation error")
	}

	if err := s.Export(ctx, "", nil); !errors.Is(err, ErrNothingToExport) {
		t.Errorf("export with no selection = %v", err)
	}

	s.SetMode(ctx, ModePolygonDraw)
	if ok, _ := s.CompletePolygon(ctx, box(0.5)); !ok {
		t.Fatal("polygon rejected")
	}
	if err := s.Export(ctx, "", nil); err != nil {
		t.Fatal(err)
	}
	snap := waitFor(t, s, func(s Snapshot) bool { return len(s.Export.Links) == 1 })
	if snap.Export.Name != DefaultParameterSet().DefaultExportName() {
		t.Errorf("export name = %s", snap.Export.Name)
	}
	if len(snap.Polygon) != 5 || snap.PolygonArea <= 0 {
		t.Errorf("polygon = %v (%v km2)", snap.Polygon, snap.PolygonArea)
	}

	s.Cancel(ctx)
	snap, _ = s.Snapshot(ctx)
	if snap.Export.Visible || snap.ExportEnabled || snap.Mode != "none" {
		t.Errorf("after cancel: %+v", snap)
	}
}

func TestSessionEvents(t *testing.T) {
	m := newTestManager(t, newFakeBackend())
	s, _ := m.Create()
	ch := s.Events().Subscribe()
	defer s.Events().Unsubscribe(ch)

	if err := s.SetMode(context.Background(), ModeTilePick); err != nil {
		t.Fatal(err)
	}
	timeout := time.After(2 * time.Second)
	for {
		select {
		case e := <-ch:
			if e.Resource == "selection" && e.ID == s.ID {
				return
			}
		case <-timeout:
			t.Fatal("no selection event")
		}
	}
}

func TestSessionManagerLifecycle(t *testing.T) {
	m := newTestManager(t, newFakeBackend())
	a, _ := m.Create()
	b, _ := m.Create()

	if got, err := m.Get(a.ID); err != nil || got != a {
		t.Fatalf("Get = %v, %v", got, err)
	}
	if n := len(m.List()); n != 2 {
		t.Errorf("List = %d", n)
	}
	if err := m.Close(a.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Get(a.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Get closed = %v", err)
	}
	if err := m.Close(a.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("double close = %v", err)
	}
	if _, err := a.Snapshot(context.Background()); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("snapshot of closed session = %v", err)
	}
	if _, err := b.Snapshot(context.Background()); err != nil {
		t.Errorf("other session affected: %v", err)
	}
}

func TestSessionUnknownExample(t *testing.T) {
	m := newTestManager(t, newFakeBackend())
	s, _ := m.Create()
	if err := s.LoadExample(context.Background(), "example_9"); err == nil {
		t.Error("expected error for unknown example")
	}
	if err := s.LoadExample(context.Background(), "example_1"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, s, func(s Snapshot) bool { return s.Layers[SlotWater].Source.MapID == "example_1" })
}

func TestSessionManagerSweepsIdleSessions(t *testing.T) {
	m := NewSessionManager(SessionConfig{
		Backend:  newFakeBackend(),
		Limits:   DefaultLimits(),
		Defaults: DefaultParameterSet(),
		Logger:   zaptest.NewLogger(t).Sugar(),
		IdleTTL:  time.Minute,
	})
	t.Cleanup(m.CloseAll)

	var open []*Session
	for range 3 {
		s, err := m.Create()
		if err != nil {
			t.Fatal(err)
		}
		open = append(open, s)
	}
	watched := open[2]
	ch := watched.Subscribe()

	if n := m.Sweep(time.Now()); n != 0 {
		t.Fatalf("fresh sessions swept: %d", n)
	}
	later := time.Now().Add(2 * time.Minute)
	if n := m.Sweep(later); n != 2 {
		t.Fatalf("swept %d, want 2", n)
	}
	if _, err := m.Get(watched.ID); err != nil {
		t.Errorf("session with a stream was closed: %v", err)
	}
	if _, err := m.Get(open[0].ID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("idle session still open: %v", err)
	}

	watched.Unsubscribe(ch)
	if n := m.Sweep(time.Now()); n != 0 {
		t.Errorf("just-detached session swept")
	}
	if n := m.Sweep(time.Now().Add(2 * time.Minute)); n != 1 || len(m.List()) != 0 {
		t.Errorf("swept %d, %d left", n, len(m.List()))
	}
}

func TestSessionManagerWithoutTTLKeepsSessions(t *testing.T) {
	m := newTestManager(t, newFakeBackend())
	m.Create()
	if n := m.Sweep(time.Now().Add(24 * time.Hour)); n != 0 || len(m.List()) != 1 {
		t.Errorf("swept %d", n)
	}
}
