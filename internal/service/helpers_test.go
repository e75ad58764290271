package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/paulmach/orb"
	"go.uber.org/zap/zaptest"

	"github.com/joeblew999/plat-water/pkg/waterclient"
)

// manualScheduler queues work until the test completes it, in any order.
type manualScheduler struct {
	jobs []*job
}

type job struct {
	work func(ctx context.Context) error
	done func(err error)
	ran  bool
}

func (m *manualScheduler) Run(work func(ctx context.Context) error, done func(err error)) {
	m.jobs = append(m.jobs, &job{work: work, done: done})
}

// complete runs job i and delivers its completion.
func (m *manualScheduler) complete(t *testing.T, i int) {
	t.Helper()
	if i >= len(m.jobs) {
		t.Fatalf("job %d not scheduled (have %d)", i, len(m.jobs))
	}
	j := m.jobs[i]
	if j.ran {
		t.Fatalf("job %d already completed", i)
	}
	j.ran = true
	j.done(j.work(context.Background()))
}

// outstanding returns the indices of jobs not yet completed.
func (m *manualScheduler) outstanding() []int {
	var out []int
	for i, j := range m.jobs {
		if !j.ran {
			out = append(out, i)
		}
	}
	return out
}

// drain completes jobs in FIFO order, including jobs scheduled while draining.
func (m *manualScheduler) drain(t *testing.T) {
	t.Helper()
	for {
		pending := m.outstanding()
		if len(pending) == 0 {
			return
		}
		m.complete(t, pending[0])
	}
}

var errBackend = errors.New("backend unavailable")

// fakeBackend answers every endpoint from memory and counts calls.
type fakeBackend struct {
	mu        sync.Mutex
	calls     map[string]int
	fail      map[string]bool
	failAt    map[orb.Point]bool
	areas     map[orb.Point]float64
	exportLog []exportCall
}

type exportCall struct {
	path string
	name string
	at   orb.Point
	ring orb.Ring
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		calls:  map[string]int{},
		fail:   map[string]bool{},
		failAt: map[orb.Point]bool{},
		areas:  map[orb.Point]float64{},
	}
}

func (b *fakeBackend) hit(endpoint string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls[endpoint]++
	if b.fail[endpoint] {
		return errBackend
	}
	return nil
}

func (b *fakeBackend) count(endpoint string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[endpoint]
}

func (b *fakeBackend) failsAt(at orb.Point) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failAt[at]
}

func src(id string) TileSource {
	return TileSource{MapID: id, Token: "tok", URL: "https://tiles.test/map/" + id + "/{z}/{x}/{y}"}
}

func (b *fakeBackend) Background(ctx context.Context) (waterclient.Background, error) {
	if err := b.hit("background"); err != nil {
		return waterclient.Background{}, err
	}
	return waterclient.Background{AoIFill: src("aoi"), AoIBorder: src("border"), HAND: src("hand")}, nil
}

func (b *fakeBackend) DefaultWaterMap(ctx context.Context) (TileSource, error) {
	if err := b.hit("default"); err != nil {
		return TileSource{}, err
	}
	return src("default"), nil
}

func (b *fakeBackend) WaterMap(ctx context.Context, p waterclient.QueryEncoder) (TileSource, error) {
	if err := b.hit("water_map"); err != nil {
		return TileSource{}, err
	}
	q := p.Query()
	return src("water-" + q.Get("time_start") + "-" + q.Get("time_end")), nil
}

func (b *fakeBackend) ExampleMap(ctx context.Context, id string) (TileSource, error) {
	if err := b.hit("example_map"); err != nil {
		return TileSource{}, err
	}
	return src(id), nil
}

func (b *fakeBackend) ExampleMonths(ctx context.Context) (map[int]TileSource, error) {
	if err := b.hit("example_months"); err != nil {
		return nil, err
	}
	out := map[int]TileSource{}
	for m := 1; m <= 12; m++ {
		out[m] = src(fmt.Sprintf("month-%d", m))
	}
	return out, nil
}

func (b *fakeBackend) GridMap(ctx context.Context, kind waterclient.RegionKind) (TileSource, error) {
	if err := b.hit("grid"); err != nil {
		return TileSource{}, err
	}
	return src("grid-" + string(kind)), nil
}

func (b *fakeBackend) SelectTile(ctx context.Context, at orb.Point) (TileSource, error) {
	if err := b.hit("select_tile"); err != nil {
		return TileSource{}, err
	}
	if b.failsAt(at) {
		return TileSource{}, errBackend
	}
	return src(fmt.Sprintf("tile-%g-%g", at.Lat(), at.Lon())), nil
}

func (b *fakeBackend) SelectAdminBoundary(ctx context.Context, at orb.Point) (waterclient.AdminBoundary, error) {
	if err := b.hit("select_adm"); err != nil {
		return waterclient.AdminBoundary{}, err
	}
	if b.failsAt(at) {
		return waterclient.AdminBoundary{}, errBackend
	}
	b.mu.Lock()
	area := b.areas[at]
	b.mu.Unlock()
	return waterclient.AdminBoundary{TileSource: src(fmt.Sprintf("adm-%g-%g", at.Lat(), at.Lon())), AreaKm2: area}, nil
}

func (b *fakeBackend) ExportDrawn(ctx context.Context, p waterclient.QueryEncoder, ring orb.Ring, name string) (string, error) {
	b.mu.Lock()
	b.exportLog = append(b.exportLog, exportCall{path: "drawn", name: name, ring: ring})
	b.mu.Unlock()
	if err := b.hit("export_drawn"); err != nil {
		return "", err
	}
	return "https://download.test/drawn.zip", nil
}

func (b *fakeBackend) ExportSelected(ctx context.Context, p waterclient.QueryEncoder, kind waterclient.RegionKind, at orb.Point, name string) (string, error) {
	b.mu.Lock()
	b.exportLog = append(b.exportLog, exportCall{path: "selected", name: name, at: at})
	b.mu.Unlock()
	if err := b.hit("export_selected"); err != nil {
		return "", err
	}
	if b.failsAt(at) {
		return "", errBackend
	}
	return fmt.Sprintf("https://download.test/%g_%g.zip", at.Lat(), at.Lon()), nil
}

// harness wires the controllers the way a session does, minus the loop.
type harness struct {
	sched    *manualScheduler
	backend  *fakeBackend
	surface  *SurfaceModel
	layers   *LayerRegistry
	warnings *Warnings
	refresh  *RefreshController
	region   *RegionSelector
	export   *ExportCoordinator
	events   []string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{sched: &manualScheduler{}, backend: newFakeBackend()}
	limits := DefaultLimits()
	log := zaptest.NewLogger(t).Sugar()
	publish := func(r string) { h.events = append(h.events, r) }

	h.surface = NewSurfaceModel(SlotSelectionBase+limits.MaxSelection, DefaultView(), 14, publish)
	h.layers = NewLayerRegistry(h.surface, limits.MaxSelection, nil)
	h.warnings = NewWarnings(publish)
	h.refresh = NewRefreshController(h.backend, h.sched, h.layers, h.warnings, limits, log, publish)
	h.export = NewExportCoordinator("test", h.backend, h.sched, nil, log, publish)
	h.region = NewRegionSelector(h.backend, h.sched, h.layers, h.surface, h.warnings, limits, log, publish, h.export.Clear)
	return h
}

func (h *harness) slot(i int) (Overlay, bool) {
	return h.surface.Overlay(i)
}

func params(start, end string, climatology bool) ParameterSet {
	p := DefaultParameterSet()
	p.TimeStart, p.TimeEnd, p.Climatology = start, end, climatology
	return p
}
