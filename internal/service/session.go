package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"go.uber.org/zap"

	"github.com/joeblew999/plat-water/internal/metrics"
)

var (
	// ErrSessionNotFound is returned for an unknown session ID.
	ErrSessionNotFound = errors.New("session not found")
	// ErrUnknownExample is returned for an example outside the catalog.
	ErrUnknownExample = errors.New("unknown example")
)

// Example is a curated precomputed water layer.
type Example struct {
	ID    string `json:"id" yaml:"id" doc:"Backend example identifier" example:"example_1"`
	Label string `json:"label" yaml:"label" doc:"Display label" example:"Mekong delta"`
}

// DefaultExamples lists the curated layers served by the backend.
func DefaultExamples() []Example {
	return []Example{
		{ID: "example_1", Label: "Delta"},
		{ID: "example_2", Label: "Reservoir"},
		{ID: "example_3", Label: "Floods"},
		{ID: "example_4", Label: "River"},
	}
}

// SessionConfig is shared by every session of a manager.
type SessionConfig struct {
	Backend  Backend
	Limits   Limits
	Defaults ParameterSet
	Opacity  map[LayerKind]float64
	View     View
	MaxZoom  int
	Examples []Example
	Ledger   Ledger
	Logger   *zap.SugaredLogger
	// IdleTTL closes sessions with no event stream and no activity for
	// this long. Zero keeps sessions until they are closed explicitly.
	IdleTTL time.Duration
}

// DefaultView is the initial camera position.
func DefaultView() View {
	return View{Lat: 12.5, Lng: 102.0, Zoom: 7}
}

// Snapshot is the renderable state of a session.
type Snapshot struct {
	ID            string        `json:"id" doc:"Session ID"`
	Layers        []SlotView    `json:"layers" doc:"Overlay slots in stacking order"`
	Warning       string        `json:"warning" doc:"Current warning text, empty when none"`
	Mode          string        `json:"mode" enum:"none,tiles,adm_bounds,polygon" doc:"Region selection mode"`
	Modifier      bool          `json:"modifier" doc:"Additive selection modifier held"`
	Drawing       bool          `json:"drawing" doc:"Polygon drawing enabled"`
	Regions       []Region      `json:"regions" doc:"Selected regions in click order"`
	Polygon       [][2]float64  `json:"polygon,omitempty" doc:"Drawn polygon ring as [lng, lat] pairs"`
	PolygonArea   float64       `json:"polygonAreaKm2,omitempty" doc:"Drawn polygon area in km2"`
	ExportEnabled bool          `json:"exportEnabled" doc:"Whether the export action is available"`
	Export        ExportPanel   `json:"export" doc:"Download panel"`
	Applied       *ParameterSet `json:"applied,omitempty" doc:"Parameters of the displayed water layer"`
	Pending       bool          `json:"pending" doc:"A water layer fetch is outstanding"`
	ExampleMonth  int           `json:"exampleMonth,omitempty" doc:"Month shown from the climatology example"`
	View          View          `json:"view" doc:"Map camera"`
}

// Session is the application context of one viewer. Every method runs its
// work on the session's event loop, one event at a time.
type Session struct {
	ID      string
	Created time.Time

	cfg      SessionConfig
	active   atomic.Int64 // unix nanos of the last event
	loop     *Loop
	cancel   context.CancelFunc
	bus      *EventBus
	surface  *SurfaceModel
	layers   *LayerRegistry
	warnings *Warnings
	refresh  *RefreshController
	region   *RegionSelector
	export   *ExportCoordinator
}

// NewSession builds a session whose blocking work runs through sched.
// Pass nil to use the session's own loop scheduler.
func NewSession(cfg SessionConfig, sched Scheduler) *Session {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	if cfg.Limits == (Limits{}) {
		cfg.Limits = DefaultLimits()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ID:      uuid.NewString(),
		Created: time.Now().UTC(),
		cfg:     cfg,
		loop:    NewLoop(),
		cancel:  cancel,
		bus:     NewEventBus(),
	}
	s.touch()
	if sched == nil {
		sched = NewLoopScheduler(ctx, s.loop)
	}
	log := cfg.Logger.With("session", s.ID)
	publish := func(resource string) {
		s.bus.Publish(Event{Resource: resource, Action: "updated", ID: s.ID})
	}

	s.surface = NewSurfaceModel(SlotSelectionBase+cfg.Limits.MaxSelection, cfg.View, cfg.MaxZoom, publish)
	s.layers = NewLayerRegistry(s.surface, cfg.Limits.MaxSelection, cfg.Opacity)
	s.warnings = NewWarnings(publish)
	s.refresh = NewRefreshController(cfg.Backend, sched, s.layers, s.warnings, cfg.Limits, log, publish)
	s.export = NewExportCoordinator(s.ID, cfg.Backend, sched, cfg.Ledger, log, publish)
	s.region = NewRegionSelector(cfg.Backend, sched, s.layers, s.surface, s.warnings, cfg.Limits, log, publish, s.export.Clear)
	return s
}

// Start runs the event loop and queues the initial layer loads.
func (s *Session) Start() error {
	s.loop.Start()
	return s.loop.Post(func() {
		if s.cfg.View != (View{}) {
			s.surface.PanTo(s.cfg.View.Lat, s.cfg.View.Lng, s.cfg.View.Zoom)
		}
		s.refresh.LoadBackground()
		s.refresh.LoadDefault(s.cfg.Defaults)
	})
}

// Close stops the loop and cancels outstanding backend requests.
func (s *Session) Close() {
	s.cancel()
	s.loop.Close()
	s.bus.Publish(Event{Resource: "session", Action: "closed", ID: s.ID})
	s.bus.Close()
}

// Events returns the session's event bus.
func (s *Session) Events() *EventBus { return s.bus }

// Subscribe attaches an event stream. A session with a stream never idles.
func (s *Session) Subscribe() chan Event {
	s.touch()
	return s.bus.Subscribe()
}

// Unsubscribe detaches an event stream; the idle clock restarts from now.
func (s *Session) Unsubscribe(ch chan Event) {
	s.bus.Unsubscribe(ch)
	s.touch()
}

// IdleSince reports how long the session has gone without activity at now.
// It is zero while an event stream is attached.
func (s *Session) IdleSince(now time.Time) time.Duration {
	if s.bus.Len() > 0 {
		return 0
	}
	return now.Sub(time.Unix(0, s.active.Load()))
}

func (s *Session) touch() {
	s.active.Store(time.Now().UnixNano())
}

func (s *Session) do(ctx context.Context, fn func()) error {
	s.touch()
	return s.loop.Do(ctx, fn)
}

// Refresh validates p and applies the refresh rules to it.
func (s *Session) Refresh(ctx context.Context, p ParameterSet) (RefreshDecision, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}
	var d RefreshDecision
	err := s.do(ctx, func() { d = s.refresh.Request(p) })
	return d, err
}

// SetOpacity sets the configured opacity of a layer.
func (s *Session) SetOpacity(ctx context.Context, kind LayerKind, v float64) error {
	return s.do(ctx, func() { s.layers.SetOpacity(kind, v) })
}

// Toggle shows or hides a layer from its cached source.
func (s *Session) Toggle(ctx context.Context, kind LayerKind, on bool) error {
	return s.do(ctx, func() { s.layers.Toggle(kind, on) })
}

// LoadExample shows a curated example layer.
func (s *Session) LoadExample(ctx context.Context, id string) error {
	if !s.knownExample(id) {
		return fmt.Errorf("%w %q", ErrUnknownExample, id)
	}
	return s.do(ctx, func() { s.refresh.LoadExample(id) })
}

func (s *Session) knownExample(id string) bool {
	if len(s.cfg.Examples) == 0 {
		return true
	}
	for _, e := range s.cfg.Examples {
		if e.ID == id {
			return true
		}
	}
	return false
}

// LoadExampleMonths loads the monthly climatology example.
func (s *Session) LoadExampleMonths(ctx context.Context) error {
	return s.do(ctx, s.refresh.LoadExampleMonths)
}

// ShowExampleMonth switches to a loaded example month.
func (s *Session) ShowExampleMonth(ctx context.Context, m int) (bool, error) {
	var ok bool
	err := s.do(ctx, func() { ok = s.refresh.ShowExampleMonth(m) })
	return ok, err
}

// SetMode switches the region selection mode.
func (s *Session) SetMode(ctx context.Context, m Mode) error {
	return s.do(ctx, func() { s.region.SetMode(m) })
}

// SetModifier records the additive modifier key state.
func (s *Session) SetModifier(ctx context.Context, held bool) error {
	return s.do(ctx, func() { s.region.SetModifier(held) })
}

// Click selects the region at a point.
func (s *Session) Click(ctx context.Context, lat, lng float64) (ClickResult, error) {
	var r ClickResult
	err := s.do(ctx, func() { r = s.region.Click(lat, lng) })
	return r, err
}

// Draw re-enables polygon drawing.
func (s *Session) Draw(ctx context.Context) error {
	return s.do(ctx, s.region.Draw)
}

// CompletePolygon hands a finished drawing to the selector.
func (s *Session) CompletePolygon(ctx context.Context, ring orb.Ring) (bool, error) {
	var ok bool
	err := s.do(ctx, func() { ok = s.region.CompletePolygon(ring) })
	return ok, err
}

// ClearPolygon removes the drawn polygon.
func (s *Session) ClearPolygon(ctx context.Context) error {
	return s.do(ctx, s.region.ClearPolygon)
}

// Cancel resets the selection and the export panel in one step.
func (s *Session) Cancel(ctx context.Context) error {
	return s.do(ctx, s.region.Cancel)
}

// Export starts an export of the current selection. A nil p uses the applied
// parameters, falling back to the defaults.
func (s *Session) Export(ctx context.Context, name string, p *ParameterSet) error {
	if p != nil {
		if err := p.Validate(); err != nil {
			return err
		}
	}
	var err error
	derr := s.do(ctx, func() { err = s.startExport(name, p) })
	if derr != nil {
		return derr
	}
	return err
}

func (s *Session) startExport(name string, p *ParameterSet) error {
	if !s.region.ExportEnabled() {
		return ErrNothingToExport
	}
	params := s.cfg.Defaults
	if p != nil {
		params = *p
	} else if applied, ok := s.refresh.Applied(); ok {
		params = applied
	}

	job := ExportJob{Params: params, Name: name}
	switch s.region.Mode() {
	case ModePolygonDraw:
		job.Polygon, job.Area = s.region.Polygon()
	case ModeTilePick, ModeAdminBoundsPick:
		for _, reg := range s.region.Regions() {
			if reg.Status == RegionReady {
				job.Regions = append(job.Regions, reg)
			}
		}
	}
	return s.export.Start(job)
}

// Snapshot returns the renderable state.
func (s *Session) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := s.do(ctx, func() { snap = s.snapshot() })
	return snap, err
}

func (s *Session) snapshot() Snapshot {
	snap := Snapshot{
		ID:            s.ID,
		Layers:        s.layers.Slots(),
		Warning:       s.warnings.Text(),
		Mode:          s.region.Mode().String(),
		Modifier:      s.region.Modifier(),
		Drawing:       s.region.Drawing(),
		Regions:       s.region.Regions(),
		ExportEnabled: s.region.ExportEnabled(),
		Export:        s.export.Panel(),
		Pending:       s.refresh.Pending(),
		ExampleMonth:  s.refresh.ExampleMonth(),
		View:          s.surface.View(),
	}
	if snap.Regions == nil {
		snap.Regions = []Region{}
	}
	if ring, area := s.region.Polygon(); ring != nil {
		for _, pt := range ring {
			snap.Polygon = append(snap.Polygon, [2]float64{pt.Lon(), pt.Lat()})
		}
		snap.PolygonArea = area
	}
	if p, ok := s.refresh.Applied(); ok {
		snap.Applied = &p
	}
	return snap
}

// SessionManager owns the open sessions.
type SessionManager struct {
	cfg      SessionConfig
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewSessionManager creates an empty manager.
func NewSessionManager(cfg SessionConfig) *SessionManager {
	return &SessionManager{cfg: cfg, sessions: make(map[string]*Session)}
}

// Create opens and starts a new session.
func (m *SessionManager) Create() (*Session, error) {
	s := NewSession(m.cfg, nil)
	if err := s.Start(); err != nil {
		s.Close()
		return nil, fmt.Errorf("starting session: %w", err)
	}
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	metrics.ActiveSessions.Inc()
	return s, nil
}

// Get returns an open session.
func (m *SessionManager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// List returns the open sessions ordered by creation time.
func (m *SessionManager) List() []*Session {
	m.mu.RLock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Created.Before(out[j].Created) })
	return out
}

// Close closes and forgets a session.
func (m *SessionManager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	s.Close()
	metrics.ActiveSessions.Dec()
	return nil
}

// Sweep closes the sessions idle for at least the configured IdleTTL at now
// and returns how many it closed.
func (m *SessionManager) Sweep(now time.Time) int {
	if m.cfg.IdleTTL <= 0 {
		return 0
	}
	n := 0
	for _, s := range m.List() {
		if s.IdleSince(now) < m.cfg.IdleTTL {
			continue
		}
		if m.Close(s.ID) == nil {
			n++
		}
	}
	if n > 0 && m.cfg.Logger != nil {
		m.cfg.Logger.Infow("closed idle sessions", "count", n, "ttl", m.cfg.IdleTTL)
	}
	return n
}

// ExpireIdle sweeps every interval until ctx is done.
func (m *SessionManager) ExpireIdle(ctx context.Context, interval time.Duration) {
	if m.cfg.IdleTTL <= 0 || interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			m.Sweep(now)
		}
	}
}

// CloseAll closes every session.
func (m *SessionManager) CloseAll() {
	for _, s := range m.List() {
		m.Close(s.ID)
	}
}
