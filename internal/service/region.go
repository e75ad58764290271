package service

import (
	"context"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"go.uber.org/zap"

	"github.com/joeblew999/plat-water/internal/metrics"
	"github.com/joeblew999/plat-water/pkg/waterclient"
)

// Mode is the region selection mode.
type Mode int

const (
	ModeNone Mode = iota
	ModeTilePick
	ModeAdminBoundsPick
	ModePolygonDraw
)

var modeNames = [...]string{"none", "tiles", "adm_bounds", "polygon"}

// ModeNames lists the external mode names.
func ModeNames() []string {
	return append([]string(nil), modeNames[:]...)
}

func (m Mode) String() string {
	if m < 0 || int(m) >= len(modeNames) {
		return fmt.Sprintf("Mode(%d)", int(m))
	}
	return modeNames[m]
}

// ParseMode maps an external mode name to a Mode.
func ParseMode(s string) (Mode, error) {
	for i, n := range modeNames {
		if n == s {
			return Mode(i), nil
		}
	}
	return ModeNone, fmt.Errorf("unknown selection mode %q", s)
}

func (m Mode) picks() bool { return m == ModeTilePick || m == ModeAdminBoundsPick }

func (m Mode) regionKind() waterclient.RegionKind {
	if m == ModeAdminBoundsPick {
		return waterclient.RegionAdminBounds
	}
	return waterclient.RegionTiles
}

// RegionStatus tracks the preview fetch of a selected region.
type RegionStatus string

const (
	RegionPending RegionStatus = "pending"
	RegionReady   RegionStatus = "ready"
	RegionFailed  RegionStatus = "failed"
)

// Region is one clicked grid tile or administrative unit.
type Region struct {
	ID      uint64                 `json:"id" doc:"Selection sequence number"`
	Kind    waterclient.RegionKind `json:"kind" doc:"Grid the region was picked from"`
	Lat     float64                `json:"lat" doc:"Clicked latitude"`
	Lng     float64                `json:"lng" doc:"Clicked longitude"`
	Status  RegionStatus           `json:"status" enum:"pending,ready,failed" doc:"Preview fetch status"`
	AreaKm2 float64                `json:"areaKm2,omitempty" doc:"Area reported by the backend (administrative units only)"`
	Offset  int                    `json:"offset" doc:"Preview stacking offset"`
}

// Point returns the clicked location.
func (r Region) Point() orb.Point { return orb.Point{r.Lng, r.Lat} }

// ClickResult reports what a map click did.
type ClickResult string

const (
	ClickIgnored  ClickResult = "ignored"
	ClickReplaced ClickResult = "replaced"
	ClickAppended ClickResult = "appended"
)

// RegionSelector is the selection state machine of one viewer.
type RegionSelector struct {
	backend  Backend
	sched    Scheduler
	layers   *LayerRegistry
	surface  Surface
	warnings *Warnings
	limits   Limits
	log      *zap.SugaredLogger
	publish  func(resource string)
	onReset  func()

	mode          Mode
	modifier      bool
	drawing       bool
	regions       []Region
	seq           uint64
	polygon       orb.Ring
	polygonArea   float64
	exportEnabled bool
	epoch         uint64
}

// NewRegionSelector wires a selector to its collaborators. onReset runs on
// every cancel so the export panel can be cleared in the same step.
func NewRegionSelector(backend Backend, sched Scheduler, layers *LayerRegistry, surface Surface, warnings *Warnings, limits Limits, log *zap.SugaredLogger, publish func(string), onReset func()) *RegionSelector {
	if publish == nil {
		publish = func(string) {}
	}
	if onReset == nil {
		onReset = func() {}
	}
	return &RegionSelector{
		backend:  backend,
		sched:    sched,
		layers:   layers,
		surface:  surface,
		warnings: warnings,
		limits:   limits,
		log:      log,
		publish:  publish,
		onReset:  onReset,
	}
}

// SetMode switches the selection mode, discarding the current selection.
func (r *RegionSelector) SetMode(m Mode) {
	r.reset()
	r.modifier = false
	r.mode = m

	switch m {
	case ModeTilePick:
		r.layers.Remove(KindAdminBounds)
		r.showGrid(KindTiles)
	case ModeAdminBoundsPick:
		r.layers.Remove(KindTiles)
		r.showGrid(KindAdminBounds)
	case ModePolygonDraw:
		r.layers.Remove(KindTiles)
		r.layers.Remove(KindAdminBounds)
		r.setDrawing(true)
	default:
		r.layers.Remove(KindTiles)
		r.layers.Remove(KindAdminBounds)
	}
	r.publish("selection")
}

// SetModifier records whether the additive modifier key is held. It is only
// honoured in the pick modes.
func (r *RegionSelector) SetModifier(held bool) {
	if held && !r.mode.picks() {
		return
	}
	r.modifier = held
}

// Click selects the region under a point in the pick modes.
func (r *RegionSelector) Click(lat, lng float64) ClickResult {
	if !r.mode.picks() {
		return ClickIgnored
	}

	result := ClickReplaced
	if r.modifier {
		if len(r.regions) >= r.limits.MaxSelection {
			return ClickIgnored
		}
		result = ClickAppended
	} else {
		r.layers.Remove(KindSelection)
		r.regions = nil
	}
	if r.mode == ModeAdminBoundsPick {
		r.warnings.Clear()
	}

	r.seq++
	reg := Region{
		ID:     r.seq,
		Kind:   r.mode.regionKind(),
		Lat:    lat,
		Lng:    lng,
		Status: RegionPending,
		Offset: len(r.regions),
	}
	r.regions = append(r.regions, reg)
	r.evaluate()
	r.fetchPreview(reg)
	r.publish("selection")
	return result
}

func (r *RegionSelector) fetchPreview(reg Region) {
	var (
		src  TileSource
		area float64
	)
	mode := r.mode
	r.sched.Run(func(ctx context.Context) error {
		if mode == ModeAdminBoundsPick {
			b, err := r.backend.SelectAdminBoundary(ctx, reg.Point())
			src, area = b.TileSource, b.AreaKm2
			return err
		}
		var err error
		src, err = r.backend.SelectTile(ctx, reg.Point())
		return err
	}, func(err error) {
		i := r.find(reg.ID)
		if i < 0 {
			r.log.Debugw("discarding preview for deselected region", "region", reg.ID)
			metrics.DiscardedResults.WithLabelValues("preview").Inc()
			return
		}
		defer r.publish("selection")
		if err != nil {
			r.log.Errorw("loading region preview", "kind", reg.Kind, "lat", reg.Lat, "lng", reg.Lng, "error", err)
			r.regions[i].Status = RegionFailed
			r.evaluate()
			return
		}
		r.regions[i].Status = RegionReady
		r.regions[i].AreaKm2 = area
		r.layers.SetAt(KindSelection, reg.Offset, src)
		r.evaluate()
	})
}

// evaluate derives export availability and the area warning from the regions.
// The largest ready administrative unit decides the tier.
func (r *RegionSelector) evaluate() {
	ready := 0
	largest := 0.0
	for _, reg := range r.regions {
		if reg.Status != RegionReady {
			continue
		}
		ready++
		largest = math.Max(largest, reg.AreaKm2)
	}
	tier := AreaOK
	if r.mode == ModeAdminBoundsPick && ready > 0 {
		tier = r.limits.Tier(largest)
		r.warnings.Set(r.limits.AreaWarning(tier, false))
	}
	r.exportEnabled = ready > 0 && tier != AreaHard
}

// CompletePolygon accepts a finished drawing. It is discarded unless drawing
// mode is on. The ring replaces any previous polygon.
func (r *RegionSelector) CompletePolygon(ring orb.Ring) bool {
	if r.mode != ModePolygonDraw || !r.drawing {
		return false
	}
	ring = append(orb.Ring(nil), ring...)
	if len(ring) > 0 && !ring.Closed() {
		ring = append(ring, ring[0])
	}
	if len(ring) < 4 {
		return false
	}

	r.polygon = ring
	r.polygonArea = PolygonAreaKm2(ring)
	r.setDrawing(false)

	tier := r.limits.Tier(r.polygonArea)
	r.warnings.Set(r.limits.AreaWarning(tier, true))
	r.exportEnabled = tier != AreaHard
	r.publish("selection")
	return true
}

// Draw re-enables drawing in polygon mode so a new polygon can replace the
// current one.
func (r *RegionSelector) Draw() {
	if r.mode != ModePolygonDraw || r.drawing {
		return
	}
	r.setDrawing(true)
	r.publish("selection")
}

// ClearPolygon removes the drawn polygon and leaves polygon mode.
// Clearing when nothing was drawn is a no-op.
func (r *RegionSelector) ClearPolygon() {
	if r.polygon == nil && r.mode != ModePolygonDraw {
		return
	}
	r.polygon, r.polygonArea = nil, 0
	r.setDrawing(false)
	if r.mode == ModePolygonDraw {
		r.mode = ModeNone
	}
	r.exportEnabled = false
	r.warnings.Clear()
	r.publish("selection")
}

// Cancel drops every part of the current selection: drawing mode, grid
// overlays, previews, download links and the mode itself.
func (r *RegionSelector) Cancel() {
	r.reset()
	r.mode = ModeNone
	r.layers.Remove(KindTiles)
	r.layers.Remove(KindAdminBounds)
	r.onReset()
	r.publish("selection")
}

func (r *RegionSelector) reset() {
	r.epoch++
	r.setDrawing(false)
	r.layers.Remove(KindSelection)
	r.regions = nil
	r.polygon, r.polygonArea = nil, 0
	r.warnings.Clear()
	r.exportEnabled = false
}

func (r *RegionSelector) setDrawing(on bool) {
	r.drawing = on
	r.surface.SetDrawingMode(on)
}

// showGrid shows the outline of the selectable regions, fetching it the first time.
func (r *RegionSelector) showGrid(kind LayerKind) {
	if _, ok := r.layers.Cached(kind); ok {
		r.layers.Toggle(kind, true)
		return
	}
	epoch := r.epoch
	rk := waterclient.RegionTiles
	if kind == KindAdminBounds {
		rk = waterclient.RegionAdminBounds
	}
	var src TileSource
	r.sched.Run(func(ctx context.Context) (err error) {
		src, err = r.backend.GridMap(ctx, rk)
		return err
	}, func(err error) {
		if epoch != r.epoch {
			metrics.DiscardedResults.WithLabelValues("grid").Inc()
			return
		}
		if err != nil {
			r.log.Errorw("loading region grid", "kind", rk, "error", err)
			return
		}
		r.layers.Set(kind, src)
	})
}

func (r *RegionSelector) find(id uint64) int {
	for i, reg := range r.regions {
		if reg.ID == id {
			return i
		}
	}
	return -1
}

// Mode returns the current selection mode.
func (r *RegionSelector) Mode() Mode { return r.mode }

// Modifier reports whether the additive modifier is held.
func (r *RegionSelector) Modifier() bool { return r.modifier }

// Drawing reports whether polygon drawing is on.
func (r *RegionSelector) Drawing() bool { return r.drawing }

// Regions returns a copy of the selection in click order.
func (r *RegionSelector) Regions() []Region {
	return append([]Region(nil), r.regions...)
}

// Polygon returns the drawn ring and its area in km², nil when none.
func (r *RegionSelector) Polygon() (orb.Ring, float64) {
	return r.polygon, r.polygonArea
}

// ExportEnabled reports whether the current selection may be exported.
func (r *RegionSelector) ExportEnabled() bool { return r.exportEnabled }

// PolygonAreaKm2 returns the spherical area of a ring in km².
func PolygonAreaKm2(ring orb.Ring) float64 {
	return math.Abs(geo.Area(orb.Polygon{ring})) / 1e6
}
