package service

import (
	"fmt"
	"math"
	"strings"

	"github.com/joeblew999/plat-water/pkg/waterclient"
)

// TileSource identifies a rendered raster layer.
type TileSource = waterclient.TileSource

// LayerKind is a logical overlay. Each kind owns a fixed slot on the map surface.
type LayerKind int

const (
	KindAoIFill LayerKind = iota
	KindAoIBorder
	KindHAND
	KindWater
	KindTiles
	KindAdminBounds
	KindSelection
)

// Slot indices. KindTiles and KindAdminBounds share the grid slot; selection
// previews occupy SlotSelectionBase onwards.
const (
	SlotAoIFill = iota
	SlotAoIBorder
	SlotHAND
	SlotWater
	SlotGrid
	SlotSelectionBase
)

var kindNames = map[LayerKind]string{
	KindAoIFill:     "AoI_fill",
	KindAoIBorder:   "AoI_border",
	KindHAND:        "HAND",
	KindWater:       "water",
	KindTiles:       "tiles",
	KindAdminBounds: "adm_bounds",
	KindSelection:   "selected_region",
}

func (k LayerKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("LayerKind(%d)", int(k))
}

// ParseLayerKind maps an external layer name to its kind. Matching is case-insensitive.
func ParseLayerKind(name string) (LayerKind, error) {
	for k, s := range kindNames {
		if strings.EqualFold(s, name) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown layer %q", name)
}

// LayerNames lists the external layer names in stacking order.
func LayerNames() []string {
	out := make([]string, 0, len(kindNames))
	for k := KindAoIFill; k <= KindSelection; k++ {
		out = append(out, kindNames[k])
	}
	return out
}

func (k LayerKind) slot() int {
	switch k {
	case KindAoIFill:
		return SlotAoIFill
	case KindAoIBorder:
		return SlotAoIBorder
	case KindHAND:
		return SlotHAND
	case KindWater:
		return SlotWater
	case KindTiles, KindAdminBounds:
		return SlotGrid
	default:
		return SlotSelectionBase
	}
}

// Overlay is what the map surface draws at one slot.
type Overlay struct {
	Kind    LayerKind
	Source  TileSource
	Opacity float64
}

// Surface is the map collaborator the registry drives.
type Surface interface {
	SetAt(index int, o Overlay)
	ClearAt(index int)
	SetOpacityAt(index int, v float64)
	SetDrawingMode(on bool)
	PanTo(lat, lng float64, zoom int)
}

// SlotView is a read-only view of one slot.
type SlotView struct {
	Index   int        `json:"index" doc:"Fixed stacking position"`
	Layer   string     `json:"layer,omitempty" doc:"Occupant layer name, empty when inactive"`
	Source  TileSource `json:"source" doc:"Occupant tile source"`
	Opacity float64    `json:"opacity" doc:"Occupant opacity"`
	Active  bool       `json:"active" doc:"Whether the slot has an occupant"`
}

// LayerRegistry tracks the fixed overlay slots of one viewer.
type LayerRegistry struct {
	surface Surface
	slots   []*Overlay
	last    map[LayerKind]TileSource
	opacity map[LayerKind]float64
}

// NewLayerRegistry creates a registry with room for maxSelection previews.
func NewLayerRegistry(surface Surface, maxSelection int, opacity map[LayerKind]float64) *LayerRegistry {
	r := &LayerRegistry{
		surface: surface,
		slots:   make([]*Overlay, SlotSelectionBase+maxSelection),
		last:    make(map[LayerKind]TileSource),
		opacity: make(map[LayerKind]float64),
	}
	for k, v := range opacity {
		r.opacity[k] = clamp01(v)
	}
	return r
}

// Set installs src in the slot of kind.
func (r *LayerRegistry) Set(kind LayerKind, src TileSource) {
	r.SetAt(kind, 0, src)
}

// SetAt installs src at kind's slot plus offset. Only selection previews use
// a non-zero offset. Setting the same source twice is a no-op.
func (r *LayerRegistry) SetAt(kind LayerKind, offset int, src TileSource) {
	idx := kind.slot() + offset
	if idx < 0 || idx >= len(r.slots) {
		return
	}
	r.last[kind] = src

	o := Overlay{Kind: kind, Source: src, Opacity: r.Opacity(kind)}
	if cur := r.slots[idx]; cur != nil && *cur == o {
		return
	}
	r.slots[idx] = &o
	r.surface.SetAt(idx, o)
}

// Remove clears every slot occupied by kind. Unknown or empty kinds are ignored.
func (r *LayerRegistry) Remove(kind LayerKind) {
	for i, o := range r.slots {
		if o != nil && o.Kind == kind {
			r.slots[i] = nil
			r.surface.ClearAt(i)
		}
	}
}

// SetOpacity records v as the configured opacity of kind and applies it to
// every occupant of that kind. NaN is ignored.
func (r *LayerRegistry) SetOpacity(kind LayerKind, v float64) {
	if math.IsNaN(v) {
		return
	}
	v = clamp01(v)
	r.opacity[kind] = v
	for i, o := range r.slots {
		if o != nil && o.Kind == kind && o.Opacity != v {
			o.Opacity = v
			r.surface.SetOpacityAt(i, v)
		}
	}
}

// Opacity returns the configured opacity of kind, 1 when never set.
func (r *LayerRegistry) Opacity(kind LayerKind) float64 {
	if v, ok := r.opacity[kind]; ok {
		return v
	}
	return 1
}

// Toggle re-installs the last known source of kind when on, removes it when off.
// It never fetches; a kind with no cached source is left alone.
func (r *LayerRegistry) Toggle(kind LayerKind, on bool) {
	if !on {
		r.Remove(kind)
		return
	}
	if src, ok := r.last[kind]; ok {
		r.Set(kind, src)
	}
}

// Cached returns the last source installed for kind.
func (r *LayerRegistry) Cached(kind LayerKind) (TileSource, bool) {
	src, ok := r.last[kind]
	return src, ok
}

// Active reports whether any slot holds kind.
func (r *LayerRegistry) Active(kind LayerKind) bool {
	for _, o := range r.slots {
		if o != nil && o.Kind == kind {
			return true
		}
	}
	return false
}

// Slots returns every slot in stacking order.
func (r *LayerRegistry) Slots() []SlotView {
	out := make([]SlotView, len(r.slots))
	for i, o := range r.slots {
		out[i] = SlotView{Index: i}
		if o != nil {
			out[i].Layer = o.Kind.String()
			out[i].Source = o.Source
			out[i].Opacity = o.Opacity
			out[i].Active = true
		}
	}
	return out
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
