package service

import (
	"context"

	"github.com/paulmach/orb"
	"go.uber.org/zap"

	"github.com/joeblew999/plat-water/internal/metrics"
	"github.com/joeblew999/plat-water/pkg/waterclient"
)

// Backend is the remote analysis service. *waterclient.Client implements it.
type Backend interface {
	Background(ctx context.Context) (waterclient.Background, error)
	DefaultWaterMap(ctx context.Context) (TileSource, error)
	WaterMap(ctx context.Context, p waterclient.QueryEncoder) (TileSource, error)
	ExampleMap(ctx context.Context, exampleID string) (TileSource, error)
	ExampleMonths(ctx context.Context) (map[int]TileSource, error)
	GridMap(ctx context.Context, kind waterclient.RegionKind) (TileSource, error)
	SelectTile(ctx context.Context, at orb.Point) (TileSource, error)
	SelectAdminBoundary(ctx context.Context, at orb.Point) (waterclient.AdminBoundary, error)
	ExportDrawn(ctx context.Context, p waterclient.QueryEncoder, ring orb.Ring, name string) (string, error)
	ExportSelected(ctx context.Context, p waterclient.QueryEncoder, kind waterclient.RegionKind, at orb.Point, name string) (string, error)
}

// RefreshDecision is the outcome of a refresh request.
type RefreshDecision string

const (
	RefreshUnchanged           RefreshDecision = "unchanged"
	RefreshClimatologyTooShort RefreshDecision = "climatology_too_short"
	RefreshPeriodTooShort      RefreshDecision = "period_too_short"
	RefreshIssued              RefreshDecision = "issued"
)

// RefreshController decides when the water layer is re-requested.
// It is Pending while a fetch is outstanding and Idle otherwise.
type RefreshController struct {
	backend  Backend
	sched    Scheduler
	layers   *LayerRegistry
	warnings *Warnings
	limits   Limits
	log      *zap.SugaredLogger
	publish  func(resource string)

	applied    ParameterSet
	hasApplied bool
	gen        uint64
	pending    bool
	months     map[int]TileSource
	month      int
}

// NewRefreshController wires a controller to its collaborators.
func NewRefreshController(backend Backend, sched Scheduler, layers *LayerRegistry, warnings *Warnings, limits Limits, log *zap.SugaredLogger, publish func(string)) *RefreshController {
	if publish == nil {
		publish = func(string) {}
	}
	return &RefreshController{
		backend:  backend,
		sched:    sched,
		layers:   layers,
		warnings: warnings,
		limits:   limits,
		log:      log,
		publish:  publish,
	}
}

// Request applies the refresh rules to p and issues at most one fetch.
// p must have passed Validate.
func (r *RefreshController) Request(p ParameterSet) RefreshDecision {
	d := r.decide(p)
	metrics.RefreshDecisions.WithLabelValues(string(d)).Inc()
	return d
}

func (r *RefreshController) decide(p ParameterSet) RefreshDecision {
	if r.hasApplied && p.Equal(r.applied) {
		r.warnings.Clear()
		return RefreshUnchanged
	}

	if d, warning := r.limits.CheckPeriod(p); d != RefreshIssued {
		r.warnings.Set(warning)
		return d
	}

	r.warnings.Clear()
	r.layers.Remove(KindWater)
	r.applied, r.hasApplied = p, true
	r.months, r.month = nil, 0

	r.fetchWater("water_map", func(ctx context.Context) (TileSource, error) {
		return r.backend.WaterMap(ctx, p)
	})
	return RefreshIssued
}

// LoadBackground fetches the area-of-interest and elevation mask layers.
func (r *RefreshController) LoadBackground() {
	var bg waterclient.Background
	r.sched.Run(func(ctx context.Context) (err error) {
		bg, err = r.backend.Background(ctx)
		return err
	}, func(err error) {
		if err != nil {
			r.log.Errorw("loading background layers", "error", err)
			return
		}
		r.layers.Set(KindAoIFill, bg.AoIFill)
		if !bg.AoIBorder.IsZero() {
			r.layers.Set(KindAoIBorder, bg.AoIBorder)
		}
		r.layers.Set(KindHAND, bg.HAND)
	})
}

// LoadDefault fetches the precomputed water layer for defaults and records
// defaults as the applied set.
func (r *RefreshController) LoadDefault(defaults ParameterSet) {
	r.layers.Remove(KindWater)
	r.applied, r.hasApplied = defaults, true
	r.months, r.month = nil, 0
	r.fetchWater("default", r.backend.DefaultWaterMap)
}

// LoadExample replaces the water layer with a curated example. The applied
// set is forgotten so the next submit always fetches.
func (r *RefreshController) LoadExample(id string) {
	r.warnings.Clear()
	r.layers.Remove(KindWater)
	r.hasApplied = false
	r.months, r.month = nil, 0
	r.fetchWater("example "+id, func(ctx context.Context) (TileSource, error) {
		return r.backend.ExampleMap(ctx, id)
	})
}

// LoadExampleMonths fetches the twelve monthly climatology example layers and
// shows the first available month.
func (r *RefreshController) LoadExampleMonths() {
	r.warnings.Clear()
	r.layers.Remove(KindWater)
	r.hasApplied = false
	r.months, r.month = nil, 0
	gen := r.begin()

	var months map[int]TileSource
	r.sched.Run(func(ctx context.Context) (err error) {
		months, err = r.backend.ExampleMonths(ctx)
		return err
	}, func(err error) {
		if !r.current(gen, "example_months") {
			return
		}
		r.pending = false
		defer r.publish("refresh")
		if err != nil {
			r.log.Errorw("loading example months", "error", err)
			return
		}
		r.months = months
		for m := 1; m <= 12; m++ {
			if _, ok := months[m]; ok {
				r.ShowExampleMonth(m)
				return
			}
		}
	})
}

// ShowExampleMonth switches the water layer to a cached example month
// without a network round trip. It reports whether the month was available.
func (r *RefreshController) ShowExampleMonth(m int) bool {
	src, ok := r.months[m]
	if !ok {
		return false
	}
	r.month = m
	r.layers.Set(KindWater, src)
	r.publish("refresh")
	return true
}

// Applied returns the applied parameter set, if any.
func (r *RefreshController) Applied() (ParameterSet, bool) {
	return r.applied, r.hasApplied
}

// Pending reports whether a water fetch is outstanding.
func (r *RefreshController) Pending() bool { return r.pending }

// ExampleMonth returns the month on display from the climatology example, 0 when none.
func (r *RefreshController) ExampleMonth() int { return r.month }

// Generation returns the number of water fetches issued so far.
func (r *RefreshController) Generation() uint64 { return r.gen }

func (r *RefreshController) begin() uint64 {
	r.gen++
	r.pending = true
	r.publish("refresh")
	return r.gen
}

func (r *RefreshController) current(gen uint64, what string) bool {
	if gen == r.gen {
		return true
	}
	r.log.Debugw("discarding stale water layer", "request", what, "generation", gen, "latest", r.gen)
	metrics.DiscardedResults.WithLabelValues("water").Inc()
	return false
}

func (r *RefreshController) fetchWater(what string, fetch func(ctx context.Context) (TileSource, error)) {
	gen := r.begin()
	var src TileSource
	r.sched.Run(func(ctx context.Context) (err error) {
		src, err = fetch(ctx)
		return err
	}, func(err error) {
		if !r.current(gen, what) {
			return
		}
		r.pending = false
		defer r.publish("refresh")
		if err != nil {
			r.log.Errorw("loading water layer", "request", what, "error", err)
			return
		}
		r.layers.Set(KindWater, src)
	})
}
