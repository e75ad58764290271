package service

import "testing"

func TestRefreshIdempotent(t *testing.T) {
	h := newHarness(t)
	p := params("2020-01-01", "2020-04-15", false)

	if d := h.refresh.Request(p); d != RefreshIssued {
		t.Fatalf("first request: %s", d)
	}
	// a short period sets a warning; resubmitting the applied set clears it
	h.refresh.Request(params("2020-01-01", "2020-01-10", false))
	if h.warnings.Text() == "" {
		t.Fatal("expected warning for short period")
	}
	if d := h.refresh.Request(p); d != RefreshUnchanged {
		t.Fatalf("second request: %s", d)
	}
	h.sched.drain(t)

	if n := h.backend.count("water_map"); n != 1 {
		t.Errorf("water_map calls = %d, want 1", n)
	}
	if w := h.warnings.Text(); w != "" {
		t.Errorf("warning = %q, want empty", w)
	}
}

func TestRefreshDuplicateWhilePending(t *testing.T) {
	h := newHarness(t)
	p := params("2020-01-01", "2020-04-15", false)

	h.refresh.Request(p)
	if !h.refresh.Pending() {
		t.Fatal("expected pending after issue")
	}
	if d := h.refresh.Request(p); d != RefreshUnchanged {
		t.Fatalf("duplicate while pending: %s", d)
	}
	if n := len(h.sched.jobs); n != 1 {
		t.Fatalf("scheduled %d fetches, want 1", n)
	}
}

func TestRefreshShortPeriod(t *testing.T) {
	tests := []struct {
		name        string
		climatology bool
		want        RefreshDecision
		warning     string
	}{
		{"generic", false, RefreshPeriodTooShort, WarnPeriodTooShort},
		{"climatology", true, RefreshClimatologyTooShort, WarnClimatologyTooShort},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			p := params("2020-01-01", "2020-02-01", tt.climatology)
			if got := p.PeriodDays(); got != 31 {
				t.Fatalf("PeriodDays = %d, want 31", got)
			}

			if d := h.refresh.Request(p); d != tt.want {
				t.Errorf("decision = %s, want %s", d, tt.want)
			}
			if w := h.warnings.Text(); w != tt.warning {
				t.Errorf("warning = %q, want %q", w, tt.warning)
			}
			if n := len(h.sched.jobs); n != 0 {
				t.Errorf("scheduled %d fetches, want 0", n)
			}
		})
	}
}

func TestRefreshClimatologyNeedsThreeYears(t *testing.T) {
	h := newHarness(t)
	// 105 days passes the generic floor but not the climatology one
	if d := h.refresh.Request(params("2020-01-01", "2020-04-15", true)); d != RefreshClimatologyTooShort {
		t.Fatalf("decision = %s", d)
	}
}

func TestRefreshInclusiveThresholds(t *testing.T) {
	tests := []struct {
		name        string
		start, end  string
		climatology bool
		days        int
	}{
		{"90 days", "2020-01-01", "2020-03-31", false, 90},
		{"1095 days", "2017-01-01", "2020-01-01", true, 1095},
		{"reversed", "2020-03-31", "2020-01-01", false, 90},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			p := params(tt.start, tt.end, tt.climatology)
			if got := p.PeriodDays(); got != tt.days {
				t.Fatalf("PeriodDays = %d, want %d", got, tt.days)
			}
			if d := h.refresh.Request(p); d != RefreshIssued {
				t.Errorf("decision = %s, want issued", d)
			}
		})
	}
}

func TestRefreshClearsWaterEagerly(t *testing.T) {
	h := newHarness(t)
	h.layers.Set(KindWater, src("old"))
	h.layers.SetOpacity(KindWater, 0.4)

	h.refresh.Request(params("2020-01-01", "2020-04-15", false))

	if _, ok := h.slot(SlotWater); ok {
		t.Fatal("water slot should be empty while the fetch is outstanding")
	}
	if n := len(h.sched.jobs); n != 1 {
		t.Fatalf("scheduled %d fetches, want 1", n)
	}
	if p, ok := h.refresh.Applied(); !ok || p.TimeEnd != "2020-04-15" {
		t.Fatal("applied set should be recorded before the fetch resolves")
	}

	h.sched.drain(t)
	o, ok := h.slot(SlotWater)
	if !ok {
		t.Fatal("water slot empty after success")
	}
	if o.Source.MapID != "water-2020-01-01-2020-04-15" {
		t.Errorf("water source = %s", o.Source.MapID)
	}
	if o.Opacity != 0.4 {
		t.Errorf("opacity = %v, want configured 0.4", o.Opacity)
	}
	if h.refresh.Pending() {
		t.Error("still pending after completion")
	}
}

func TestRefreshDiscardsStaleResult(t *testing.T) {
	h := newHarness(t)
	h.refresh.Request(params("2019-01-01", "2019-12-31", false))
	h.refresh.Request(params("2020-01-01", "2020-12-31", false))

	// newest first, then the stale one
	h.sched.complete(t, 1)
	h.sched.complete(t, 0)

	o, ok := h.slot(SlotWater)
	if !ok {
		t.Fatal("water slot empty")
	}
	if o.Source.MapID != "water-2020-01-01-2020-12-31" {
		t.Errorf("stale result overwrote newer one: %s", o.Source.MapID)
	}
}

func TestRefreshFailureLeavesLayerEmpty(t *testing.T) {
	h := newHarness(t)
	h.backend.fail["water_map"] = true

	h.refresh.Request(params("2020-01-01", "2020-04-15", false))
	h.sched.drain(t)

	if _, ok := h.slot(SlotWater); ok {
		t.Error("water slot should stay empty after a failed fetch")
	}
	if h.refresh.Pending() {
		t.Error("should return to idle")
	}
	if n := h.backend.count("water_map"); n != 1 {
		t.Errorf("water_map calls = %d, want 1 (no retry)", n)
	}
}

func TestLoadDefaultAndBackground(t *testing.T) {
	h := newHarness(t)
	defaults := DefaultParameterSet()

	h.refresh.LoadBackground()
	h.refresh.LoadDefault(defaults)
	h.sched.drain(t)

	for slot, want := range map[int]string{SlotAoIFill: "aoi", SlotAoIBorder: "border", SlotHAND: "hand", SlotWater: "default"} {
		o, ok := h.slot(slot)
		if !ok || o.Source.MapID != want {
			t.Errorf("slot %d = %+v, want %s", slot, o, want)
		}
	}
	if d := h.refresh.Request(defaults); d != RefreshUnchanged {
		t.Errorf("submitting defaults after load = %s, want unchanged", d)
	}
}

func TestLoadExampleResetsApplied(t *testing.T) {
	h := newHarness(t)
	defaults := DefaultParameterSet()
	h.refresh.LoadDefault(defaults)
	h.refresh.LoadExample("example_2")
	h.sched.drain(t)

	o, _ := h.slot(SlotWater)
	if o.Source.MapID != "example_2" {
		t.Fatalf("water = %s, want example_2", o.Source.MapID)
	}
	if d := h.refresh.Request(defaults); d != RefreshIssued {
		t.Errorf("submit after example = %s, want issued", d)
	}
}

func TestExampleMonths(t *testing.T) {
	h := newHarness(t)
	if h.refresh.ShowExampleMonth(3) {
		t.Fatal("months not loaded yet")
	}

	h.refresh.LoadExampleMonths()
	h.sched.drain(t)

	if o, _ := h.slot(SlotWater); o.Source.MapID != "month-1" {
		t.Fatalf("first month = %s", o.Source.MapID)
	}
	jobs := len(h.sched.jobs)
	if !h.refresh.ShowExampleMonth(7) {
		t.Fatal("month 7 unavailable")
	}
	if o, _ := h.slot(SlotWater); o.Source.MapID != "month-7" {
		t.Errorf("water = %s, want month-7", o.Source.MapID)
	}
	if len(h.sched.jobs) != jobs {
		t.Error("switching months must not fetch")
	}
	if h.refresh.ShowExampleMonth(13) {
		t.Error("month 13 should be rejected")
	}
}
