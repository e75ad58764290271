package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/humatest"
	"go.uber.org/zap/zaptest"

	"github.com/joeblew999/plat-water/internal/db"
	"github.com/joeblew999/plat-water/internal/humastar"
	"github.com/joeblew999/plat-water/internal/service"
	"github.com/joeblew999/plat-water/pkg/waterclient"
	"github.com/joeblew999/plat-water/pkg/waterclient/watertest"
)

type testEnv struct {
	api     humatest.TestAPI
	backend *watertest.Server
	ledger  *db.Ledger
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	backend := watertest.New()
	t.Cleanup(backend.Close)

	conn, err := db.Open(db.Config{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	ledger, err := db.NewLedger(context.Background(), conn)
	if err != nil {
		t.Fatal(err)
	}

	sessions := service.NewSessionManager(service.SessionConfig{
		Backend:  backend.Client(waterclient.Options{}),
		Limits:   service.DefaultLimits(),
		Defaults: service.DefaultParameterSet(),
		View:     service.DefaultView(),
		MaxZoom:  14,
		Examples: service.DefaultExamples(),
		Ledger:   ledger,
		Logger:   zaptest.NewLogger(t).Sugar(),
	})
	t.Cleanup(sessions.CloseAll)

	links := &humastar.LinkIndex{}
	cfg := huma.DefaultConfig("plat-water test", "1.0.0")
	// no $schema wrapping, so bodies keep their Actions
	cfg.CreateHooks = nil
	cfg.Transformers = append(cfg.Transformers, links.Transformer())
	_, api := humatest.New(t, cfg)
	RegisterRoutes(api, &Services{Sessions: sessions, Examples: service.DefaultExamples(), Exports: ledger})
	NewInfoHandler(backend.URL, "", true, service.DefaultLimits()).RegisterRoutes(api)
	links.Build(api)

	return &testEnv{api: api, backend: backend, ledger: ledger}
}

func decode[T any](t *testing.T, body []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(body, &v); err != nil {
		t.Fatalf("decoding %s: %v", body, err)
	}
	return v
}

func (e *testEnv) createSession(t *testing.T) SessionBody {
	t.Helper()
	resp := e.api.Post("/api/v1/sessions")
	if resp.Code != http.StatusCreated {
		t.Fatalf("create = %d %s", resp.Code, resp.Body)
	}
	return decode[SessionBody](t, resp.Body.Bytes())
}

// poll fetches the session until cond holds.
func (e *testEnv) poll(t *testing.T, id string, cond func(SessionBody) bool) SessionBody {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		resp := e.api.Get("/api/v1/sessions/" + id)
		if resp.Code != http.StatusOK {
			t.Fatalf("get session = %d %s", resp.Code, resp.Body)
		}
		b := decode[SessionBody](t, resp.Body.Bytes())
		if cond(b) {
			return b
		}
		if time.Now().After(deadline) {
			t.Fatalf("condition not met: %+v", b.Snapshot)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHealthLinks(t *testing.T) {
	e := newTestEnv(t)
	resp := e.api.Get("/health")
	if resp.Code != http.StatusOK {
		t.Fatalf("health = %d", resp.Code)
	}
	links := strings.Join(resp.Header().Values("Link"), ",")
	for _, want := range []string{`</api/v1/sessions>; rel="sessions"`, `</api/v1/exports>; rel="exports"`, `rel="service-desc"`} {
		if !strings.Contains(links, want) {
			t.Errorf("missing %s in %s", want, links)
		}
	}

	info := decode[InfoBody](t, e.api.Get("/api/v1/info").Body.Bytes())
	if info.Limits.HardAreaKm2 != 20000 || len(info.Layers) != 7 {
		t.Errorf("info = %+v", info)
	}
}

func TestSessionLifecycle(t *testing.T) {
	e := newTestEnv(t)
	s := e.createSession(t)

	b := e.poll(t, s.ID, func(b SessionBody) bool {
		return b.Layers[service.SlotWater].Active && b.Layers[service.SlotHAND].Active
	})
	if b.Layers[service.SlotWater].Source.MapID != "default" {
		t.Errorf("water = %+v", b.Layers[service.SlotWater])
	}
	if !strings.HasPrefix(b.Layers[service.SlotHAND].Source.URL, "https://tiles.example/map/hand/") {
		t.Errorf("hand url = %s", b.Layers[service.SlotHAND].Source.URL)
	}

	list := decode[[]SessionSummary](t, e.api.Get("/api/v1/sessions").Body.Bytes())
	if len(list) != 1 || list[0].ID != s.ID {
		t.Errorf("list = %+v", list)
	}

	if resp := e.api.Delete("/api/v1/sessions/" + s.ID); resp.Code != http.StatusNoContent {
		t.Errorf("delete = %d", resp.Code)
	}
	if resp := e.api.Get("/api/v1/sessions/" + s.ID); resp.Code != http.StatusNotFound {
		t.Errorf("get deleted = %d", resp.Code)
	}
}

func TestRefreshDecisions(t *testing.T) {
	e := newTestEnv(t)
	s := e.createSession(t)
	path := "/api/v1/sessions/" + s.ID + "/refresh"

	short := service.DefaultParameterSet()
	short.TimeStart, short.TimeEnd = "2020-01-01", "2020-02-01"
	resp := e.api.Post(path, short)
	if resp.Code != http.StatusOK {
		t.Fatalf("refresh = %d %s", resp.Code, resp.Body)
	}
	r := decode[RefreshBody](t, resp.Body.Bytes())
	if r.Decision != service.RefreshPeriodTooShort || r.Warning != service.WarnPeriodTooShort {
		t.Errorf("short period = %+v", r)
	}

	p := service.DefaultParameterSet()
	p.TimeStart, p.TimeEnd = "2018-01-01", "2018-12-31"
	r = decode[RefreshBody](t, e.api.Post(path, p).Body.Bytes())
	if r.Decision != service.RefreshIssued || r.Warning != "" {
		t.Errorf("valid = %+v", r)
	}
	e.poll(t, s.ID, func(b SessionBody) bool {
		return b.Layers[service.SlotWater].Source.MapID == "water-2018-01-01-2018-12-31"
	})

	r = decode[RefreshBody](t, e.api.Post(path, p).Body.Bytes())
	if r.Decision != service.RefreshUnchanged {
		t.Errorf("repeat = %+v", r)
	}

	bad := p
	bad.TimeEnd = "2018-02-30"
	if resp := e.api.Post(path, bad); resp.Code != http.StatusUnprocessableEntity {
		t.Errorf("bad date = %d %s", resp.Code, resp.Body)
	}
}

func TestLayerRoutes(t *testing.T) {
	e := newTestEnv(t)
	s := e.createSession(t)
	e.poll(t, s.ID, func(b SessionBody) bool { return b.Layers[service.SlotWater].Active })
	base := "/api/v1/sessions/" + s.ID + "/layers/"

	resp := e.api.Put(base+"water/opacity", map[string]any{"opacity": 0.25})
	if resp.Code != http.StatusOK {
		t.Fatalf("opacity = %d %s", resp.Code, resp.Body)
	}
	if b := decode[SessionBody](t, resp.Body.Bytes()); b.Layers[service.SlotWater].Opacity != 0.25 {
		t.Errorf("opacity = %v", b.Layers[service.SlotWater].Opacity)
	}

	b := decode[SessionBody](t, e.api.Put(base+"water/visible", map[string]any{"visible": false}).Body.Bytes())
	if b.Layers[service.SlotWater].Active {
		t.Error("water still visible")
	}
	b = decode[SessionBody](t, e.api.Put(base+"water/visible", map[string]any{"visible": true}).Body.Bytes())
	if b.Layers[service.SlotWater].Source.MapID != "default" {
		t.Errorf("restored = %+v", b.Layers[service.SlotWater])
	}

	if resp := e.api.Put(base+"lakes/opacity", map[string]any{"opacity": 1}); resp.Code != http.StatusUnprocessableEntity {
		t.Errorf("unknown layer = %d", resp.Code)
	}
}

func TestExamples(t *testing.T) {
	e := newTestEnv(t)
	s := e.createSession(t)
	base := "/api/v1/sessions/" + s.ID

	examples := decode[[]service.Example](t, e.api.Get("/api/v1/examples").Body.Bytes())
	if len(examples) != 4 {
		t.Fatalf("examples = %+v", examples)
	}
	if resp := e.api.Post(base + "/examples/example_3"); resp.Code != http.StatusOK {
		t.Fatalf("load example = %d %s", resp.Code, resp.Body)
	}
	e.poll(t, s.ID, func(b SessionBody) bool { return b.Layers[service.SlotWater].Source.MapID == "example_3" })

	if resp := e.api.Post(base + "/examples/nope"); resp.Code != http.StatusNotFound {
		t.Errorf("unknown example = %d", resp.Code)
	}

	e.api.Post(base + "/climatology")
	e.poll(t, s.ID, func(b SessionBody) bool { return b.ExampleMonth == 1 })
	if resp := e.api.Put(base + "/climatology/7"); resp.Code != http.StatusOK {
		t.Fatalf("show month = %d %s", resp.Code, resp.Body)
	}
	b := e.poll(t, s.ID, func(b SessionBody) bool { return b.ExampleMonth == 7 })
	if b.Layers[service.SlotWater].Source.MapID != "month-7" {
		t.Errorf("water = %+v", b.Layers[service.SlotWater])
	}
}

const polygon = `{"type":"Polygon","coordinates":[[[104,11],[104.5,11],[104.5,11.5],[104,11.5],[104,11]]]}`

func TestPolygonExport(t *testing.T) {
	e := newTestEnv(t)
	s := e.createSession(t)
	base := "/api/v1/sessions/" + s.ID

	if resp := e.api.Post(base+"/export", map[string]any{}); resp.Code != http.StatusConflict {
		t.Errorf("export with nothing selected = %d", resp.Code)
	}

	e.api.Put(base+"/selection/mode", map[string]any{"mode": "polygon"})
	resp := e.api.Put(base+"/selection/polygon", strings.NewReader(polygon))
	if resp.Code != http.StatusOK {
		t.Fatalf("polygon = %d %s", resp.Code, resp.Body)
	}
	pb := decode[PolygonBody](t, resp.Body.Bytes())
	if !pb.Accepted || !pb.Session.ExportEnabled || pb.Session.PolygonArea <= 0 {
		t.Fatalf("polygon body = %+v", pb)
	}
	got := e.api.Get("/api/v1/sessions/" + s.ID)
	links := strings.Join(got.Header().Values("Link"), ",")
	for _, want := range []string{`rel="export"; method="POST"`, `rel="clear-polygon"`, `rel="self"`} {
		if !strings.Contains(links, want) {
			t.Errorf("missing %s in %s", want, links)
		}
	}

	resp = e.api.Post(base+"/export", map[string]any{"name": "mekong"})
	if resp.Code != http.StatusAccepted {
		t.Fatalf("export = %d %s", resp.Code, resp.Body)
	}
	b := e.poll(t, s.ID, func(b SessionBody) bool { return len(b.Export.Links) == 1 })
	if b.Export.Links[0].URL != "https://downloads.example/mekong.zip" {
		t.Errorf("link = %+v", b.Export.Links[0])
	}

	md := e.api.Get(base + "/export/metadata")
	if md.Code != http.StatusOK || md.Header().Get("Content-Type") != "text/csv" {
		t.Fatalf("metadata = %d %s", md.Code, md.Header())
	}
	if !strings.Contains(md.Header().Get("Content-Disposition"), "mekong.csv") || !strings.HasPrefix(md.Body.String(), "time_start,") {
		t.Errorf("metadata = %s %q", md.Header().Get("Content-Disposition"), md.Body.String())
	}

	// the ledger write happens off the session loop
	deadline := time.Now().Add(2 * time.Second)
	for {
		page := decode[humastar.PageBody[service.ExportRecord]](t, e.api.Get("/api/v1/exports?session="+s.ID).Body.Bytes())
		if page.Total == 1 {
			if page.Data[0].Path != "drawn" || page.Data[0].Name != "mekong" {
				t.Errorf("record = %+v", page.Data[0])
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("export never recorded")
		}
		time.Sleep(10 * time.Millisecond)
	}

	b = decode[SessionBody](t, e.api.Post(base+"/selection/cancel").Body.Bytes())
	if b.Export.Visible || b.Mode != "none" || b.ExportEnabled {
		t.Errorf("after cancel = %+v", b.Snapshot)
	}
	if resp := e.api.Get(base + "/export/metadata"); resp.Code != http.StatusNotFound {
		t.Errorf("metadata after cancel = %d", resp.Code)
	}
}

func TestMalformedPolygon(t *testing.T) {
	e := newTestEnv(t)
	s := e.createSession(t)
	base := "/api/v1/sessions/" + s.ID
	e.api.Put(base+"/selection/mode", map[string]any{"mode": "polygon"})

	if resp := e.api.Put(base+"/selection/polygon", strings.NewReader(`{"type":"Point","coordinates":[1,2]}`)); resp.Code != http.StatusUnprocessableEntity {
		t.Errorf("point = %d", resp.Code)
	}
	resp := e.api.Put(base+"/selection/polygon", strings.NewReader(`{"type":"Polygon","coordinates":[[[0,0],[1,1]]]}`))
	if pb := decode[PolygonBody](t, resp.Body.Bytes()); pb.Accepted {
		t.Error("degenerate ring accepted")
	}
}

func TestTileSelection(t *testing.T) {
	e := newTestEnv(t)
	s := e.createSession(t)
	base := "/api/v1/sessions/" + s.ID

	if resp := e.api.Put(base+"/selection/mode", map[string]any{"mode": "lasso"}); resp.Code != http.StatusUnprocessableEntity {
		t.Errorf("bad mode = %d", resp.Code)
	}
	e.api.Put(base+"/selection/mode", map[string]any{"mode": "tiles"})
	e.api.Put(base+"/selection/modifier", map[string]any{"held": true})

	for i, lat := range []float64{10, 11} {
		resp := e.api.Post(base+"/selection/clicks", map[string]any{"lat": lat, "lng": 105})
		c := decode[ClickBody](t, resp.Body.Bytes())
		if c.Result != service.ClickAppended {
			t.Errorf("click %d = %s", i, c.Result)
		}
	}
	b := e.poll(t, s.ID, func(b SessionBody) bool {
		return len(b.Regions) == 2 && b.Regions[1].Status == service.RegionReady
	})
	if b.Layers[service.SlotSelectionBase+1].Source.MapID != "tile-11-105" {
		t.Errorf("preview = %+v", b.Layers[service.SlotSelectionBase+1])
	}
	if b.Layers[service.SlotGrid].Source.MapID != "grid-tiles" {
		t.Errorf("grid = %+v", b.Layers[service.SlotGrid])
	}

	e.backend.Fail(waterclient.PathExportSelected, http.StatusInternalServerError)
	e.api.Post(base+"/export", map[string]any{})
	b = e.poll(t, s.ID, func(b SessionBody) bool { return b.Export.Done == 2 })
	if len(b.Export.Links) != 0 {
		t.Errorf("failed exports produced links: %+v", b.Export.Links)
	}
}

func TestUnknownSession(t *testing.T) {
	e := newTestEnv(t)
	for _, path := range []string{"/api/v1/sessions/nope", "/api/v1/sessions/nope/export"} {
		if resp := e.api.Get(path); resp.Code != http.StatusNotFound {
			t.Errorf("%s = %d", path, resp.Code)
		}
	}
	if resp := e.api.Post("/api/v1/sessions/nope/selection/cancel"); resp.Code != http.StatusNotFound {
		t.Errorf("cancel = %d", resp.Code)
	}
}
