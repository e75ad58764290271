// Package watertest runs an in-process stand-in for the analysis backend.
package watertest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"

	"github.com/joeblew999/plat-water/pkg/waterclient"
)

// Server answers every backend endpoint with deterministic map IDs:
// "water-<start>-<end>", "tile-<lat>-<lng>", "adm-<lat>-<lng>", "grid-tiles",
// "month-<n>" and so on. Export links embed the export name and point.
type Server struct {
	*httptest.Server

	mu      sync.Mutex
	calls   map[string]int
	fail    map[string]int
	admSize float64
}

// New starts a server. Close it when done.
func New() *Server {
	s := &Server{calls: map[string]int{}, fail: map[string]int{}, admSize: 5000}
	mux := http.NewServeMux()
	mapReply := func(path string, id func(r *http.Request) string) {
		mux.HandleFunc(path, s.wrap(path, func(w http.ResponseWriter, r *http.Request) any {
			return map[string]string{"eeMapId": id(r), "eeToken": "tok"}
		}))
	}
	fixed := func(id string) func(*http.Request) string {
		return func(*http.Request) string { return id }
	}
	point := func(prefix string) func(*http.Request) string {
		return func(r *http.Request) string {
			return fmt.Sprintf("%s-%s-%s", prefix, r.FormValue("lat"), r.FormValue("lng"))
		}
	}

	mux.HandleFunc(waterclient.PathBackground, s.wrap(waterclient.PathBackground, func(w http.ResponseWriter, r *http.Request) any {
		return map[string]string{
			"AoImapId": "aoi", "AoItoken": "tok",
			"AoIborderMapId": "aoi-border", "AoIborderToken": "tok",
			"HANDmapId": "hand", "HANDtoken": "tok",
		}
	}))
	mapReply(waterclient.PathDefault, fixed("default"))
	mapReply(waterclient.PathWaterMap, func(r *http.Request) string {
		return fmt.Sprintf("water-%s-%s", r.FormValue("time_start"), r.FormValue("time_end"))
	})
	mapReply(waterclient.PathExampleMap, func(r *http.Request) string { return r.FormValue("example_id") })
	mapReply(waterclient.PathTilesMap, fixed("grid-tiles"))
	mapReply(waterclient.PathAdmBoundsMap, fixed("grid-adm"))
	mapReply(waterclient.PathSelectTile, point("tile"))

	mux.HandleFunc(waterclient.PathExampleMonths, s.wrap(waterclient.PathExampleMonths, func(w http.ResponseWriter, r *http.Request) any {
		out := map[string]map[string]string{}
		for m := 1; m <= 12; m++ {
			out[strconv.Itoa(m)] = map[string]string{"eeMapId": fmt.Sprintf("month-%d", m), "eeToken": "tok"}
		}
		return out
	}))
	mux.HandleFunc(waterclient.PathSelectAdmBound, s.wrap(waterclient.PathSelectAdmBound, func(w http.ResponseWriter, r *http.Request) any {
		s.mu.Lock()
		size := s.admSize
		s.mu.Unlock()
		return map[string]any{"eeMapId": point("adm")(r), "eeToken": "tok", "size": size}
	}))
	mux.HandleFunc(waterclient.PathExportDrawn, s.wrap(waterclient.PathExportDrawn, func(w http.ResponseWriter, r *http.Request) any {
		return fmt.Sprintf("https://downloads.example/%s.zip", r.FormValue("export_name"))
	}))
	mux.HandleFunc(waterclient.PathExportSelected, s.wrap(waterclient.PathExportSelected, func(w http.ResponseWriter, r *http.Request) any {
		return fmt.Sprintf("https://downloads.example/%s-%s_%s.zip", r.FormValue("export_name"), r.FormValue("lat"), r.FormValue("lng"))
	}))

	s.Server = httptest.NewServer(mux)
	return s
}

func (s *Server) wrap(path string, reply func(http.ResponseWriter, *http.Request) any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls[path]++
		status := s.fail[path]
		s.mu.Unlock()
		if status != 0 {
			http.Error(w, "computation failed", status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(reply(w, r))
	}
}

// Client returns a client for the server.
func (s *Server) Client(opts waterclient.Options) *waterclient.Client {
	if opts.TileBase == "" {
		opts.TileBase = "https://tiles.example"
	}
	return waterclient.New(s.URL, opts)
}

// Fail makes path answer with status until reset with status 0.
func (s *Server) Fail(path string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail[path] = status
}

// SetAdminSize sets the area reported for administrative units.
func (s *Server) SetAdminSize(km2 float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.admSize = km2
}

// Calls returns how often path was requested.
func (s *Server) Calls(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[path]
}
