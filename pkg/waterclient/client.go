// Package waterclient talks to the surface water analysis backend.
//
// Every endpoint is a GET that answers JSON. Map endpoints return an Earth
// Engine style map id and token which the client turns into a tile URL
// template; export endpoints return a single download URL string.
package waterclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"golang.org/x/sync/semaphore"
)

// Endpoint paths served by the backend.
const (
	PathBackground     = "/get_background"
	PathDefault        = "/get_default"
	PathWaterMap       = "/get_water_map"
	PathExampleMap     = "/get_example_map"
	PathExampleMonths  = "/get_example_months"
	PathTilesMap       = "/get_tiles_map"
	PathAdmBoundsMap   = "/get_adm_bounds_map"
	PathSelectTile     = "/select_tile"
	PathSelectAdmBound = "/select_adm_bounds"
	PathExportDrawn    = "/export_drawn"
	PathExportSelected = "/export_selected"
)

// DefaultTileBase is the tile host used when Options.TileBase is empty.
const DefaultTileBase = "https://earthengine.googleapis.com"

// TileSource identifies a rendered raster layer.
type TileSource struct {
	MapID string `json:"mapId" doc:"Backend map identifier"`
	Token string `json:"token" doc:"Backend map token"`
	URL   string `json:"url" doc:"Tile URL template with {z}/{x}/{y} placeholders"`
}

// IsZero reports whether the source is empty.
func (t TileSource) IsZero() bool {
	return t.MapID == "" && t.URL == ""
}

// Background holds the static layers loaded once per viewer.
type Background struct {
	AoIFill   TileSource
	AoIBorder TileSource
	HAND      TileSource
}

// AdminBoundary is a selected administrative unit and its area.
type AdminBoundary struct {
	TileSource
	AreaKm2 float64
}

// RegionKind names the grid a selected region comes from.
type RegionKind string

const (
	RegionTiles       RegionKind = "Tiles"
	RegionAdminBounds RegionKind = "Adm. bounds"
)

// QueryEncoder is implemented by parameter sets that can be sent to the backend.
type QueryEncoder interface {
	Query() url.Values
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: backend returned %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

// Options configures a Client.
type Options struct {
	// TileBase is prefixed to "/map/<id>/{z}/{x}/{y}?token=<token>".
	TileBase string
	// Timeout bounds each request. Zero means 60 seconds.
	Timeout time.Duration
	// MaxConcurrent bounds in-flight requests. Zero means 8.
	MaxConcurrent int64
	// HTTPClient overrides the default client.
	HTTPClient *http.Client
	// OnRequest is called after every request with its endpoint, duration and error.
	OnRequest func(endpoint string, d time.Duration, err error)
}

// Client is a backend client. It is safe for concurrent use.
type Client struct {
	baseURL  string
	tileBase string
	http     *http.Client
	sem      *semaphore.Weighted
	observe  func(string, time.Duration, error)
}

// New creates a client for the backend at baseURL.
func New(baseURL string, opts Options) *Client {
	if opts.TileBase == "" {
		opts.TileBase = DefaultTileBase
	}
	if opts.Timeout == 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 8
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		tileBase: strings.TrimRight(opts.TileBase, "/"),
		http:     hc,
		sem:      semaphore.NewWeighted(opts.MaxConcurrent),
		observe:  opts.OnRequest,
	}
}

// TileURL builds the tile template for a map id and token.
func (c *Client) TileURL(mapID, token string) string {
	return fmt.Sprintf("%s/map/%s/{z}/{x}/{y}?token=%s", c.tileBase, mapID, url.QueryEscape(token))
}

type mapResponse struct {
	MapID string `json:"eeMapId"`
	Token string `json:"eeToken"`
}

func (c *Client) source(m mapResponse) TileSource {
	return TileSource{MapID: m.MapID, Token: m.Token, URL: c.TileURL(m.MapID, m.Token)}
}

// Background fetches the area-of-interest and elevation mask layers.
func (c *Client) Background(ctx context.Context) (Background, error) {
	var resp struct {
		AoIMapID       string `json:"AoImapId"`
		AoIToken       string `json:"AoItoken"`
		AoIBorderMapID string `json:"AoIborderMapId"`
		AoIBorderToken string `json:"AoIborderToken"`
		HANDMapID      string `json:"HANDmapId"`
		HANDToken      string `json:"HANDtoken"`
	}
	if err := c.get(ctx, PathBackground, nil, &resp); err != nil {
		return Background{}, err
	}
	bg := Background{
		AoIFill: c.source(mapResponse{resp.AoIMapID, resp.AoIToken}),
		HAND:    c.source(mapResponse{resp.HANDMapID, resp.HANDToken}),
	}
	if resp.AoIBorderMapID != "" {
		bg.AoIBorder = c.source(mapResponse{resp.AoIBorderMapID, resp.AoIBorderToken})
	}
	return bg, nil
}

// DefaultWaterMap fetches the precomputed initial water layer.
func (c *Client) DefaultWaterMap(ctx context.Context) (TileSource, error) {
	return c.getMap(ctx, PathDefault, nil)
}

// WaterMap fetches a water layer computed for the given parameters.
func (c *Client) WaterMap(ctx context.Context, p QueryEncoder) (TileSource, error) {
	return c.getMap(ctx, PathWaterMap, p.Query())
}

// ExampleMap fetches a curated example layer.
func (c *Client) ExampleMap(ctx context.Context, exampleID string) (TileSource, error) {
	return c.getMap(ctx, PathExampleMap, url.Values{"example_id": {exampleID}})
}

// ExampleMonths fetches the twelve monthly layers of the climatology example, keyed 1-12.
func (c *Client) ExampleMonths(ctx context.Context) (map[int]TileSource, error) {
	var resp map[string]mapResponse
	if err := c.get(ctx, PathExampleMonths, nil, &resp); err != nil {
		return nil, err
	}
	out := make(map[int]TileSource, len(resp))
	for k, m := range resp {
		month, err := strconv.Atoi(k)
		if err != nil || month < 1 || month > 12 {
			return nil, fmt.Errorf("%s: unexpected month key %q", PathExampleMonths, k)
		}
		out[month] = c.source(m)
	}
	return out, nil
}

// GridMap fetches the outline overlay of the selectable regions of a kind.
func (c *Client) GridMap(ctx context.Context, kind RegionKind) (TileSource, error) {
	if kind == RegionTiles {
		return c.getMap(ctx, PathTilesMap, nil)
	}
	return c.getMap(ctx, PathAdmBoundsMap, nil)
}

// SelectTile fetches the preview of the grid tile under a point.
func (c *Client) SelectTile(ctx context.Context, at orb.Point) (TileSource, error) {
	return c.getMap(ctx, PathSelectTile, pointQuery(at))
}

// SelectAdminBoundary fetches the administrative unit under a point.
func (c *Client) SelectAdminBoundary(ctx context.Context, at orb.Point) (AdminBoundary, error) {
	var resp struct {
		mapResponse
		Size float64 `json:"size"`
	}
	if err := c.get(ctx, PathSelectAdmBound, pointQuery(at), &resp); err != nil {
		return AdminBoundary{}, err
	}
	return AdminBoundary{TileSource: c.source(resp.mapResponse), AreaKm2: resp.Size}, nil
}

// ExportDrawn requests a download URL for a drawn polygon.
func (c *Client) ExportDrawn(ctx context.Context, p QueryEncoder, ring orb.Ring, name string) (string, error) {
	coords := make([][2]float64, len(ring))
	for i, pt := range ring {
		coords[i] = [2]float64{pt.Lon(), pt.Lat()}
	}
	raw, err := json.Marshal(coords)
	if err != nil {
		return "", fmt.Errorf("encoding polygon: %w", err)
	}
	q := p.Query()
	q.Set("coords", string(raw))
	q.Set("export_name", name)

	var link string
	if err := c.get(ctx, PathExportDrawn, q, &link); err != nil {
		return "", err
	}
	return link, nil
}

// ExportSelected requests a download URL for one previously selected region.
func (c *Client) ExportSelected(ctx context.Context, p QueryEncoder, kind RegionKind, at orb.Point, name string) (string, error) {
	q := p.Query()
	for k, v := range pointQuery(at) {
		q[k] = v
	}
	q.Set("export_name", name)
	q.Set("region_selection", string(kind))

	var link string
	if err := c.get(ctx, PathExportSelected, q, &link); err != nil {
		return "", err
	}
	return link, nil
}

func pointQuery(at orb.Point) url.Values {
	return url.Values{
		"lat": {strconv.FormatFloat(at.Lat(), 'f', -1, 64)},
		"lng": {strconv.FormatFloat(at.Lon(), 'f', -1, 64)},
	}
}

func (c *Client) getMap(ctx context.Context, path string, q url.Values) (TileSource, error) {
	var m mapResponse
	if err := c.get(ctx, path, q, &m); err != nil {
		return TileSource{}, err
	}
	if m.MapID == "" {
		return TileSource{}, fmt.Errorf("%s: response has no map id", path)
	}
	return c.source(m), nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) (err error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer c.sem.Release(1)

	start := time.Now()
	if c.observe != nil {
		defer func() { c.observe(path, time.Since(start), err) }()
	}

	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("%s: building request: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: reading response: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Endpoint: path, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s: parsing response: %w", path, err)
	}
	return nil
}
