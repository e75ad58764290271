package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-water/internal/humastar"
	"github.com/joeblew999/plat-water/internal/service"
)

// InfoHandler serves the service description.
type InfoHandler struct {
	info InfoBody
}

// NewInfoHandler describes the running service.
func NewInfoHandler(backendURL, dataDir string, ledger bool, limits service.Limits) *InfoHandler {
	return &InfoHandler{info: InfoBody{
		Name:       "plat-water",
		Version:    "0.1.0",
		BackendURL: backendURL,
		DataDir:    dataDir,
		Ledger:     ledger,
		Limits: LimitsBody{
			MinPeriodDays:      limits.MinPeriodDays,
			MinClimatologyDays: limits.MinClimatologyDays,
			MaxSelection:       limits.MaxSelection,
			SoftAreaKm2:        limits.SoftAreaKm2,
			HardAreaKm2:        limits.HardAreaKm2,
		},
		Layers: service.LayerNames(),
	}}
}

func (h *InfoHandler) RegisterRoutes(api huma.API) {
	huma.Get(api, "/api/v1/info", h.GetInfo, huma.OperationTags("health"))
}

type LimitsBody struct {
	MinPeriodDays      int     `json:"minPeriodDays" doc:"Shortest analysis period"`
	MinClimatologyDays int     `json:"minClimatologyDays" doc:"Shortest period for climatology"`
	MaxSelection       int     `json:"maxSelection" doc:"Most regions that can be selected"`
	SoftAreaKm2        float64 `json:"softAreaKm2" doc:"Area above which a warning is shown"`
	HardAreaKm2        float64 `json:"hardAreaKm2" doc:"Area above which export is blocked"`
}

type InfoBody struct {
	Name       string     `json:"name" doc:"Service name"`
	Version    string     `json:"version" doc:"Service version"`
	BackendURL string     `json:"backend_url" doc:"Analysis backend"`
	DataDir    string     `json:"data_dir" doc:"Data directory path"`
	Ledger     bool       `json:"ledger" doc:"Whether the export ledger is available"`
	Limits     LimitsBody `json:"limits" doc:"Selection and period limits"`
	Layers     []string   `json:"layers" doc:"Overlay layer names"`
}

func (h *InfoHandler) GetInfo(ctx context.Context, input *humastar.EmptyInput) (*struct{ Body InfoBody }, error) {
	return &struct{ Body InfoBody }{Body: h.info}, nil
}
