package viewer

import (
	"fmt"

	"github.com/joeblew999/plat-water/internal/humastar"
	"github.com/joeblew999/plat-water/internal/service"
)

// DownloadPanelData is the download-panel fragment input.
type DownloadPanelData struct {
	service.ExportPanel
	MetadataHref string
}

// patch re-renders every session fragment and the page signals.
func (h *Handler) patch(sse humastar.SSE, snap service.Snapshot) {
	sse.Patch(h.Renderer.MustRender("warning", snap.Warning), "#warning")
	sse.Patch(h.renderLayers(snap.Layers), "#layer-list")
	sse.Patch(h.renderRegions(snap.Regions), "#region-list")
	sse.Patch(h.Renderer.MustRender("selection-summary", snap), "#selection-summary")
	sse.Patch(h.Renderer.MustRender("download-panel", DownloadPanelData{
		ExportPanel:  snap.Export,
		MetadataHref: fmt.Sprintf("/api/v1/sessions/%s/export/metadata", snap.ID),
	}), "#download-panel")
	sse.Signals(map[string]any{
		"mode":          snap.Mode,
		"drawing":       snap.Drawing,
		"exportEnabled": snap.ExportEnabled,
		"pending":       snap.Pending,
		"exampleMonth":  snap.ExampleMonth,
		"layers":        snap.Layers,
	})
}

func (h *Handler) renderLayers(slots []service.SlotView) string {
	items := make([]any, 0, len(slots))
	for _, sv := range slots {
		if sv.Layer == "" {
			continue
		}
		items = append(items, sv)
	}
	return h.RenderList("layer-row", items, "No layers", "Waiting for the analysis backend")
}

func (h *Handler) renderRegions(regions []service.Region) string {
	items := make([]any, len(regions))
	for i, r := range regions {
		items[i] = r
	}
	return h.RenderList("region-row", items, "No regions selected", "Pick a selection mode and click the map")
}
