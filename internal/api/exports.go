package api

import (
	"context"
	"fmt"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-water/internal/db"
	"github.com/joeblew999/plat-water/internal/humastar"
	"github.com/joeblew999/plat-water/internal/service"
)

// RegisterExport registers the per-session export routes.
func (h *APIHandler) RegisterExport(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "start-export",
		Method:        "POST",
		Path:          "/api/v1/sessions/{id}/export",
		Summary:       "Export the current selection",
		Tags:          []string{"export"},
		DefaultStatus: 202,
	}, h.StartExport)
	huma.Get(api, "/api/v1/sessions/{id}/export", h.GetExport, huma.OperationTags("export"))
	huma.Get(api, "/api/v1/sessions/{id}/export/metadata", h.GetMetadata, huma.OperationTags("export"))
}

// RegisterExports registers the export ledger routes.
func (h *APIHandler) RegisterExports(api huma.API) {
	huma.Get(api, "/api/v1/exports", h.ListExports, huma.OperationTags("exports"))
	huma.Get(api, "/api/v1/exports/summary", h.ExportSummary, huma.OperationTags("exports"))
}

type ExportInput struct {
	SessionInput
	Body struct {
		Name   string                `json:"name,omitempty" doc:"File name, defaults to SurfaceWaterTool_<start>_<end>" example:"mekong_2016"`
		Params *service.ParameterSet `json:"params,omitempty" doc:"Parameters to export with, defaults to those of the displayed layer"`
	}
}

func (h *APIHandler) StartExport(ctx context.Context, input *ExportInput) (*struct{ Body service.ExportPanel }, error) {
	s, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	if err := s.Export(ctx, input.Body.Name, input.Body.Params); err != nil {
		return nil, statusError(err)
	}
	return h.panel(ctx, s)
}

func (h *APIHandler) GetExport(ctx context.Context, input *SessionInput) (*struct{ Body service.ExportPanel }, error) {
	s, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	return h.panel(ctx, s)
}

func (h *APIHandler) panel(ctx context.Context, s *service.Session) (*struct{ Body service.ExportPanel }, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return nil, statusError(err)
	}
	return &struct{ Body service.ExportPanel }{Body: snap.Export}, nil
}

type MetadataOutput struct {
	ContentType        string `header:"Content-Type"`
	ContentDisposition string `header:"Content-Disposition"`
	Body               []byte
}

// GetMetadata serves the metadata CSV of the current export.
func (h *APIHandler) GetMetadata(ctx context.Context, input *SessionInput) (*MetadataOutput, error) {
	s, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return nil, statusError(err)
	}
	md := snap.Export.Metadata
	if md == nil {
		return nil, huma.Error404NotFound("no export in progress")
	}
	return &MetadataOutput{
		ContentType:        "text/csv",
		ContentDisposition: fmt.Sprintf("attachment; filename=%q", md.Name),
		Body:               []byte(md.Content),
	}, nil
}

type ListExportsInput struct {
	Session string `query:"session" doc:"Only exports of this session"`
	Failed  string `query:"failed" enum:"true,false" doc:"Only failed (true) or successful (false) exports"`
	Offset  int    `query:"offset" minimum:"0" default:"0" doc:"Items to skip"`
	Limit   int    `query:"limit" minimum:"1" maximum:"500" default:"50" doc:"Page size"`
}

func (h *APIHandler) ListExports(ctx context.Context, input *ListExportsInput) (*struct {
	Body humastar.PageBody[service.ExportRecord]
}, error) {
	if h.svc.Exports == nil {
		return nil, huma.Error503ServiceUnavailable("Export ledger not available")
	}
	f := db.Filter{SessionID: input.Session, Limit: input.Limit, Offset: input.Offset}
	if input.Failed != "" {
		failed := input.Failed == "true"
		f.Failed = &failed
	}
	recs, total, err := h.svc.Exports.List(ctx, f)
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to list exports", err)
	}
	return &struct {
		Body humastar.PageBody[service.ExportRecord]
	}{Body: humastar.PageBody[service.ExportRecord]{
		Total: total, Offset: input.Offset, Limit: input.Limit, Data: recs,
	}}, nil
}

func (h *APIHandler) ExportSummary(ctx context.Context, input *humastar.EmptyInput) (*struct{ Body []db.PathSummary }, error) {
	if h.svc.Exports == nil {
		return nil, huma.Error503ServiceUnavailable("Export ledger not available")
	}
	sum, err := h.svc.Exports.Summary(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to summarise exports", err)
	}
	return &struct{ Body []db.PathSummary }{Body: sum}, nil
}
