// Package api defines the Huma REST routes of the viewer service.
package api

import (
	"context"
	"errors"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-water/internal/db"
	"github.com/joeblew999/plat-water/internal/humastar"
	"github.com/joeblew999/plat-water/internal/service"
)

// ExportStore is the read side of the export ledger.
type ExportStore interface {
	List(ctx context.Context, f db.Filter) ([]service.ExportRecord, int, error)
	Summary(ctx context.Context) ([]db.PathSummary, error)
}

// Services holds the dependencies of the API handlers.
type Services struct {
	Sessions *service.SessionManager
	Examples []service.Example
	Exports  ExportStore // nil when the ledger is disabled
}

// Types

type SessionInput struct {
	ID string `path:"id" doc:"Session ID" example:"6f1c2a4e-0b7d-4a53-9d43-3f0f1e3f8b21"`
}

type MessageBody struct {
	Message string `json:"message" doc:"Result message"`
}

type HealthBody struct {
	Status   string `json:"status" doc:"Health status" example:"ok"`
	Version  string `json:"version" doc:"API version" example:"1.0.0"`
	Sessions int    `json:"sessions" doc:"Open viewer sessions"`
}

// SessionBody is a session snapshot with its state-dependent actions.
type SessionBody struct {
	service.Snapshot
}

var sessionActions = struct {
	refresh, export, cancel, clearPolygon, metadata, draw humastar.ActionDef
}{
	refresh:      humastar.ActionDef{Rel: "refresh", Pattern: "/api/v1/sessions/%s/refresh", Method: "POST", Title: "Update water map", Schema: "/schemas/ParameterSet.json"},
	export:       humastar.ActionDef{Rel: "export", Pattern: "/api/v1/sessions/%s/export", Method: "POST", Title: "Export selection"},
	cancel:       humastar.ActionDef{Rel: "cancel", Pattern: "/api/v1/sessions/%s/selection/cancel", Method: "POST", Title: "Cancel selection"},
	clearPolygon: humastar.ActionDef{Rel: "clear-polygon", Pattern: "/api/v1/sessions/%s/selection/polygon", Method: "DELETE", Title: "Remove drawn polygon"},
	metadata:     humastar.ActionDef{Rel: "metadata", Pattern: "/api/v1/sessions/%s/export/metadata", Method: "GET", Title: "Download metadata"},
	draw:         humastar.ActionDef{Rel: "draw", Pattern: "/api/v1/sessions/%s/selection/draw", Method: "POST", Title: "Draw a new polygon"},
}

// Actions lists what the client can do next given the session state.
func (b SessionBody) Actions() []humastar.Action {
	acts := []humastar.Action{sessionActions.refresh.For(b.ID)}
	if b.ExportEnabled {
		acts = append(acts, sessionActions.export.For(b.ID))
	}
	if b.Mode != service.ModeNone.String() || b.Export.Visible {
		acts = append(acts, sessionActions.cancel.For(b.ID))
	}
	if b.Mode == service.ModePolygonDraw.String() && !b.Drawing {
		acts = append(acts, sessionActions.draw.For(b.ID))
	}
	if b.Polygon != nil {
		acts = append(acts, sessionActions.clearPolygon.For(b.ID))
	}
	if b.Export.Metadata != nil {
		acts = append(acts, sessionActions.metadata.For(b.ID))
	}
	return acts
}

// APIHandler holds all REST API handlers. Methods named Register* are
// auto-discovered by huma.AutoRegister.
type APIHandler struct {
	svc *Services
}

func NewAPIHandler(svc *Services) *APIHandler {
	return &APIHandler{svc: svc}
}

// RegisterRoutes registers every REST route on api.
func RegisterRoutes(api huma.API, svc *Services) {
	huma.AutoRegister(api, NewAPIHandler(svc))
}

// RegisterHealth registers health check routes.
func (h *APIHandler) RegisterHealth(api huma.API) {
	huma.Get(api, "/health", h.GetHealth, huma.OperationTags("health"))
}

func (h *APIHandler) GetHealth(ctx context.Context, input *humastar.EmptyInput) (*struct{ Body HealthBody }, error) {
	return &struct{ Body HealthBody }{Body: HealthBody{
		Status:   "ok",
		Version:  "1.0.0",
		Sessions: len(h.svc.Sessions.List()),
	}}, nil
}

// session resolves the path session or a 404.
func (h *APIHandler) session(id string) (*service.Session, error) {
	s, err := h.svc.Sessions.Get(id)
	if err != nil {
		return nil, statusError(err)
	}
	return s, nil
}

// snapshot returns the session body after an operation.
func (h *APIHandler) snapshot(ctx context.Context, s *service.Session) (*struct{ Body SessionBody }, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return nil, statusError(err)
	}
	return &struct{ Body SessionBody }{Body: SessionBody{snap}}, nil
}

// statusError maps domain errors to HTTP errors.
func statusError(err error) error {
	var pe *service.ParamError
	switch {
	case err == nil:
		return nil
	case errors.Is(err, service.ErrSessionNotFound), errors.Is(err, service.ErrUnknownExample):
		return huma.Error404NotFound(err.Error())
	case errors.Is(err, service.ErrSessionClosed):
		return huma.Error410Gone(err.Error())
	case errors.Is(err, service.ErrNothingToExport):
		return huma.Error409Conflict(err.Error())
	case errors.As(err, &pe):
		return huma.Error422UnprocessableEntity(err.Error(), pe)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return huma.Error503ServiceUnavailable("session busy", err)
	default:
		return huma.Error500InternalServerError("internal error", err)
	}
}

// SessionSummary is one entry of the session list.
type SessionSummary struct {
	ID      string    `json:"id" doc:"Session ID"`
	Created time.Time `json:"created" doc:"Creation time"`
}
