package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-water/internal/service"
)

// RegisterSelection registers region selection routes.
func (h *APIHandler) RegisterSelection(api huma.API) {
	huma.Put(api, "/api/v1/sessions/{id}/selection/mode", h.SetMode, huma.OperationTags("selection"))
	huma.Put(api, "/api/v1/sessions/{id}/selection/modifier", h.SetModifier, huma.OperationTags("selection"))
	huma.Post(api, "/api/v1/sessions/{id}/selection/clicks", h.Click, huma.OperationTags("selection"))
	huma.Post(api, "/api/v1/sessions/{id}/selection/draw", h.Draw, huma.OperationTags("selection"))
	huma.Put(api, "/api/v1/sessions/{id}/selection/polygon", h.PutPolygon, huma.OperationTags("selection"))
	huma.Delete(api, "/api/v1/sessions/{id}/selection/polygon", h.DeletePolygon, huma.OperationTags("selection"))
	huma.Post(api, "/api/v1/sessions/{id}/selection/cancel", h.Cancel, huma.OperationTags("selection"))
}

func (h *APIHandler) SetMode(ctx context.Context, input *struct {
	SessionInput
	Body struct {
		Mode string `json:"mode" enum:"none,tiles,adm_bounds,polygon" doc:"Selection mode"`
	}
}) (*struct{ Body SessionBody }, error) {
	s, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	m, err := service.ParseMode(input.Body.Mode)
	if err != nil {
		return nil, huma.Error422UnprocessableEntity(err.Error())
	}
	if err := s.SetMode(ctx, m); err != nil {
		return nil, statusError(err)
	}
	return h.snapshot(ctx, s)
}

func (h *APIHandler) SetModifier(ctx context.Context, input *struct {
	SessionInput
	Body struct {
		Held bool `json:"held" doc:"Whether the additive modifier key is held"`
	}
}) (*struct{ Body SessionBody }, error) {
	s, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	if err := s.SetModifier(ctx, input.Body.Held); err != nil {
		return nil, statusError(err)
	}
	return h.snapshot(ctx, s)
}

// ClickBody reports how a map click changed the selection.
type ClickBody struct {
	Result  service.ClickResult `json:"result" enum:"ignored,replaced,appended" doc:"Effect of the click"`
	Session SessionBody         `json:"session" doc:"Session state after the click"`
}

func (h *APIHandler) Click(ctx context.Context, input *struct {
	SessionInput
	Body struct {
		Lat float64 `json:"lat" minimum:"-90" maximum:"90" doc:"Latitude" example:"11.5"`
		Lng float64 `json:"lng" minimum:"-180" maximum:"180" doc:"Longitude" example:"104.9"`
	}
}) (*struct{ Body ClickBody }, error) {
	s, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	r, err := s.Click(ctx, input.Body.Lat, input.Body.Lng)
	if err != nil {
		return nil, statusError(err)
	}
	out, err := h.snapshot(ctx, s)
	if err != nil {
		return nil, err
	}
	return &struct{ Body ClickBody }{Body: ClickBody{Result: r, Session: out.Body}}, nil
}

func (h *APIHandler) Draw(ctx context.Context, input *SessionInput) (*struct{ Body SessionBody }, error) {
	s, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	if err := s.Draw(ctx); err != nil {
		return nil, statusError(err)
	}
	return h.snapshot(ctx, s)
}

// PolygonBody reports whether a drawn polygon was taken.
type PolygonBody struct {
	Accepted bool        `json:"accepted" doc:"False when drawing was off or the ring was degenerate"`
	Session  SessionBody `json:"session" doc:"Session state after the drawing"`
}

// PutPolygon takes a finished drawing as GeoJSON (geometry, feature or
// feature collection).
func (h *APIHandler) PutPolygon(ctx context.Context, input *struct {
	SessionInput
	RawBody []byte `contentType:"application/geo+json"`
}) (*struct{ Body PolygonBody }, error) {
	s, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	ring, err := service.ParsePolygonRing(input.RawBody)
	if err != nil {
		return nil, huma.Error422UnprocessableEntity(err.Error())
	}
	ok, err := s.CompletePolygon(ctx, ring)
	if err != nil {
		return nil, statusError(err)
	}
	out, err := h.snapshot(ctx, s)
	if err != nil {
		return nil, err
	}
	return &struct{ Body PolygonBody }{Body: PolygonBody{Accepted: ok, Session: out.Body}}, nil
}

func (h *APIHandler) DeletePolygon(ctx context.Context, input *SessionInput) (*struct{ Body SessionBody }, error) {
	s, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	if err := s.ClearPolygon(ctx); err != nil {
		return nil, statusError(err)
	}
	return h.snapshot(ctx, s)
}

func (h *APIHandler) Cancel(ctx context.Context, input *SessionInput) (*struct{ Body SessionBody }, error) {
	s, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	if err := s.Cancel(ctx); err != nil {
		return nil, statusError(err)
	}
	return h.snapshot(ctx, s)
}
