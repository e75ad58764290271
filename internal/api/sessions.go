package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-water/internal/humastar"
	"github.com/joeblew999/plat-water/internal/service"
)

// RegisterSessions registers session lifecycle and parameter routes.
func (h *APIHandler) RegisterSessions(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-session",
		Method:        "POST",
		Path:          "/api/v1/sessions",
		Summary:       "Open a viewer session",
		Tags:          []string{"sessions"},
		DefaultStatus: 201,
	}, h.CreateSession)
	huma.Get(api, "/api/v1/sessions", h.ListSessions, huma.OperationTags("sessions"))
	huma.Get(api, "/api/v1/sessions/{id}", h.GetSession, huma.OperationTags("sessions"))
	huma.Delete(api, "/api/v1/sessions/{id}", h.DeleteSession, huma.OperationTags("sessions"))
	huma.Post(api, "/api/v1/sessions/{id}/refresh", h.Refresh, huma.OperationTags("sessions"))
}

// RegisterLayers registers overlay opacity and visibility routes.
func (h *APIHandler) RegisterLayers(api huma.API) {
	huma.Put(api, "/api/v1/sessions/{id}/layers/{layer}/opacity", h.SetOpacity, huma.OperationTags("layers"))
	huma.Put(api, "/api/v1/sessions/{id}/layers/{layer}/visible", h.SetVisible, huma.OperationTags("layers"))
}

// RegisterExamples registers the curated example routes.
func (h *APIHandler) RegisterExamples(api huma.API) {
	huma.Get(api, "/api/v1/examples", h.ListExamples, huma.OperationTags("examples"))
	huma.Post(api, "/api/v1/sessions/{id}/examples/{example}", h.LoadExample, huma.OperationTags("examples"))
	huma.Post(api, "/api/v1/sessions/{id}/climatology", h.LoadClimatology, huma.OperationTags("examples"))
	huma.Put(api, "/api/v1/sessions/{id}/climatology/{month}", h.ShowMonth, huma.OperationTags("examples"))
}

func (h *APIHandler) CreateSession(ctx context.Context, input *humastar.EmptyInput) (*struct{ Body SessionBody }, error) {
	s, err := h.svc.Sessions.Create()
	if err != nil {
		return nil, statusError(err)
	}
	return h.snapshot(ctx, s)
}

func (h *APIHandler) ListSessions(ctx context.Context, input *humastar.EmptyInput) (*struct{ Body []SessionSummary }, error) {
	out := []SessionSummary{}
	for _, s := range h.svc.Sessions.List() {
		out = append(out, SessionSummary{ID: s.ID, Created: s.Created})
	}
	return &struct{ Body []SessionSummary }{Body: out}, nil
}

func (h *APIHandler) GetSession(ctx context.Context, input *SessionInput) (*struct{ Body SessionBody }, error) {
	s, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	return h.snapshot(ctx, s)
}

func (h *APIHandler) DeleteSession(ctx context.Context, input *SessionInput) (*struct{}, error) {
	if err := h.svc.Sessions.Close(input.ID); err != nil {
		return nil, statusError(err)
	}
	return nil, nil
}

// RefreshBody reports what a parameter submission did.
type RefreshBody struct {
	Decision service.RefreshDecision `json:"decision" enum:"unchanged,climatology_too_short,period_too_short,issued" doc:"Outcome of the refresh rules"`
	Warning  string                  `json:"warning" doc:"Warning shown to the user, empty when none"`
}

func (h *APIHandler) Refresh(ctx context.Context, input *struct {
	SessionInput
	Body service.ParameterSet
}) (*struct{ Body RefreshBody }, error) {
	s, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	d, err := s.Refresh(ctx, input.Body)
	if err != nil {
		return nil, statusError(err)
	}
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return nil, statusError(err)
	}
	return &struct{ Body RefreshBody }{Body: RefreshBody{Decision: d, Warning: snap.Warning}}, nil
}

type LayerInput struct {
	SessionInput
	Layer string `path:"layer" enum:"AoI_fill,AoI_border,HAND,water,tiles,adm_bounds,selected_region" doc:"Layer name"`
}

func (i *LayerInput) kind() (service.LayerKind, error) {
	k, err := service.ParseLayerKind(i.Layer)
	if err != nil {
		return 0, huma.Error422UnprocessableEntity(err.Error())
	}
	return k, nil
}

func (h *APIHandler) SetOpacity(ctx context.Context, input *struct {
	LayerInput
	Body struct {
		Opacity float64 `json:"opacity" doc:"Opacity, clamped to [0,1]" example:"0.6"`
	}
}) (*struct{ Body SessionBody }, error) {
	s, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	k, err := input.kind()
	if err != nil {
		return nil, err
	}
	if err := s.SetOpacity(ctx, k, input.Body.Opacity); err != nil {
		return nil, statusError(err)
	}
	return h.snapshot(ctx, s)
}

func (h *APIHandler) SetVisible(ctx context.Context, input *struct {
	LayerInput
	Body struct {
		Visible bool `json:"visible" doc:"Show the layer from its last source, or hide it"`
	}
}) (*struct{ Body SessionBody }, error) {
	s, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	k, err := input.kind()
	if err != nil {
		return nil, err
	}
	if err := s.Toggle(ctx, k, input.Body.Visible); err != nil {
		return nil, statusError(err)
	}
	return h.snapshot(ctx, s)
}

func (h *APIHandler) ListExamples(ctx context.Context, input *humastar.EmptyInput) (*struct{ Body []service.Example }, error) {
	out := append([]service.Example{}, h.svc.Examples...)
	return &struct{ Body []service.Example }{Body: out}, nil
}

func (h *APIHandler) LoadExample(ctx context.Context, input *struct {
	SessionInput
	Example string `path:"example" doc:"Example ID" example:"example_1"`
}) (*struct{ Body SessionBody }, error) {
	s, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	if err := s.LoadExample(ctx, input.Example); err != nil {
		return nil, statusError(err)
	}
	return h.snapshot(ctx, s)
}

func (h *APIHandler) LoadClimatology(ctx context.Context, input *SessionInput) (*struct{ Body SessionBody }, error) {
	s, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	if err := s.LoadExampleMonths(ctx); err != nil {
		return nil, statusError(err)
	}
	return h.snapshot(ctx, s)
}

func (h *APIHandler) ShowMonth(ctx context.Context, input *struct {
	SessionInput
	Month int `path:"month" minimum:"1" maximum:"12" doc:"Calendar month"`
}) (*struct{ Body SessionBody }, error) {
	s, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	ok, err := s.ShowExampleMonth(ctx, input.Month)
	if err != nil {
		return nil, statusError(err)
	}
	if !ok {
		return nil, huma.Error404NotFound("month not loaded")
	}
	return h.snapshot(ctx, s)
}
