// Package viewer contains the Datastar SSE handlers behind the viewer page.
//
// Every action posts the page's signals and answers with signal and element
// patches. The long-lived events stream re-renders the session fragments
// whenever the session publishes a change.
package viewer

import (
	"context"
	"errors"
	"fmt"

	"github.com/danielgtaylor/huma/v2"
	"go.uber.org/zap"

	"github.com/joeblew999/plat-water/internal/humastar"
	"github.com/joeblew999/plat-water/internal/service"
	"github.com/joeblew999/plat-water/internal/templates"
)

// Tag marks the SSE operations so link discovery skips them.
const Tag = "viewer"

// Handler serves the viewer's SSE actions.
type Handler struct {
	humastar.Handler
	sessions *service.SessionManager
	examples []service.Example
	defaults service.ParameterSet
	log      *zap.SugaredLogger
}

// New creates the viewer handler.
func New(sessions *service.SessionManager, renderer *templates.Renderer, examples []service.Example, defaults service.ParameterSet, log *zap.SugaredLogger) *Handler {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Handler{
		Handler:  humastar.Handler{Renderer: renderer},
		sessions: sessions,
		examples: examples,
		defaults: defaults,
		log:      log,
	}
}

// RegisterRoutes mounts the SSE actions under /api/v1/viewer/{id}.
func (h *Handler) RegisterRoutes(api huma.API) {
	tags := huma.OperationTags(Tag)
	huma.Get(api, "/api/v1/viewer/{id}/events", h.Events, tags)
	huma.Post(api, "/api/v1/viewer/{id}/refresh", h.Refresh, tags)
	huma.Post(api, "/api/v1/viewer/{id}/mode", h.Mode, tags)
	huma.Post(api, "/api/v1/viewer/{id}/click", h.Click, tags)
	huma.Post(api, "/api/v1/viewer/{id}/polygon", h.Polygon, tags)
	huma.Post(api, "/api/v1/viewer/{id}/export", h.Export, tags)
	huma.Post(api, "/api/v1/viewer/{id}/cancel", h.Cancel, tags)
	huma.Post(api, "/api/v1/viewer/{id}/examples/{example}", h.Example, tags)
}

// ActionInput addresses a session and carries the page signals.
type ActionInput struct {
	ID string `path:"id" doc:"Session ID"`
	humastar.SignalsInput
}

// action resolves the session and signals, then streams fn's patches.
// A domain error is reported through the error signal.
func (h *Handler) action(input *ActionInput, fn func(ctx context.Context, s *service.Session, sig humastar.Signals) (string, error)) (*huma.StreamResponse, error) {
	s, err := h.sessions.Get(input.ID)
	if err != nil {
		return nil, huma.Error404NotFound(err.Error())
	}
	sig := humastar.Signals{}
	if len(input.RawBody) > 0 {
		if sig, err = input.Parse(); err != nil {
			return nil, err
		}
	}
	return h.Stream(func(sse humastar.SSE) {
		ctx := sse.Context()
		msg, err := fn(ctx, s, sig)
		if err != nil {
			h.log.Debugw("viewer action failed", "session", s.ID, "error", err)
			sse.Error(userMessage(err))
			return
		}
		if msg != "" {
			sse.Success(msg)
		}
		if snap, err := s.Snapshot(ctx); err == nil {
			h.patch(sse, snap)
		}
	}), nil
}

func userMessage(err error) string {
	var pe *service.ParamError
	switch {
	case errors.As(err, &pe):
		return pe.Error()
	case errors.Is(err, service.ErrNothingToExport):
		return "Select a region or draw a polygon first"
	case errors.Is(err, service.ErrSessionClosed):
		return "Session closed, reload the page"
	default:
		return err.Error()
	}
}

// Refresh submits the parameter form.
func (h *Handler) Refresh(ctx context.Context, input *ActionInput) (*huma.StreamResponse, error) {
	return h.action(input, func(ctx context.Context, s *service.Session, sig humastar.Signals) (string, error) {
		p, err := service.ParseParameterSet(sig.Values(service.ParamKeys()...))
		if err != nil {
			return "", err
		}
		d, err := s.Refresh(ctx, p)
		if err != nil {
			return "", err
		}
		if d == service.RefreshIssued {
			return "Updating water map", nil
		}
		return "", nil
	})
}

// Mode switches the selection mode from the mode signal.
func (h *Handler) Mode(ctx context.Context, input *ActionInput) (*huma.StreamResponse, error) {
	return h.action(input, func(ctx context.Context, s *service.Session, sig humastar.Signals) (string, error) {
		m, err := service.ParseMode(sig.String("mode"))
		if err != nil {
			return "", err
		}
		return "", s.SetMode(ctx, m)
	})
}

// Click selects the region under the lat and lng signals. The modifier
// signal carries the additive key state of the click. A click past the
// selection cap is dropped without a message.
func (h *Handler) Click(ctx context.Context, input *ActionInput) (*huma.StreamResponse, error) {
	return h.action(input, func(ctx context.Context, s *service.Session, sig humastar.Signals) (string, error) {
		if !sig.Has("lat") || !sig.Has("lng") {
			return "", errors.New("click position missing")
		}
		if err := s.SetModifier(ctx, sig.Bool("modifier")); err != nil {
			return "", err
		}
		_, err := s.Click(ctx, sig.Float("lat"), sig.Float("lng"))
		return "", err
	})
}

// Polygon completes a drawing from the GeoJSON in the polygon signal.
// Malformed geometry and drawings made outside polygon mode are discarded
// quietly; the patched state shows nothing changed.
func (h *Handler) Polygon(ctx context.Context, input *ActionInput) (*huma.StreamResponse, error) {
	return h.action(input, func(ctx context.Context, s *service.Session, sig humastar.Signals) (string, error) {
		ring, err := service.ParsePolygonRing([]byte(sig.String("polygon")))
		if err != nil {
			h.log.Debugw("discarding malformed polygon", "session", s.ID, "error", err)
			return "", nil
		}
		ok, err := s.CompletePolygon(ctx, ring)
		if err == nil && !ok {
			h.log.Debugw("discarding polygon", "session", s.ID)
		}
		return "", err
	})
}

// Export starts an export named by the exportName signal.
func (h *Handler) Export(ctx context.Context, input *ActionInput) (*huma.StreamResponse, error) {
	return h.action(input, func(ctx context.Context, s *service.Session, sig humastar.Signals) (string, error) {
		if err := s.Export(ctx, sig.String("exportName"), nil); err != nil {
			return "", err
		}
		return "Preparing download links", nil
	})
}

// Cancel resets the selection and the download panel.
func (h *Handler) Cancel(ctx context.Context, input *ActionInput) (*huma.StreamResponse, error) {
	return h.action(input, func(ctx context.Context, s *service.Session, sig humastar.Signals) (string, error) {
		return "", s.Cancel(ctx)
	})
}

// ExampleInput adds the example path parameter to an action.
type ExampleInput struct {
	ActionInput
	Example string `path:"example" doc:"Example ID, or climatology for the monthly layers"`
}

// Example loads a curated example layer, or the monthly climatology when
// example is "climatology". The month signal picks a loaded month.
func (h *Handler) Example(ctx context.Context, input *ExampleInput) (*huma.StreamResponse, error) {
	return h.action(&input.ActionInput, func(ctx context.Context, s *service.Session, sig humastar.Signals) (string, error) {
		if input.Example != "climatology" {
			if err := s.LoadExample(ctx, input.Example); err != nil {
				return "", err
			}
			return "Showing " + h.exampleLabel(input.Example), nil
		}
		if m := int(sig.Float("exampleMonth")); m > 0 {
			ok, err := s.ShowExampleMonth(ctx, m)
			if err != nil || ok {
				return "", err
			}
		}
		return "", s.LoadExampleMonths(ctx)
	})
}

func (h *Handler) exampleLabel(id string) string {
	for _, e := range h.examples {
		if e.ID == id {
			return e.Label
		}
	}
	return fmt.Sprintf("Example %s", id)
}
