package viewer

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-water/internal/humastar"
	"github.com/joeblew999/plat-water/internal/service"
)

// EventsInput addresses the session whose changes are streamed.
type EventsInput struct {
	ID string `path:"id" doc:"Session ID"`
}

// Events streams the session fragments: once on connect, then after every
// change the session publishes. The stream ends with the session.
func (h *Handler) Events(ctx context.Context, input *EventsInput) (*huma.StreamResponse, error) {
	s, err := h.sessions.Get(input.ID)
	if err != nil {
		return nil, huma.Error404NotFound(err.Error())
	}
	return h.Stream(func(sse humastar.SSE) {
		ctx := sse.Context()
		ch := s.Subscribe()
		defer s.Unsubscribe(ch)

		if snap, err := s.Snapshot(ctx); err == nil {
			h.patch(sse, snap)
		}
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok || ev.Action == "closed" {
					sse.Error("Session closed, reload the page")
					return
				}
				// coalesce a burst into one render
				drain(ch)
				snap, err := s.Snapshot(ctx)
				if err != nil {
					return
				}
				h.patch(sse, snap)
				sse.DispatchCustomEvent("session-changed", map[string]any{
					"resource": ev.Resource,
					"id":       ev.ID,
				})
			}
		}
	}), nil
}

func drain(ch chan service.Event) {
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		default:
			return
		}
	}
}
