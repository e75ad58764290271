package viewer

import (
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"reflect"

	"github.com/joeblew999/plat-water/internal/humastar"
	"github.com/joeblew999/plat-water/internal/service"
)

// FormTemplate is the runtime template holding the parameter form fields.
const FormTemplate = "parameter-form"

// Form describes the parameter form generated from the ParameterSet schema.
func Form() humastar.FormSchema {
	return humastar.FormSchema{
		Type:     reflect.TypeOf(service.ParameterSet{}),
		FormTmpl: FormTemplate,
	}
}

// Routes are the session's action URLs used by the page.
type Routes struct {
	Events   string
	Refresh  string
	Mode     string
	Click    string
	Polygon  string
	Export   string
	Cancel   string
	Examples string
}

func routesFor(id string) Routes {
	base := "/api/v1/viewer/" + id
	return Routes{
		Events:   base + "/events",
		Refresh:  base + "/refresh",
		Mode:     base + "/mode",
		Click:    base + "/click",
		Polygon:  base + "/polygon",
		Export:   base + "/export",
		Cancel:   base + "/cancel",
		Examples: base + "/examples",
	}
}

// PageData is the page template input.
type PageData struct {
	Title          string
	SessionID      string
	Signals        string
	Routes         Routes
	ModeOptions    template.HTML
	ExampleOptions template.HTML
}

var modeLabels = map[string]string{
	"none":       "No selection",
	"tiles":      "Select tiles",
	"adm_bounds": "Select admin boundaries",
	"polygon":    "Draw a polygon",
}

func (h *Handler) modeOptions() template.HTML {
	var opts []humastar.SelectOptionData
	for _, m := range service.ModeNames() {
		label := modeLabels[m]
		if label == "" {
			label = m
		}
		opts = append(opts, humastar.SelectOptionData{Value: m, Label: label})
	}
	return template.HTML(h.RenderSelect("", opts))
}

func (h *Handler) exampleOptions() template.HTML {
	opts := make([]humastar.SelectOptionData, 0, len(h.examples)+1)
	for _, e := range h.examples {
		opts = append(opts, humastar.SelectOptionData{Value: e.ID, Label: e.Label})
	}
	opts = append(opts, humastar.SelectOptionData{Value: "climatology", Label: "Monthly climatology"})
	return template.HTML(h.RenderSelect("Examples", opts))
}

// Page opens a new session and renders the viewer page bound to it.
func (h *Handler) Page(w http.ResponseWriter, r *http.Request) {
	s, err := h.sessions.Create()
	if err != nil {
		h.log.Errorw("opening viewer session", "error", err)
		http.Error(w, "could not open a session", http.StatusServiceUnavailable)
		return
	}
	data, err := h.pageData(s.ID)
	if err != nil {
		h.sessions.Close(s.ID)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	html, err := h.Renderer.Render("page", data)
	if err != nil {
		h.sessions.Close(s.ID)
		h.log.Errorw("rendering viewer page", "error", err)
		http.Error(w, "could not render page", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, html)
}

func (h *Handler) pageData(id string) (PageData, error) {
	signals := humastar.InitialSignals(h.defaults, "")
	signals["mode"] = service.ModeNone.String()
	signals["modifier"] = false
	signals["drawing"] = false
	signals["exportEnabled"] = false
	signals["exportName"] = ""
	signals["pending"] = false
	signals["exampleMonth"] = 0
	signals["polygon"] = ""
	signals["lat"] = 0
	signals["lng"] = 0
	signals["example"] = ""
	signals["error"] = ""
	signals["success"] = ""
	b, err := json.Marshal(signals)
	if err != nil {
		return PageData{}, fmt.Errorf("encoding signals: %w", err)
	}
	return PageData{
		Title:          "Surface Water Tool",
		SessionID:      id,
		Signals:        string(b),
		Routes:         routesFor(id),
		ModeOptions:    h.modeOptions(),
		ExampleOptions: h.exampleOptions(),
	}, nil
}
