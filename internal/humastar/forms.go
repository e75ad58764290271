package humastar

import (
	"fmt"
	"html"
	"reflect"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-water/internal/templates"
)

// FormSchema registers a Go type whose OpenAPI schema is rendered as a
// Datastar-bound form fragment named FormTmpl.
type FormSchema struct {
	Type     reflect.Type
	Prefix   string
	FormTmpl string
}

// schemaName is the component name Huma registered the type under.
func (f FormSchema) schemaName() string {
	return huma.DefaultSchemaNamer(f.Type, "")
}

// DatastarSchema is the x-datastar extension written on a registered schema.
type DatastarSchema struct {
	Prefix   string `json:"prefix"`
	FormTmpl string `json:"formTemplate"`
}

// InjectExtensions marks registered schemas with x-datastar and copies the
// signal and input struct tags onto their properties as x-signal and x-input.
// Call after all routes are registered so the schemas exist.
func InjectExtensions(api huma.API, forms []FormSchema) {
	schemas := api.OpenAPI().Components.Schemas.Map()
	for _, f := range forms {
		schema, ok := schemas[f.schemaName()]
		if !ok {
			continue
		}
		if schema.Extensions == nil {
			schema.Extensions = map[string]any{}
		}
		schema.Extensions["x-datastar"] = DatastarSchema{Prefix: f.Prefix, FormTmpl: f.FormTmpl}

		for _, sf := range reflect.VisibleFields(f.Type) {
			prop, ok := schema.Properties[jsonName(sf)]
			if !ok {
				continue
			}
			if prop.Extensions == nil {
				prop.Extensions = map[string]any{}
			}
			prop.Extensions["x-signal"] = f.Prefix + signalName(sf)
			if in := sf.Tag.Get("input"); in != "" {
				prop.Extensions["x-input"] = in
			}
		}
	}
}

// RegisterForms renders each registered schema into a form template.
// Fields appear in struct order. Call after InjectExtensions.
func RegisterForms(api huma.API, r *templates.Renderer, forms []FormSchema) error {
	schemas := api.OpenAPI().Components.Schemas.Map()
	for _, f := range forms {
		name := f.schemaName()
		schema, ok := schemas[name]
		if !ok {
			return fmt.Errorf("form %s: schema %q not registered", f.FormTmpl, name)
		}
		var b strings.Builder
		for _, sf := range reflect.VisibleFields(f.Type) {
			prop, ok := schema.Properties[jsonName(sf)]
			if !ok || prop.Type == "array" || prop.Type == "object" {
				continue
			}
			renderField(&b, prop, f.Prefix+signalName(sf))
		}
		if err := r.Define(f.FormTmpl, b.String()); err != nil {
			return fmt.Errorf("form %s: %w", f.FormTmpl, err)
		}
	}
	return nil
}

// InitialSignals returns the signal values of a struct, keyed like the form
// fields, for a page's data-signals attribute.
func InitialSignals(v any, prefix string) map[string]any {
	rv := reflect.Indirect(reflect.ValueOf(v))
	out := map[string]any{}
	for _, sf := range reflect.VisibleFields(rv.Type()) {
		if !sf.IsExported() || jsonName(sf) == "" {
			continue
		}
		out[prefix+signalName(sf)] = rv.FieldByIndex(sf.Index).Interface()
	}
	return out
}

func renderField(b *strings.Builder, prop *huma.Schema, signal string) {
	label := html.EscapeString(prop.Description)
	if label == "" {
		label = signal
	}
	b.WriteString("<div class=\"form-group\">\n")
	switch {
	case prop.Type == "boolean":
		fmt.Fprintf(b, "    <label><input type=\"checkbox\" data-bind:%s> %s</label>\n", signal, label)

	case len(prop.Enum) > 0:
		fmt.Fprintf(b, "    <label>%s</label>\n    <select data-bind:%s>\n", label, signal)
		for _, v := range prop.Enum {
			fmt.Fprintf(b, "        <option value=\"%v\">%v</option>\n", v, v)
		}
		b.WriteString("    </select>\n")

	case prop.Type == "number" || prop.Type == "integer":
		fmt.Fprintf(b, "    <label>%s</label>\n    <input type=\"number\" data-bind:%s", label, signal)
		if prop.Minimum != nil {
			fmt.Fprintf(b, ` min="%v"`, *prop.Minimum)
		}
		if prop.Maximum != nil {
			fmt.Fprintf(b, ` max="%v"`, *prop.Maximum)
		}
		if prop.Type == "integer" {
			b.WriteString(` step="1"`)
		} else {
			b.WriteString(` step="any"`)
		}
		b.WriteString(">\n")

	default:
		typ := "text"
		if prop.Format == "date" {
			typ = "date"
		}
		if in, ok := prop.Extensions["x-input"].(string); ok {
			typ = in
		}
		fmt.Fprintf(b, "    <label>%s</label>\n    <input type=\"%s\" data-bind:%s>\n", label, typ, signal)
	}
	b.WriteString("</div>\n")
}

func jsonName(sf reflect.StructField) string {
	name, _, _ := strings.Cut(sf.Tag.Get("json"), ",")
	if name == "-" {
		return ""
	}
	return name
}

func signalName(sf reflect.StructField) string {
	if s := sf.Tag.Get("signal"); s != "" {
		return s
	}
	return strings.ToLower(jsonName(sf))
}
