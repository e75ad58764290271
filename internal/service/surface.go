package service

// View is the map camera position.
type View struct {
	Lat  float64 `json:"lat" yaml:"lat" doc:"Center latitude" example:"12.5"`
	Lng  float64 `json:"lng" yaml:"lng" doc:"Center longitude" example:"102"`
	Zoom int     `json:"zoom" yaml:"zoom" doc:"Zoom level" example:"7"`
}

// SurfaceModel is the in-memory map surface of one session. The browser
// renders what it holds; every change is published as an event.
type SurfaceModel struct {
	overlays []*Overlay
	drawing  bool
	view     View
	maxZoom  int
	publish  func(resource string)
}

// NewSurfaceModel creates an empty surface with the given view.
func NewSurfaceModel(slots int, view View, maxZoom int, publish func(resource string)) *SurfaceModel {
	if publish == nil {
		publish = func(string) {}
	}
	return &SurfaceModel{
		overlays: make([]*Overlay, slots),
		view:     view,
		maxZoom:  maxZoom,
		publish:  publish,
	}
}

func (m *SurfaceModel) SetAt(index int, o Overlay) {
	if index < 0 || index >= len(m.overlays) {
		return
	}
	m.overlays[index] = &o
	m.publish("layers")
}

func (m *SurfaceModel) ClearAt(index int) {
	if index < 0 || index >= len(m.overlays) || m.overlays[index] == nil {
		return
	}
	m.overlays[index] = nil
	m.publish("layers")
}

func (m *SurfaceModel) SetOpacityAt(index int, v float64) {
	if index < 0 || index >= len(m.overlays) || m.overlays[index] == nil {
		return
	}
	m.overlays[index].Opacity = v
	m.publish("layers")
}

func (m *SurfaceModel) SetDrawingMode(on bool) {
	if m.drawing == on {
		return
	}
	m.drawing = on
	m.publish("selection")
}

// PanTo moves the camera. Zoom is clamped to [0, maxZoom].
func (m *SurfaceModel) PanTo(lat, lng float64, zoom int) {
	if zoom < 0 {
		zoom = 0
	}
	if m.maxZoom > 0 && zoom > m.maxZoom {
		zoom = m.maxZoom
	}
	m.view = View{Lat: lat, Lng: lng, Zoom: zoom}
	m.publish("view")
}

// Drawing reports whether polygon drawing is enabled.
func (m *SurfaceModel) Drawing() bool { return m.drawing }

// View returns the current camera position.
func (m *SurfaceModel) View() View { return m.view }

// Overlay returns the occupant at index, if any.
func (m *SurfaceModel) Overlay(index int) (Overlay, bool) {
	if index < 0 || index >= len(m.overlays) || m.overlays[index] == nil {
		return Overlay{}, false
	}
	return *m.overlays[index], true
}
