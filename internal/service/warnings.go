package service

import "fmt"

// Refresh warning texts.
const (
	WarnClimatologyTooShort = "Warning! Time period for climatology is too short! Make sure it is at least 3 years (1095 days)!"
	WarnPeriodTooShort      = "Warning! Time period is too short! Make sure it is at least 90 days!"
)

// Limits holds the thresholds of the refresh and selection rules.
type Limits struct {
	MinPeriodDays      int     `yaml:"min_period_days"`
	MinClimatologyDays int     `yaml:"min_climatology_days"`
	MaxSelection       int     `yaml:"max_selection"`
	SoftAreaKm2        float64 `yaml:"soft_area_km2"`
	HardAreaKm2        float64 `yaml:"hard_area_km2"`
}

// DefaultLimits returns the limits the viewer ships with.
func DefaultLimits() Limits {
	return Limits{
		MinPeriodDays:      90,
		MinClimatologyDays: 1095,
		MaxSelection:       4,
		SoftAreaKm2:        15000,
		HardAreaKm2:        20000,
	}
}

// CheckPeriod applies the period length rules. It returns RefreshIssued
// and no warning when p is long enough.
func (l Limits) CheckPeriod(p ParameterSet) (RefreshDecision, string) {
	days := p.PeriodDays()
	if p.Climatology && days < l.MinClimatologyDays {
		return RefreshClimatologyTooShort, WarnClimatologyTooShort
	}
	if days < l.MinPeriodDays {
		return RefreshPeriodTooShort, WarnPeriodTooShort
	}
	return RefreshIssued, ""
}

// AreaTier classifies an area against the soft and hard limits.
type AreaTier int

const (
	AreaOK AreaTier = iota
	AreaSoft
	AreaHard
)

func (t AreaTier) String() string {
	switch t {
	case AreaSoft:
		return "soft"
	case AreaHard:
		return "hard"
	}
	return "ok"
}

// Tier returns the tier of an area in km².
func (l Limits) Tier(km2 float64) AreaTier {
	switch {
	case km2 > l.HardAreaKm2:
		return AreaHard
	case km2 > l.SoftAreaKm2:
		return AreaSoft
	}
	return AreaOK
}

// AreaWarning returns the warning for a tier, empty for AreaOK.
// drawn selects the polygon wording over the administrative boundary wording.
func (l Limits) AreaWarning(t AreaTier, drawn bool) string {
	switch {
	case t == AreaHard && drawn:
		return fmt.Sprintf("The drawn polygon is larger than %s km2. This exceeds the current limitations for downloading data. "+
			"Please draw a smaller polygon or use one of the other region selection options to download data for this area.", km(l.HardAreaKm2))
	case t == AreaHard:
		return fmt.Sprintf("The selected area is larger than %s km2. This exceeds the current limitations for downloading data. "+
			"Please use one of the other region selection options to download data for this area.", km(l.HardAreaKm2))
	case t == AreaSoft && drawn:
		return fmt.Sprintf("The drawn polygon is larger than %s km2. This is near the current limitation for downloading data. "+
			"Please be warned that the download might result in a corrupted zip file. "+
			"You can give it a try, or draw a smaller polygon, or use one of the other region selection options to download data for this area.", km(l.SoftAreaKm2))
	case t == AreaSoft:
		return fmt.Sprintf("The selected area is larger than %s km2. This is near the current limitation for downloading data. "+
			"Please be warned that the download might result in a corrupted zip file. "+
			"You can give it a try or use one of the other region selection options to download data for this area.", km(l.SoftAreaKm2))
	}
	return ""
}

func km(v float64) string {
	return fmt.Sprintf("%.0f", v)
}

// Warnings is the single warning line of a viewer. Setting replaces any prior text.
type Warnings struct {
	text    string
	publish func(resource string)
}

// NewWarnings creates an empty warning board.
func NewWarnings(publish func(resource string)) *Warnings {
	if publish == nil {
		publish = func(string) {}
	}
	return &Warnings{publish: publish}
}

// Set replaces the warning text.
func (w *Warnings) Set(text string) {
	if w.text == text {
		return
	}
	w.text = text
	w.publish("warning")
}

// Clear removes any warning.
func (w *Warnings) Clear() { w.Set("") }

// Text returns the current warning, empty when none.
func (w *Warnings) Text() string { return w.text }
