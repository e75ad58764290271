package service

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"time"
)

// DateLayout is the calendar date format used by the date pickers and the backend.
const DateLayout = "2006-01-02"

// ParameterSet is an immutable snapshot of the query parameters chosen by the user.
// Huma reads the tags for OpenAPI + validation; the same struct is the request
// body of the refresh operation.
type ParameterSet struct {
	TimeStart           string  `json:"timeStart" yaml:"time_start" signal:"time_start" format:"date" doc:"First day of the analysis period" example:"2016-01-01"`
	TimeEnd             string  `json:"timeEnd" yaml:"time_end" signal:"time_end" format:"date" doc:"Last day of the analysis period" example:"2016-12-31"`
	Climatology         bool    `json:"climatology" yaml:"climatology" signal:"climatology" doc:"Aggregate to a single calendar month" example:"false"`
	MonthIndex          int     `json:"monthIndex" yaml:"month_index" signal:"month_index" minimum:"1" maximum:"12" doc:"Month used in climatology mode" example:"1"`
	Defringe            bool    `json:"defringe" yaml:"defringe" signal:"defringe" doc:"Remove Landsat 5/7 scene fringes" example:"false"`
	PercentilePermanent float64 `json:"percentilePermanent" yaml:"pcnt_perm" signal:"pcnt_perm" minimum:"0" maximum:"100" doc:"Percentile for permanent water" example:"40"`
	PercentileTemporary float64 `json:"percentileTemporary" yaml:"pcnt_temp" signal:"pcnt_temp" minimum:"0" maximum:"100" doc:"Percentile for temporary water" example:"8"`
	WaterThreshold      float64 `json:"waterThreshold" yaml:"water_thresh" signal:"water_thresh" doc:"MNDWI water threshold" example:"0.3"`
	VegetationThreshold float64 `json:"vegetationThreshold" yaml:"veg_thresh" signal:"veg_thresh" doc:"NDVI vegetation threshold" example:"0.5"`
	HANDThreshold       float64 `json:"handThreshold" yaml:"hand_thresh" signal:"hand_thresh" minimum:"0" doc:"Height above nearest drainage cutoff (m)" example:"50"`
	CloudThreshold      int     `json:"cloudThreshold" yaml:"cloud_thresh" signal:"cloud_thresh" minimum:"-1" maximum:"100" doc:"Cloud score threshold, -1 disables filtering" example:"-1"`
}

// Backend query keys, in the order they appear in the metadata table.
var paramKeys = []string{
	"time_start", "time_end", "climatology", "month_index", "defringe",
	"pcnt_perm", "pcnt_temp", "water_thresh", "veg_thresh", "hand_thresh", "cloud_thresh",
}

// ParamKeys returns the backend query keys in metadata order.
func ParamKeys() []string {
	return slices.Clone(paramKeys)
}

// ParamError reports a missing or unparseable parameter.
type ParamError struct {
	Field string
	Err   error
}

func (e *ParamError) Error() string {
	return fmt.Sprintf("parameter %s: %v", e.Field, e.Err)
}

func (e *ParamError) Unwrap() error { return e.Err }

var errMissing = errors.New("missing value")

// DefaultParameterSet returns the parameters the viewer starts with.
func DefaultParameterSet() ParameterSet {
	return ParameterSet{
		TimeStart:           "2016-01-01",
		TimeEnd:             "2016-12-31",
		MonthIndex:          1,
		PercentilePermanent: 40,
		PercentileTemporary: 8,
		WaterThreshold:      0.3,
		VegetationThreshold: 0.5,
		HANDThreshold:       50,
		CloudThreshold:      -1,
	}
}

// ParseParameterSet builds a set from primitive form values keyed by backend name.
// Every key must be present and parseable.
func ParseParameterSet(v url.Values) (ParameterSet, error) {
	var p ParameterSet
	var err error

	get := func(key string) (string, error) {
		s, ok := v[key]
		if !ok || len(s) == 0 || s[0] == "" {
			return "", &ParamError{Field: key, Err: errMissing}
		}
		return s[0], nil
	}
	str := func(key string, dst *string) {
		if err != nil {
			return
		}
		*dst, err = get(key)
	}
	boolean := func(key string, dst *bool) {
		if err != nil {
			return
		}
		var s string
		if s, err = get(key); err != nil {
			return
		}
		if *dst, err = strconv.ParseBool(s); err != nil {
			err = &ParamError{Field: key, Err: err}
		}
	}
	integer := func(key string, dst *int) {
		if err != nil {
			return
		}
		var s string
		if s, err = get(key); err != nil {
			return
		}
		if *dst, err = strconv.Atoi(s); err != nil {
			err = &ParamError{Field: key, Err: err}
		}
	}
	float := func(key string, dst *float64) {
		if err != nil {
			return
		}
		var s string
		if s, err = get(key); err != nil {
			return
		}
		if *dst, err = strconv.ParseFloat(s, 64); err != nil {
			err = &ParamError{Field: key, Err: err}
		}
	}

	str("time_start", &p.TimeStart)
	str("time_end", &p.TimeEnd)
	boolean("climatology", &p.Climatology)
	integer("month_index", &p.MonthIndex)
	boolean("defringe", &p.Defringe)
	float("pcnt_perm", &p.PercentilePermanent)
	float("pcnt_temp", &p.PercentileTemporary)
	float("water_thresh", &p.WaterThreshold)
	float("veg_thresh", &p.VegetationThreshold)
	float("hand_thresh", &p.HANDThreshold)
	integer("cloud_thresh", &p.CloudThreshold)
	if err != nil {
		return ParameterSet{}, err
	}
	return p, p.Validate()
}

// Validate checks that dates parse and numeric fields are in range.
func (p ParameterSet) Validate() error {
	for key, s := range map[string]string{"time_start": p.TimeStart, "time_end": p.TimeEnd} {
		d, err := time.Parse(DateLayout, s)
		if err != nil {
			return &ParamError{Field: key, Err: err}
		}
		if d.Format(DateLayout) != s {
			return &ParamError{Field: key, Err: fmt.Errorf("not a canonical date: %q", s)}
		}
	}
	if p.MonthIndex < 1 || p.MonthIndex > 12 {
		return &ParamError{Field: "month_index", Err: fmt.Errorf("%d out of range 1-12", p.MonthIndex)}
	}
	if p.PercentilePermanent < 0 || p.PercentilePermanent > 100 {
		return &ParamError{Field: "pcnt_perm", Err: fmt.Errorf("%v out of range 0-100", p.PercentilePermanent)}
	}
	if p.PercentileTemporary < 0 || p.PercentileTemporary > 100 {
		return &ParamError{Field: "pcnt_temp", Err: fmt.Errorf("%v out of range 0-100", p.PercentileTemporary)}
	}
	if p.HANDThreshold < 0 {
		return &ParamError{Field: "hand_thresh", Err: fmt.Errorf("%v is negative", p.HANDThreshold)}
	}
	if p.CloudThreshold < -1 {
		return &ParamError{Field: "cloud_thresh", Err: fmt.Errorf("%d below -1", p.CloudThreshold)}
	}
	return nil
}

// Equal compares field by field with no tolerance.
func (p ParameterSet) Equal(o ParameterSet) bool {
	return p == o
}

// PeriodDays returns |TimeEnd - TimeStart| in whole calendar days.
// Both dates must have passed Validate.
func (p ParameterSet) PeriodDays() int {
	start, _ := time.Parse(DateLayout, p.TimeStart)
	end, _ := time.Parse(DateLayout, p.TimeEnd)
	d := int(end.Sub(start).Hours() / 24)
	if d < 0 {
		d = -d
	}
	return d
}

// Metadata returns the parameter table in backend key order.
func (p ParameterSet) Metadata() [][2]string {
	values := p.values()
	out := make([][2]string, len(paramKeys))
	for i, k := range paramKeys {
		out[i] = [2]string{k, values[i]}
	}
	return out
}

// Query encodes the set as backend query parameters.
func (p ParameterSet) Query() url.Values {
	q := url.Values{}
	for _, kv := range p.Metadata() {
		q.Set(kv[0], kv[1])
	}
	return q
}

// MetadataCSV renders the two-line metadata artifact: names, then values.
func (p ParameterSet) MetadataCSV() []byte {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Write(paramKeys)
	w.Write(p.values())
	w.Flush()
	return buf.Bytes()
}

// DefaultExportName derives an export name from the time range.
func (p ParameterSet) DefaultExportName() string {
	return fmt.Sprintf("SurfaceWaterTool_%s_%s", p.TimeStart, p.TimeEnd)
}

func (p ParameterSet) values() []string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	return []string{
		p.TimeStart,
		p.TimeEnd,
		strconv.FormatBool(p.Climatology),
		strconv.Itoa(p.MonthIndex),
		strconv.FormatBool(p.Defringe),
		f(p.PercentilePermanent),
		f(p.PercentileTemporary),
		f(p.WaterThreshold),
		f(p.VegetationThreshold),
		f(p.HANDThreshold),
		strconv.Itoa(p.CloudThreshold),
	}
}
