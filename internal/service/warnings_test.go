package service

import "testing"

func TestCheckPeriod(t *testing.T) {
	l := DefaultLimits()
	tests := []struct {
		name        string
		start, end  string
		climatology bool
		want        RefreshDecision
		warning     string
	}{
		{"long enough", "2016-01-01", "2016-12-31", false, RefreshIssued, ""},
		{"exactly 90 days", "2016-01-01", "2016-03-31", false, RefreshIssued, ""},
		{"too short", "2016-01-01", "2016-03-01", false, RefreshPeriodTooShort, WarnPeriodTooShort},
		{"climatology too short", "2016-01-01", "2017-12-31", true, RefreshClimatologyTooShort, WarnClimatologyTooShort},
		{"climatology ok", "2010-01-01", "2016-12-31", true, RefreshIssued, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, w := l.CheckPeriod(params(tt.start, tt.end, tt.climatology))
			if d != tt.want || w != tt.warning {
				t.Errorf("got %s %q, want %s %q", d, w, tt.want, tt.warning)
			}
		})
	}
}

func TestWarningsPublishOnChange(t *testing.T) {
	var n int
	w := NewWarnings(func(string) { n++ })
	w.Set("a")
	w.Set("a")
	w.Clear()
	w.Clear()
	if n != 2 {
		t.Errorf("published %d times, want 2", n)
	}
	if w.Text() != "" {
		t.Errorf("text = %q", w.Text())
	}
}
