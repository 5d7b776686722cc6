package score

import (
	"testing"

	"envreport/internal/table"
)

func TestEvaluate(t *testing.T) {
	ph := Interval{Min: 6.5, Max: 8.5, HasMin: true, HasMax: true}
	upper := Interval{Max: 50, HasMax: true}
	cases := []struct {
		name  string
		value float64
		iv    Interval
		want  Level
	}{
		{"inside", 7.2, ph, Conform},
		{"on bound", 8.5, ph, Conform},
		{"slightly above", 9.5, ph, Attention},
		{"far above", 11, ph, Critical},
		{"slightly below", 6, ph, Attention},
		{"far below", 4, ph, Critical},
		{"open lower bound", 0, upper, Conform},
		{"above open interval", 55, upper, Attention},
		{"zero bound", 0.1, Interval{Max: 0, HasMax: true}, Critical},
		{"no interval", 3, Interval{}, NotScored},
	}
	for _, c := range cases {
		if got, _ := Evaluate(c.value, c.iv); got != c.want {
			t.Errorf("%s: Evaluate(%v) = %v, want %v", c.name, c.value, got, c.want)
		}
	}
}

func row(values map[table.Field]string) table.Row {
	r := table.NewRow()
	for f, v := range values {
		r.Set(f, v)
	}
	return r
}

func TestRow(t *testing.T) {
	own := row(map[table.Field]string{
		table.Parameter: "DBO5", table.Min: "0", table.Max: "25",
		table.Initial: "12", table.Total: "28",
	})
	res := Row(own)
	if res.Reference || res.Value != 28 || res.Level != Attention {
		t.Fatalf("the total must be scored against the row interval, got %+v", res)
	}

	ref := row(map[table.Field]string{table.Parameter: "Plomb", table.Initial: "250"})
	res = Row(ref)
	if !res.Reference || res.Level != Critical || res.Unit != "mg/kg" {
		t.Fatalf("expected the reference standard for lead, got %+v", res)
	}

	none := row(map[table.Field]string{table.Parameter: "pH"})
	if res := Row(none); res.Scored {
		t.Fatalf("a row without a value cannot be scored")
	}
}

func TestLookup(t *testing.T) {
	cases := map[string]string{
		"PM2,5":             "PM2.5",
		"pm 2.5":            "PM2.5",
		"Turbidite":         "Turbidité",
		"cadmium":           "Métaux lourds Cd",
		"Nitrates dissous":  "Nitrates",
		"Phosphates totaux": "Phosphates",
	}
	for in, want := range cases {
		s, ok := Lookup(in)
		if !ok || s.Name != want {
			t.Errorf("Lookup(%q) = %q, %v; want %q", in, s.Name, ok, want)
		}
	}
	if s, ok := Lookup("Phosphore assimilable"); ok && s.Name == "pH" {
		t.Fatalf("short standard names must not match inside longer words")
	}
}

func TestSummarize(t *testing.T) {
	s := Summarize([]Result{{Level: Conform}, {Level: Critical}, {Level: Critical}, {}})
	if s.Total != 4 || s.Conform != 1 || s.Critical != 2 || s.NotScored != 1 {
		t.Fatalf("unexpected summary %+v", s)
	}
}
