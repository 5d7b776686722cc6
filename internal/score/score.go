// Package score rates measured values against their acceptable interval.
package score

import (
	"fmt"
	"strings"

	"envreport/internal/table"
)

// Level is the conformity score of one parameter.
type Level int

const (
	NotScored Level = 0
	Conform   Level = 1
	Attention Level = 2
	Critical  Level = 3
)

func (l Level) String() string {
	switch l {
	case Conform:
		return "Conforme"
	case Attention:
		return "Attention"
	case Critical:
		return "Critique"
	}
	return "Non évalué"
}

// Tolerance is the relative deviation outside the interval still scored
// Attention rather than Critical.
const Tolerance = 0.2

// Interval is an acceptable range. Either bound may be open.
type Interval struct {
	Min, Max       float64
	HasMin, HasMax bool
}

func (iv Interval) Valid() bool { return iv.HasMin || iv.HasMax }

func (iv Interval) String() string {
	switch {
	case iv.HasMin && iv.HasMax:
		return fmt.Sprintf("%g-%g", iv.Min, iv.Max)
	case iv.HasMax:
		return fmt.Sprintf("<=%g", iv.Max)
	case iv.HasMin:
		return fmt.Sprintf(">=%g", iv.Min)
	}
	return ""
}

// Evaluate scores value against iv and describes the deviation.
func Evaluate(value float64, iv Interval) (Level, string) {
	if !iv.Valid() {
		return NotScored, "Aucun intervalle"
	}
	switch {
	case iv.HasMin && value < iv.Min:
		if deviation(iv.Min-value, iv.Min) <= Tolerance {
			return Attention, "Légèrement en dessous"
		}
		return Critical, "Très en dessous"
	case iv.HasMax && value > iv.Max:
		if deviation(value-iv.Max, iv.Max) <= Tolerance {
			return Attention, "Légèrement au dessus"
		}
		return Critical, "Très au dessus"
	}
	return Conform, "Conforme"
}

// deviation is gap relative to bound. A zero bound has no relative scale, so
// any gap counts as beyond tolerance.
func deviation(gap, bound float64) float64 {
	if bound == 0 {
		return Tolerance + 1
	}
	if bound < 0 {
		bound = -bound
	}
	return gap / bound
}

// Result is the score of one table row.
type Result struct {
	Parameter string   `json:"parameter"`
	Value     float64  `json:"value"`
	Scored    bool     `json:"scored"`
	Level     Level    `json:"level"`
	Status    string   `json:"status"`
	Interval  Interval `json:"-"`
	Reference bool     `json:"reference"`
	Unit      string   `json:"unit,omitempty"`
}

// Row scores the row's measured value, using "Valeure Mesure+rejet" when
// present and the initial value otherwise. The row's own interval is used
// first; the reference standards fill in when the row has none.
func Row(r table.Row) Result {
	res := Result{Parameter: r.Get(table.Parameter), Unit: r.Get(table.Unit)}

	value, ok := r.Number(table.Total)
	if !ok {
		value, ok = r.Number(table.Initial)
	}
	if !ok {
		res.Status = "Pas de valeur mesurée"
		return res
	}
	res.Value = value

	var iv Interval
	iv.Min, iv.HasMin = r.Number(table.Min)
	iv.Max, iv.HasMax = r.Number(table.Max)
	if !iv.Valid() {
		if std, found := Lookup(res.Parameter); found {
			iv = std.Interval
			res.Reference = true
			if !r.Has(table.Unit) {
				res.Unit = std.Unit
			}
		}
	}

	res.Interval = iv
	res.Level, res.Status = Evaluate(value, iv)
	res.Scored = res.Level != NotScored
	return res
}

// Rows scores every row.
func Rows(rows []table.Row) []Result {
	out := make([]Result, len(rows))
	for i, r := range rows {
		out[i] = Row(r)
	}
	return out
}

// Summary counts results per level.
type Summary struct {
	Total     int `json:"total"`
	Conform   int `json:"conform"`
	Attention int `json:"attention"`
	Critical  int `json:"critical"`
	NotScored int `json:"not_scored"`
}

func Summarize(results []Result) Summary {
	s := Summary{Total: len(results)}
	for _, r := range results {
		switch r.Level {
		case Conform:
			s.Conform++
		case Attention:
			s.Attention++
		case Critical:
			s.Critical++
		default:
			s.NotScored++
		}
	}
	return s
}

func (s Summary) String() string {
	return fmt.Sprintf("%d paramètres: %d conformes, %d attention, %d critiques, %d non évalués",
		s.Total, s.Conform, s.Attention, s.Critical, s.NotScored)
}

// Standard is a reference interval for a named parameter.
type Standard struct {
	Name     string
	Interval Interval
	Unit     string
	Category string
}

// Lookup finds the reference standard for a parameter name: exact name,
// then known aliases, then a name that contains a standard's name.
func Lookup(name string) (Standard, bool) {
	k := table.Key(name)
	if k == "" {
		return Standard{}, false
	}
	if s, ok := byKey[k]; ok {
		return s, true
	}
	if target, ok := standardAliases[k]; ok {
		return byKey[table.Key(target)], true
	}
	for _, s := range standards {
		sk := table.Key(s.Name)
		// Short keys like "ph" or "o3" would match inside unrelated names.
		if len(sk) >= 4 && strings.Contains(k, sk) {
			return s, true
		}
	}
	return Standard{}, false
}

func between(lo, hi float64) Interval {
	return Interval{Min: lo, Max: hi, HasMin: true, HasMax: true}
}

var standards = []Standard{
	// Air
	{"PM10", between(0, 50), "µg/m³", "air"},
	{"PM2.5", between(0, 25), "µg/m³", "air"},
	{"NOx", between(0, 40), "µg/m³", "air"},
	{"SO2", between(0, 125), "µg/m³", "air"},
	{"O3", between(0, 120), "µg/m³", "air"},
	{"CO", between(0, 10), "mg/m³", "air"},
	{"CO2", between(350, 450), "ppm", "air"},
	{"Benzène", between(0, 5), "µg/m³", "air"},

	// Eau
	{"pH", between(6.5, 8.5), "-", "eau"},
	{"Turbidité", between(0, 5), "NTU", "eau"},
	{"Chlore résiduel", between(0.2, 2), "mg/L", "eau"},
	{"Conductivité", between(50, 2700), "µS/cm", "eau"},
	{"TDS", between(0, 1500), "mg/L", "eau"},
	{"Nitrates", between(0, 50), "mg/L", "eau"},
	{"Phosphates", between(0, 2), "mg/L", "eau"},
	{"Ammoniaque", between(0, 0.5), "mg/L", "eau"},
	{"Sulfates", between(0, 250), "mg/L", "eau"},
	{"Chlorures", between(0, 250), "mg/L", "eau"},
	{"Fer", between(0, 0.3), "mg/L", "eau"},
	{"Manganèse", between(0, 0.1), "mg/L", "eau"},
	{"DBO5", between(0, 25), "mg/L", "eau"},
	{"DCO", between(0, 125), "mg/L", "eau"},

	// Sol
	{"pH du sol", between(6, 8), "-", "sol"},
	{"Métaux lourds Pb", between(0, 100), "mg/kg", "sol"},
	{"Métaux lourds Cd", between(0, 3), "mg/kg", "sol"},
	{"Métaux lourds Hg", between(0, 1), "mg/kg", "sol"},
	{"Hydrocarbures", between(0, 100), "mg/kg", "sol"},
	{"Matière organique", between(1, 5), "%", "sol"},

	// Bruit
	{"Niveau sonore", between(35, 65), "dB(A)", "bruit"},
	{"Bruit de fond", between(30, 55), "dB(A)", "bruit"},
}

var standardAliases = map[string]string{
	"plomb":                  "Métaux lourds Pb",
	"pb":                     "Métaux lourds Pb",
	"cadmium":                "Métaux lourds Cd",
	"cd":                     "Métaux lourds Cd",
	"mercure":                "Métaux lourds Hg",
	"hg":                     "Métaux lourds Hg",
	"no2":                    "NOx",
	"bruit":                  "Niveau sonore",
	"nitrate":                "Nitrates",
	"phosphate":              "Phosphates",
	"ammonium":               "Ammoniaque",
	"dbo":                    "DBO5",
	"conductiviteelectrique": "Conductivité",
}

var byKey = func() map[string]Standard {
	m := make(map[string]Standard, len(standards))
	for _, s := range standards {
		m[table.Key(s.Name)] = s
	}
	return m
}()
