package export

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"

	"envreport/internal/logger"
	"envreport/internal/score"
	"envreport/internal/table"
)

var (
	ErrUnknownPhase = errors.New("unknown phase")
	ErrNoSheet      = errors.New("template has no sheet for phase")
)

// PhaseSheets lists the sheet names a template may use for each phase.
var PhaseSheets = map[string][]string{
	"pre_construction": {"PRE CONSTRUCTION", "Pré-construction", "Pre-construction", "État initial"},
	"construction":     {"CONSTRUCTION", "Construction"},
	"exploitation":     {"EXPLOITATION", "Exploitation"},
	"demantelement":    {"DÉMANTÈLEMENT", "Démantèlement", "Demantelement"},
}

// Template columns written per parameter row. Column A holds the parameter
// name.
const (
	colMin       = 4  // D
	colMax       = 5  // E
	colInitial   = 6  // F
	colDischarge = 10 // J
	colTotal     = 11 // K
)

// TemplateReport describes what UpdateTemplate changed.
type TemplateReport struct {
	Sheet     string   `json:"sheet"`
	Output    string   `json:"output"`
	Updated   []string `json:"updated"`
	NotFound  []string `json:"not_found,omitempty"`
	Preserved []string `json:"preserved_formulas,omitempty"`
	Flagged   []string `json:"flagged,omitempty"`
}

// NormalizePhase maps "Pré-construction", "pre construction" and the like to
// a PhaseSheets key.
func NormalizePhase(phase string) (string, error) {
	k := table.Key(phase)
	for name, sheets := range PhaseSheets {
		if k == table.Key(name) {
			return name, nil
		}
		for _, s := range sheets {
			if k == table.Key(s) {
				return name, nil
			}
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPhase, phase)
}

// UpdatedPath returns "<name>_updated<ext>" next to path.
func UpdatedPath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "_updated" + ext
}

// TemplateUpdater fills an existing workbook.
type TemplateUpdater struct {
	log zerolog.Logger
}

func NewTemplateUpdater() *TemplateUpdater {
	return &TemplateUpdater{log: logger.WithComponent("export-template")}
}

// Update finds the phase sheet of the template at path, locates each row's
// parameter in column A and writes MIN, MAX, initial value, discharge and
// total into D, E, F, J and K. Cells holding a formula are never written.
// A total outside the interval gets a colored fill. The result is saved to
// out, or next to path when out is empty.
func (u *TemplateUpdater) Update(path, out, phase string, rows []table.Row) (*TemplateReport, error) {
	const op = "TemplateUpdater.Update"

	key, err := NormalizePhase(phase)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("%s: open %s: %w", op, path, err)
	}
	defer f.Close()

	sheet, err := phaseSheet(f, key)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	names, err := f.GetCols(sheet)
	if err != nil {
		return nil, fmt.Errorf("%s: read %s: %w", op, sheet, err)
	}
	var columnA []string
	if len(names) > 0 {
		columnA = names[0]
	}

	if out == "" {
		out = UpdatedPath(path)
	}
	report := &TemplateReport{Sheet: sheet, Output: out}
	styles := map[int]int{}

	for _, r := range rows {
		param := r.Get(table.Parameter)
		if !r.Has(table.Parameter) {
			continue
		}
		line := findParameterRow(columnA, param)
		if line == 0 {
			report.NotFound = append(report.NotFound, param)
			u.log.Warn().Str("parameter", param).Str("sheet", sheet).Msg("Parameter not found in template")
			continue
		}

		writes := []struct {
			col   int
			field table.Field
		}{
			{colMin, table.Min},
			{colMax, table.Max},
			{colInitial, table.Initial},
			{colDischarge, table.Discharge},
			{colTotal, table.Total},
		}
		for _, w := range writes {
			if !r.Has(w.field) {
				continue
			}
			cell, _ := excelize.CoordinatesToCellName(w.col, line)
			formula, err := f.GetCellFormula(sheet, cell)
			if err != nil {
				return nil, fmt.Errorf("%s: %s: %w", op, cell, err)
			}
			if formula != "" {
				report.Preserved = append(report.Preserved, cell)
				continue
			}
			if err := f.SetCellValue(sheet, cell, cellValue(w.field, r.Get(w.field))); err != nil {
				return nil, fmt.Errorf("%s: %s: %w", op, cell, err)
			}
		}
		report.Updated = append(report.Updated, param)

		if res := score.Row(r); res.Scored && res.Level != score.Conform && !res.Reference {
			cell, _ := excelize.CoordinatesToCellName(colTotal, line)
			if err := flag(f, sheet, cell, styles); err != nil {
				u.log.Warn().Err(err).Str("cell", cell).Msg("Failed to color out-of-range value")
			} else {
				report.Flagged = append(report.Flagged, cell)
			}
		}
	}

	if err := f.SaveAs(out); err != nil {
		return nil, fmt.Errorf("%s: save %s: %w", op, out, err)
	}

	u.log.Info().
		Str("sheet", sheet).
		Int("updated", len(report.Updated)).
		Int("not_found", len(report.NotFound)).
		Int("preserved_formulas", len(report.Preserved)).
		Str("output", out).
		Msg("Template updated")

	return report, nil
}

// UpdateTemplate is Update with a default updater.
func UpdateTemplate(path, out, phase string, rows []table.Row) (*TemplateReport, error) {
	return NewTemplateUpdater().Update(path, out, phase, rows)
}

func phaseSheet(f *excelize.File, phase string) (string, error) {
	list := f.GetSheetList()
	for _, want := range PhaseSheets[phase] {
		for _, s := range list {
			if table.Key(s) == table.Key(want) {
				return s, nil
			}
		}
	}
	return "", fmt.Errorf("%w %s (sheets: %s)", ErrNoSheet, phase, strings.Join(list, ", "))
}

var reParens = regexp.MustCompile(`\([^)]*\)`)

// findParameterRow returns the 1-based row of param in column A, or 0.
// Matching goes from exact to loose: same key, same key without the
// parenthesized part ("Plomb (Pb)"), then one name containing the other.
func findParameterRow(columnA []string, param string) int {
	want := table.Key(param)
	bare := table.Key(reParens.ReplaceAllString(param, ""))
	if want == "" {
		return 0
	}
	for i, v := range columnA {
		if table.Key(v) == want {
			return i + 1
		}
	}
	for i, v := range columnA {
		if k := table.Key(reParens.ReplaceAllString(v, "")); k != "" && k == bare {
			return i + 1
		}
	}
	for i, v := range columnA {
		k := table.Key(reParens.ReplaceAllString(v, ""))
		if len(k) < 3 || len(bare) < 3 {
			continue
		}
		if strings.Contains(k, bare) || strings.Contains(bare, k) {
			return i + 1
		}
	}
	return 0
}

// flag adds a red fill to cell while keeping its existing format.
func flag(f *excelize.File, sheet, cell string, cache map[int]int) error {
	current, err := f.GetCellStyle(sheet, cell)
	if err != nil {
		return err
	}
	if id, ok := cache[current]; ok {
		return f.SetCellStyle(sheet, cell, cell, id)
	}
	style, err := f.GetStyle(current)
	if err != nil || style == nil {
		style = &excelize.Style{}
	}
	style.Fill = excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{colorCritical}}
	id, err := f.NewStyle(style)
	if err != nil {
		return err
	}
	cache[current] = id
	return f.SetCellStyle(sheet, cell, cell, id)
}

var rePlainNumber = regexp.MustCompile(`^[-+]?\d+(?:[.,]\d+)?$`)

// plainNumber parses values that are only a number, such as "7,2".
// "<0,05" or "12 mg/L" stay text.
func plainNumber(v string) (float64, bool) {
	v = strings.TrimSpace(v)
	if !rePlainNumber.MatchString(v) {
		return 0, false
	}
	n, err := strconv.ParseFloat(strings.Replace(v, ",", ".", 1), 64)
	return n, err == nil
}
