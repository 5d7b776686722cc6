package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"
	"google.golang.org/api/option"

	"envreport/internal/score"
	"envreport/internal/table"
)

func row(values map[table.Field]string) table.Row {
	r := table.NewRow()
	for f, v := range values {
		r.Set(f, v)
	}
	return r
}

func sampleRows() []table.Row {
	return []table.Row{
		row(map[table.Field]string{
			table.Parameter: "Plomb", table.Medium: "Sol", table.Min: "0", table.Max: "100",
			table.Initial: "12", table.Discharge: "3", table.Total: "15", table.Unit: "mg/kg",
		}),
		row(map[table.Field]string{
			table.Parameter: "Nitrates", table.Medium: "Eau", table.Min: "0", table.Max: "50",
			table.Initial: "60", table.Discharge: "5", table.Total: "65", table.Unit: "mg/L",
		}),
		row(map[table.Field]string{table.Parameter: "Mercure", table.Initial: "<0,05"}),
	}
}

func TestWriteWorkbook(t *testing.T) {
	rows := sampleRows()
	path := filepath.Join(t.TempDir(), "out", "parametres.xlsx")
	if err := WriteWorkbook(path, rows, score.Rows(rows)); err != nil {
		t.Fatalf("WriteWorkbook: %v", err)
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	got, err := f.GetRows(SheetName)
	if err != nil {
		t.Fatalf("rows: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("expected header and 3 rows, got %d", len(got))
	}
	if got[0][0] != "Paramètre" || got[0][len(table.Schema)] != "Score" {
		t.Fatalf("unexpected header %v", got[0])
	}
	if got[2][0] != "Nitrates" || got[2][6] != "65" || got[2][len(table.Schema)] != "3" {
		t.Fatalf("unexpected nitrates row %v", got[2])
	}
	if got[3][4] != "<0,05" || got[3][2] != table.NotAvailable {
		t.Fatalf("text values must be kept as written, got %v", got[3])
	}
}

func TestWriteWorkbookTo(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteWorkbookTo(&buf, sampleRows(), nil); err != nil {
		t.Fatalf("WriteWorkbookTo: %v", err)
	}
	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	defer f.Close()
	if v, _ := f.GetCellValue(SheetName, "A2"); v != "Plomb" {
		t.Fatalf("A2 = %q", v)
	}
}

func writeTemplate(t *testing.T, sheet string) string {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		t.Fatal(err)
	}
	_, _ = f.NewSheet("EXPLOITATION")
	cells := map[string]string{
		"A1": "Paramètre",
		"A2": "Plomb (Pb)",
		"A3": "Nitrates (NO₃⁻)",
		"A4": "Cadmium (Cd)",
	}
	for cell, v := range cells {
		if err := f.SetCellValue(sheet, cell, v); err != nil {
			t.Fatal(err)
		}
	}
	if err := f.SetCellFormula(sheet, "K2", "F2+J2"); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "modele.xlsx")
	if err := f.SaveAs(path); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestUpdateTemplate(t *testing.T) {
	path := writeTemplate(t, "CONSTRUCTION")

	report, err := UpdateTemplate(path, "", "Construction", sampleRows())
	if err != nil {
		t.Fatalf("UpdateTemplate: %v", err)
	}
	if report.Sheet != "CONSTRUCTION" || report.Output != strings.TrimSuffix(path, ".xlsx")+"_updated.xlsx" {
		t.Fatalf("unexpected report %+v", report)
	}
	if len(report.Updated) != 2 || len(report.NotFound) != 1 || report.NotFound[0] != "Mercure" {
		t.Fatalf("expected Plomb and Nitrates updated and Mercure missing, got %+v", report)
	}
	if len(report.Preserved) != 1 || report.Preserved[0] != "K2" {
		t.Fatalf("expected the K2 formula to be preserved, got %v", report.Preserved)
	}
	if len(report.Flagged) != 1 || report.Flagged[0] != "K3" {
		t.Fatalf("expected only K3 flagged, got %v", report.Flagged)
	}

	f, err := excelize.OpenFile(report.Output)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer f.Close()

	if formula, _ := f.GetCellFormula("CONSTRUCTION", "K2"); formula == "" {
		t.Fatalf("formula in K2 was overwritten")
	}
	want := map[string]string{"D2": "0", "E2": "100", "F2": "12", "J2": "3", "F3": "60", "K3": "65"}
	for cell, v := range want {
		if got, _ := f.GetCellValue("CONSTRUCTION", cell); got != v {
			t.Errorf("%s = %q, want %q", cell, got, v)
		}
	}
	if got, _ := f.GetCellValue("CONSTRUCTION", "D4"); got != "" {
		t.Errorf("rows without data must stay empty, D4 = %q", got)
	}

	styleID, _ := f.GetCellStyle("CONSTRUCTION", "K3")
	style, err := f.GetStyle(styleID)
	if err != nil || len(style.Fill.Color) == 0 || !strings.HasSuffix(strings.ToUpper(style.Fill.Color[0]), colorCritical) {
		t.Fatalf("expected a red fill on K3, got %+v (%v)", style, err)
	}
}

func TestUpdateTemplate_Errors(t *testing.T) {
	path := writeTemplate(t, "CONSTRUCTION")
	if _, err := UpdateTemplate(path, "", "chantier", nil); !errors.Is(err, ErrUnknownPhase) {
		t.Fatalf("expected ErrUnknownPhase, got %v", err)
	}
	if _, err := UpdateTemplate(path, "", "demantelement", nil); !errors.Is(err, ErrNoSheet) {
		t.Fatalf("expected ErrNoSheet, got %v", err)
	}
}

func TestNormalizePhase(t *testing.T) {
	cases := map[string]string{
		"Pré-construction": "pre_construction",
		"état initial":     "pre_construction",
		"CONSTRUCTION":     "construction",
		"exploitation":     "exploitation",
		"Démantèlement":    "demantelement",
	}
	for in, want := range cases {
		if got, err := NormalizePhase(in); err != nil || got != want {
			t.Errorf("NormalizePhase(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
}

func TestFindParameterRow(t *testing.T) {
	col := []string{"Paramètre", "Plomb (Pb)", "Nitrates (NO₃⁻)", "Matières en suspension"}
	cases := map[string]int{
		"Plomb (Pb)":        2,
		"plomb":             2,
		"Nitrates":          3,
		"Nitrates (NO3-)":   3,
		"Matières en susp.": 4,
		"MES":               0,
		"Matières":          4,
	}
	for in, want := range cases {
		if got := findParameterRow(col, in); got != want {
			t.Errorf("findParameterRow(%q) = %d, want %d", in, got, want)
		}
	}
}

type fakeSheets struct {
	mu       sync.Mutex
	calls    []string
	appended [][]any
}

func (f *fakeSheets) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := r.URL.Path
	f.calls = append(f.calls, r.Method+" "+path)
	w.Header().Set("Content-Type", "application/json")

	switch {
	case strings.HasSuffix(path, ":append"):
		var body struct {
			Values [][]any `json:"values"`
		}
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &body)
		f.appended = append(f.appended, body.Values...)
		io.WriteString(w, `{"spreadsheetId":"abc123"}`)
	case strings.HasSuffix(path, ":batchUpdate"):
		io.WriteString(w, `{"spreadsheetId":"abc123","replies":[{"addSheet":{"properties":{"sheetId":7,"title":"Paramètres"}}}]}`)
	case strings.Contains(path, "/values/") && r.Method == http.MethodGet:
		io.WriteString(w, `{"range":"Paramètres!A1:M1"}`)
	case strings.Contains(path, "/values/") && r.Method == http.MethodPut:
		io.WriteString(w, `{"spreadsheetId":"abc123","updatedRows":1}`)
	default:
		io.WriteString(w, `{"spreadsheetId":"abc123","sheets":[{"properties":{"sheetId":0,"title":"Feuille 1"}}]}`)
	}
}

func TestSheetsExporter_Append(t *testing.T) {
	fake := &fakeSheets{}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	ctx := context.Background()
	exp, err := NewSheetsExporterWithOptions(ctx,
		"https://docs.google.com/spreadsheets/d/abc123/edit#gid=0",
		option.WithEndpoint(srv.URL+"/"), option.WithoutAuthentication())
	if err != nil {
		t.Fatalf("new exporter: %v", err)
	}
	exp.now = func() time.Time { return time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC) }

	rows := sampleRows()
	if err := exp.Append(ctx, "", "etude.pdf", rows, score.Rows(rows)); err != nil {
		t.Fatalf("append: %v", err)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()

	var created, headers bool
	for _, c := range fake.calls {
		if strings.HasSuffix(c, ":batchUpdate") {
			created = true
		}
		if strings.HasPrefix(c, "PUT ") {
			headers = true
		}
	}
	if !created || !headers {
		t.Fatalf("expected the sheet and its headers to be created, calls: %v", fake.calls)
	}
	if len(fake.appended) != 3 {
		t.Fatalf("expected 3 appended rows, got %d", len(fake.appended))
	}
	first := fake.appended[0]
	if first[0] != "etude.pdf" || first[1] != "Plomb" || first[len(first)-1] != "14/03/2025 09:26:53" {
		t.Fatalf("unexpected first row %v", first)
	}
}

func TestExtractSpreadsheetID(t *testing.T) {
	if id, err := extractSpreadsheetID("https://docs.google.com/spreadsheets/d/1AbC-d_9/edit"); err != nil || id != "1AbC-d_9" {
		t.Fatalf("got %q, %v", id, err)
	}
	if _, err := extractSpreadsheetID("https://example.com/sheet"); err == nil {
		t.Fatalf("expected an error for a non-sheets URL")
	}
}
