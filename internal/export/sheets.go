package export

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"envreport/internal/gcp"
	"envreport/internal/logger"
	"envreport/internal/score"
	"envreport/internal/table"
)

// DefaultSheetName is the tab SheetsExporter appends to.
const DefaultSheetName = "Paramètres"

// SheetsExporter appends parameter rows to a Google Sheet.
type SheetsExporter struct {
	service       *sheets.Service
	spreadsheetID string
	now           func() time.Time
	log           zerolog.Logger
}

// NewSheetsExporter authenticates with the service account from the
// environment and targets the spreadsheet at sheetURL.
func NewSheetsExporter(ctx context.Context, sheetURL string) (*SheetsExporter, error) {
	const op = "NewSheetsExporter"

	creds, err := gcp.CredentialsJSON()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	config, err := google.JWTConfigFromJSON(creds, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to parse credentials: %w", op, err)
	}

	return NewSheetsExporterWithOptions(ctx, sheetURL, option.WithHTTPClient(config.Client(ctx)))
}

// NewSheetsExporterWithOptions builds the exporter from explicit client
// options, e.g. an endpoint and no authentication in tests.
func NewSheetsExporterWithOptions(ctx context.Context, sheetURL string, opts ...option.ClientOption) (*SheetsExporter, error) {
	const op = "NewSheetsExporter"

	log := logger.WithComponent("sheets")

	spreadsheetID, err := extractSpreadsheetID(sheetURL)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to extract spreadsheet ID: %w", op, err)
	}
	log.Debug().Str("spreadsheet_id", spreadsheetID).Msg("Extracted spreadsheet ID")

	service, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create sheets service: %w", op, err)
	}

	return &SheetsExporter{
		service:       service,
		spreadsheetID: spreadsheetID,
		now:           time.Now,
		log:           log,
	}, nil
}

var reSpreadsheetID = regexp.MustCompile(`/spreadsheets/d/([a-zA-Z0-9-_]+)`)

func extractSpreadsheetID(url string) (string, error) {
	matches := reSpreadsheetID.FindStringSubmatch(url)
	if len(matches) < 2 {
		return "", fmt.Errorf("invalid Google Sheets URL format")
	}
	return matches[1], nil
}

// sheetHeaders are the columns of the appended rows: the document, the schema
// columns, the score and the processing time.
func sheetHeaders() []any {
	out := []any{"Document"}
	for _, h := range table.Headers() {
		out = append(out, h)
	}
	return append(out, "Score", "Statut", "Traité le")
}

func lastColumn() string {
	col, _ := excelize.ColumnNumberToName(len(sheetHeaders()))
	return col
}

// Append writes one line per row, creating the sheet and its header row on
// first use. results may be nil.
func (s *SheetsExporter) Append(ctx context.Context, sheetName, document string, rows []table.Row, results []score.Result) error {
	const op = "SheetsExporter.Append"

	if sheetName == "" {
		sheetName = DefaultSheetName
	}
	s.log.Info().
		Str("sheet", sheetName).
		Int("rows", len(rows)).
		Msg("Writing parameters to Google Sheet")

	if err := s.ensureSheetWithHeaders(ctx, sheetName); err != nil {
		return fmt.Errorf("%s: failed to ensure sheet exists: %w", op, err)
	}

	processedAt := s.now().Format("02/01/2006 15:04:05")
	values := make([][]any, 0, len(rows))
	for i, r := range rows {
		line := []any{document}
		for c, v := range r.Strings() {
			line = append(line, cellValue(table.Field(c), v))
		}
		if i < len(results) && results[i].Scored {
			line = append(line, int(results[i].Level), results[i].Status)
		} else {
			line = append(line, "", "")
		}
		values = append(values, append(line, processedAt))
	}

	_, err := s.service.Spreadsheets.Values.Append(
		s.spreadsheetID,
		fmt.Sprintf("%s!A:%s", sheetName, lastColumn()),
		&sheets.ValueRange{Values: values},
	).ValueInputOption("USER_ENTERED").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("%s: failed to append values to sheet: %w", op, err)
	}

	s.log.Info().Int("rows_written", len(values)).Msg("Wrote parameters to Google Sheet")
	return nil
}

func (s *SheetsExporter) ensureSheetWithHeaders(ctx context.Context, sheetName string) error {
	const op = "ensureSheetWithHeaders"

	spreadsheet, err := s.service.Spreadsheets.Get(s.spreadsheetID).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("%s: failed to get spreadsheet: %w", op, err)
	}

	var (
		exists  bool
		sheetID int64
	)
	for _, sh := range spreadsheet.Sheets {
		if sh.Properties != nil && sh.Properties.Title == sheetName {
			exists = true
			sheetID = sh.Properties.SheetId
			break
		}
	}

	if !exists {
		s.log.Info().Str("sheet", sheetName).Msg("Creating new sheet")
		resp, err := s.service.Spreadsheets.BatchUpdate(s.spreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{
			Requests: []*sheets.Request{
				{AddSheet: &sheets.AddSheetRequest{Properties: &sheets.SheetProperties{Title: sheetName}}},
			},
		}).Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("%s: failed to create sheet: %w", op, err)
		}
		if len(resp.Replies) > 0 && resp.Replies[0].AddSheet != nil {
			sheetID = resp.Replies[0].AddSheet.Properties.SheetId
		}
	}

	headerRange := fmt.Sprintf("%s!A1:%s1", sheetName, lastColumn())
	resp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, headerRange).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("%s: failed to get headers: %w", op, err)
	}
	if len(resp.Values) > 0 && len(resp.Values[0]) > 0 {
		return nil
	}

	s.log.Info().Str("sheet", sheetName).Msg("Adding headers to sheet")
	_, err = s.service.Spreadsheets.Values.Update(
		s.spreadsheetID,
		headerRange,
		&sheets.ValueRange{Values: [][]any{sheetHeaders()}},
	).ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("%s: failed to add headers: %w", op, err)
	}

	if err := s.formatHeaders(ctx, sheetID); err != nil {
		s.log.Warn().Err(err).Msg("Failed to format headers, continuing anyway")
	}
	return nil
}

// formatHeaders makes the header row bold on a grey background and resizes
// the columns.
func (s *SheetsExporter) formatHeaders(ctx context.Context, sheetID int64) error {
	width := int64(len(sheetHeaders()))
	requests := []*sheets.Request{
		{
			RepeatCell: &sheets.RepeatCellRequest{
				Range: &sheets.GridRange{
					SheetId:          sheetID,
					StartRowIndex:    0,
					EndRowIndex:      1,
					StartColumnIndex: 0,
					EndColumnIndex:   width,
				},
				Cell: &sheets.CellData{
					UserEnteredFormat: &sheets.CellFormat{
						TextFormat:      &sheets.TextFormat{Bold: true},
						BackgroundColor: &sheets.Color{Red: 0.9, Green: 0.9, Blue: 0.9},
					},
				},
				Fields: "userEnteredFormat(textFormat,backgroundColor)",
			},
		},
		{
			AutoResizeDimensions: &sheets.AutoResizeDimensionsRequest{
				Dimensions: &sheets.DimensionRange{
					SheetId:    sheetID,
					Dimension:  "COLUMNS",
					StartIndex: 0,
					EndIndex:   width,
				},
			},
		},
	}

	_, err := s.service.Spreadsheets.BatchUpdate(s.spreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{Requests: requests}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("formatHeaders: %w", err)
	}
	return nil
}
