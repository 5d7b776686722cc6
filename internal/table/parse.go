package table

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

// MaxRows caps the rows kept from one response.
const MaxRows = 50

// Source tells which strategy recovered the rows.
type Source string

const (
	SourceMarkdown Source = "markdown"
	SourceLines    Source = "lines"
	SourceKeyValue Source = "keyvalue"
	SourceNone     Source = "none"
)

// Table is a parsed response.
type Table struct {
	Rows      []Row    `json:"rows"`
	Source    Source   `json:"source"`
	Unmatched []string `json:"unmatched_headers,omitempty"`
}

// skipColumn marks a source column with no schema field.
const skipColumn Field = -2

// Parse extracts rows from a provider response. It never fails hard: when
// nothing structured is found it returns a single sentinel row together with
// a *ParseError wrapping ErrNoStructuredContent.
func Parse(raw string) (*Table, error) {
	scanned, overflow := scanLines(raw)

	// goldmark drops cells beyond the header width; the scanner merges them
	// into the last column instead.
	if t := parseMarkdown(raw); t != nil && len(t.Rows) > 0 && !overflow {
		return finish(t), nil
	}
	if scanned != nil && len(scanned.Rows) > 0 {
		return finish(scanned), nil
	}
	if rows := salvage(raw); len(rows) > 0 {
		return finish(&Table{Rows: rows, Source: SourceKeyValue}), nil
	}
	return &Table{Rows: []Row{NewRow()}, Source: SourceNone}, &ParseError{Raw: raw, Err: ErrNoStructuredContent}
}

func finish(t *Table) *Table {
	if len(t.Rows) > MaxRows {
		t.Rows = t.Rows[:MaxRows]
	}
	FillTotals(t.Rows)
	return t
}

// FillTotals computes "Valeure Mesure+rejet" as initial + discharge on rows
// where the total is missing and both operands are numeric.
func FillTotals(rows []Row) {
	for i := range rows {
		if rows[i].Has(Total) {
			continue
		}
		initial, ok1 := rows[i].Number(Initial)
		discharge, ok2 := rows[i].Number(Discharge)
		if ok1 && ok2 {
			sum := math.Round((initial+discharge)*1e6) / 1e6
			rows[i].Set(Total, strconv.FormatFloat(sum, 'f', -1, 64))
		}
	}
}

// columns maps a header row onto the schema. ok is false when the header does
// not describe a parameter table.
func columns(headers []string) (cols []Field, unmatched []string, ok bool) {
	cols = make([]Field, len(headers))
	hasParam := false
	matched := 0
	for i, h := range headers {
		f, found := fieldFor(h)
		if !found {
			cols[i] = skipColumn
			if strings.TrimSpace(h) != "" {
				unmatched = append(unmatched, strings.TrimSpace(h))
			}
			continue
		}
		cols[i] = f
		matched++
		if f == Parameter {
			hasParam = true
		}
	}
	if hasParam {
		return cols, unmatched, true
	}
	// Unknown headers on a table of the right width are read by position.
	if matched == 0 && len(headers) == len(Schema) {
		for i := range cols {
			cols[i] = Schema[i].Field
		}
		return cols, nil, true
	}
	return nil, nil, false
}

// buildRow fills a row from cells laid out as cols. ok is false for rows
// that carry no parameter or repeat the header.
func buildRow(cols []Field, cells []string) (Row, bool) {
	r := NewRow()
	for i, f := range cols {
		if i >= len(cells) || f == skipColumn {
			continue
		}
		v := cellValue(cells[i])
		if v == "" {
			continue
		}
		switch {
		case f == combinedInterval:
			lo, hi, ok := ParseInterval(v)
			if !ok {
				continue
			}
			if lo != "" && !r.Has(Min) {
				r.Set(Min, lo)
			}
			if hi != "" && !r.Has(Max) {
				r.Set(Max, hi)
			}
		case !r.Has(f):
			r.Set(f, v)
		}
	}
	if !r.Has(Parameter) {
		return r, false
	}
	if f, ok := fieldFor(r.Get(Parameter)); ok && f == Parameter {
		return r, false
	}
	return r, true
}

var blankCells = map[string]bool{
	"-": true, "--": true, "—": true, "–": true, "n/a": true, "na": true, "none": true, "null": true, "non disponible": true,
	"not available": true, "aucun": true, "aucune": true, "?": true,
}

func cellValue(s string) string {
	s = strings.TrimSpace(strings.Trim(strings.TrimSpace(s), "*_"))
	if blankCells[strings.ToLower(RemoveAccents(s))] {
		return ""
	}
	return s
}

func parseMarkdown(raw string) *Table {
	src := []byte(raw)
	md := goldmark.New(goldmark.WithExtensions(extension.Table))
	doc := md.Parser().Parse(text.NewReader(src))

	var out *Table
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		tbl, ok := n.(*extast.Table)
		if !ok {
			return ast.WalkContinue, nil
		}
		var cols []Field
		var rows []Row
		for child := tbl.FirstChild(); child != nil; child = child.NextSibling() {
			cells := cellTexts(child, src)
			switch child.(type) {
			case *extast.TableHeader:
				var unmatched []string
				var found bool
				cols, unmatched, found = columns(cells)
				if !found {
					return ast.WalkSkipChildren, nil
				}
				if out == nil {
					out = &Table{Source: SourceMarkdown}
				}
				out.Unmatched = append(out.Unmatched, unmatched...)
			case *extast.TableRow:
				if r, ok := buildRow(cols, cells); ok {
					rows = append(rows, r)
				}
			}
		}
		if out != nil {
			out.Rows = append(out.Rows, rows...)
		}
		return ast.WalkSkipChildren, nil
	})
	return out
}

func cellTexts(row ast.Node, src []byte) []string {
	var cells []string
	for c := row.FirstChild(); c != nil; c = c.NextSibling() {
		if _, ok := c.(*extast.TableCell); !ok {
			continue
		}
		var b strings.Builder
		inlineText(&b, c, src)
		cells = append(cells, strings.TrimSpace(b.String()))
	}
	return cells
}

func inlineText(b *strings.Builder, n ast.Node, src []byte) {
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		switch v := c.(type) {
		case *ast.Text:
			b.Write(v.Segment.Value(src))
			if v.SoftLineBreak() || v.HardLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.String:
			b.Write(v.Value)
		case *ast.RawHTML:
			// <br> and friends
			b.WriteByte(' ')
		default:
			inlineText(b, c, src)
		}
	}
}

var reDelimiterCell = regexp.MustCompile(`^:?-{1,}:?$`)

// scanLines is the tolerant reader for tables goldmark rejects: no delimiter
// row, no leading pipe, or rows wider than the header. overflow reports
// whether any row had to be merged.
func scanLines(raw string) (*Table, bool) {
	var blocks [][][]string
	var current [][]string
	flush := func() {
		if len(current) > 0 {
			blocks = append(blocks, current)
			current = nil
		}
	}
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if strings.Count(line, "|") < 2 {
			flush()
			continue
		}
		cells := splitCells(line)
		if isDelimiterRow(cells) {
			continue
		}
		current = append(current, cells)
	}
	flush()

	var out *Table
	overflow := false
	for _, block := range blocks {
		cols, unmatched, ok := columns(block[0])
		if !ok {
			continue
		}
		if out == nil {
			out = &Table{Source: SourceLines}
		}
		out.Unmatched = append(out.Unmatched, unmatched...)
		for _, cells := range block[1:] {
			if len(cells) > len(cols) {
				overflow = true
				merged := strings.Join(cells[len(cols)-1:], " | ")
				cells = append(cells[:len(cols)-1:len(cols)-1], merged)
			}
			if r, ok := buildRow(cols, cells); ok {
				out.Rows = append(out.Rows, r)
			}
		}
	}
	return out, overflow
}

func splitCells(line string) []string {
	line = strings.TrimPrefix(line, "|")
	line = strings.TrimSuffix(line, "|")
	parts := strings.Split(line, "|")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func isDelimiterRow(cells []string) bool {
	seen := false
	for _, c := range cells {
		c = strings.ReplaceAll(c, " ", "")
		if c == "" {
			continue
		}
		if !reDelimiterCell.MatchString(c) {
			return false
		}
		seen = true
	}
	return seen
}

var (
	reKeyValue = regexp.MustCompile(`^\s*(?:[-*•+]\s+|\d+[.)]\s+)?\**([^:=|*]{2,80}?)\**\s*[:=]\s*(.+?)\s*$`)
	reMeasure  = regexp.MustCompile(`^((?:<=|>=|<|>|≤|≥|~|≈)?\s*[-+]?\d+(?:[.,]\d+)?)\s*([^\s,;()]*)`)
)

// salvage reads "parameter: value unit" lines.
func salvage(raw string) []Row {
	var rows []Row
	for _, line := range strings.Split(raw, "\n") {
		m := reKeyValue.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		name := strings.TrimSpace(m[1])
		if f, ok := fieldFor(name); ok && f != Parameter {
			// "Unité: mg/L" describes the table, not a parameter.
			continue
		}
		v := reMeasure.FindStringSubmatch(strings.TrimSpace(m[2]))
		if v == nil {
			continue
		}
		r := NewRow()
		r.Set(Parameter, name)
		r.Set(Initial, strings.ReplaceAll(v[1], " ", ""))
		r.Set(Unit, v[2])
		rows = append(rows, r)
	}
	return rows
}
