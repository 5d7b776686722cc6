package table

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrNoStructuredContent is returned when neither a table nor key-value lines
// could be recovered from a response.
var ErrNoStructuredContent = errors.New("no structured content found")

// ParseError carries the raw response that could not be parsed, so callers
// can keep it for manual review.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("table: %v (%d bytes of raw response kept)", e.Err, len(e.Raw))
}

func (e *ParseError) Unwrap() error { return e.Err }

// Row is one parameter of the schema. Every field holds either a value from
// the source or NotAvailable.
type Row struct {
	Values [numFields]string
}

// NewRow returns a row with every field set to NotAvailable.
func NewRow() Row {
	var r Row
	for i := range r.Values {
		r.Values[i] = NotAvailable
	}
	return r
}

// Get returns the value of f.
func (r Row) Get(f Field) string {
	if f < 0 || f >= numFields {
		return ""
	}
	return r.Values[f]
}

// Set stores v in f. Blank values become NotAvailable.
func (r *Row) Set(f Field, v string) {
	if f < 0 || f >= numFields {
		return
	}
	v = strings.TrimSpace(v)
	if v == "" {
		v = NotAvailable
	}
	r.Values[f] = v
}

// Has reports whether f holds a real value.
func (r Row) Has(f Field) bool {
	v := r.Get(f)
	return v != "" && v != NotAvailable
}

// Number parses f as a number.
func (r Row) Number(f Field) (float64, bool) {
	if !r.Has(f) {
		return 0, false
	}
	return ParseNumber(r.Get(f))
}

// Strings returns the values in schema order.
func (r Row) Strings() []string {
	return append([]string(nil), r.Values[:]...)
}

// MarshalJSON encodes the row as an object keyed by canonical header.
func (r Row) MarshalJSON() ([]byte, error) {
	var b strings.Builder
	b.WriteByte('{')
	for i, c := range Schema {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Quote(c.Header))
		b.WriteByte(':')
		b.WriteString(strconv.Quote(r.Values[c.Field]))
	}
	b.WriteByte('}')
	return []byte(b.String()), nil
}

var reNumber = regexp.MustCompile(`[-+]?\d+(?:[.,]\d+)?(?:[eE][-+]?\d+)?`)

// ParseNumber returns the first number in s. Decimal commas, thousands
// separators written as spaces and trailing units are accepted:
// "7,2", "1 200 mg/L", "<0.5", "12 (estimé)".
func ParseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" || s == NotAvailable {
		return 0, false
	}
	s = strings.NewReplacer(" ", "", "\u00a0", "", "\u202f", "", "−", "-", "–", "-").Replace(s)
	m := reNumber.FindString(s)
	if m == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.Replace(m, ",", ".", 1), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

var (
	reRange = regexp.MustCompile(`([-+]?\d+(?:[.,]\d+)?)\s*(?:-|–|—|à|a|to|/|;|et|and|\.\.)\s*([-+]?\d+(?:[.,]\d+)?)`)
	reBound = regexp.MustCompile(`^(<=|>=|<|>|≤|≥|⩽|⩾|max(?:imum)?\.?|min(?:imum)?\.?|inf(?:erieur)?\s*a|sup(?:erieur)?\s*a)\s*:?\s*([-+]?\d+(?:[.,]\d+)?)`)
	reFirst = regexp.MustCompile(`[-+]?\d+(?:[.,]\d+)?`)
)

// ParseInterval splits an acceptable interval into its bounds.
//
//	"6-8"      -> "6", "8"
//	"<5"       -> "", "5"
//	">=10"     -> "10", ""
//	"≤ 3 mg/L" -> "", "3"
//	"5"        -> "", "5"
//
// ok is false when s holds no number.
func ParseInterval(s string) (min, max string, ok bool) {
	s = strings.ToLower(strings.TrimSpace(RemoveAccents(s)))
	if s == "" || s == NotAvailable {
		return "", "", false
	}
	s = strings.Trim(s, "[]() ")
	s = strings.TrimPrefix(s, "entre ")
	s = strings.TrimPrefix(s, "between ")
	s = strings.TrimSpace(s)

	if m := reBound.FindStringSubmatch(s); m != nil {
		switch op := m[1]; {
		case strings.HasPrefix(op, "<"), op == "≤", op == "⩽", strings.HasPrefix(op, "max"), strings.HasPrefix(op, "inf"):
			return "", m[2], true
		default:
			return m[2], "", true
		}
	}
	if m := reRange.FindStringSubmatch(s); m != nil {
		return m[1], m[2], true
	}
	if m := reFirst.FindString(s); m != "" {
		return "", m, true
	}
	return "", "", false
}
