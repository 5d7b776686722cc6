// Package table parses the markdown table returned by an analysis provider
// into rows of a fixed parameter schema.
package table

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// NotAvailable fills every field no value could be found for.
const NotAvailable = "not available"

// Field is one column of the schema.
type Field int

const (
	Parameter Field = iota
	Medium
	Min
	Max
	Initial
	Discharge
	Total
	Unit
	Justification
	numFields
)

// Schema lists the output columns in order, with their canonical headers.
var Schema = []Column{
	{Parameter, "Paramètre"},
	{Medium, "Milieu"},
	{Min, "Intervalle acceptable/MIN"},
	{Max, "Intervalle acceptable/MAX"},
	{Initial, "Valeur mesurée de milieux initial"},
	{Discharge, "Rejet de PHASE CONSTRUCTION"},
	{Total, "Valeure Mesure+rejet"},
	{Unit, "Unité"},
	{Justification, "Justification/Calcul"},
}

// Column pairs a field with its header.
type Column struct {
	Field  Field
	Header string
}

func (f Field) String() string {
	if f < 0 || f >= numFields {
		return "unknown"
	}
	return Schema[f].Header
}

// Headers returns the canonical headers in schema order.
func Headers() []string {
	out := make([]string, len(Schema))
	for i, c := range Schema {
		out[i] = c.Header
	}
	return out
}

// combinedInterval marks a single "acceptable interval" column that is split
// into Min and Max.
const combinedInterval Field = -1

// aliases maps normalized header keys to fields. Keys are produced by Key.
var aliases = map[string]Field{
	// Paramètre
	"parametre": Parameter, "parametres": Parameter, "parameter": Parameter, "parameters": Parameter,
	"param": Parameter, "name": Parameter, "nom": Parameter, "polluant": Parameter, "pollutant": Parameter,
	"indicateur": Parameter, "indicator": Parameter,

	// Milieu
	"milieu": Medium, "milieux": Medium, "medium": Medium, "media": Medium,
	"environment": Medium, "environnement": Medium, "compartiment": Medium, "matrice": Medium, "matrix": Medium,

	// Intervalle acceptable/MIN
	"intervalleacceptablemin": Min, "intervallemin": Min, "min": Min, "minimum": Min,
	"valeurmin": Min, "seuilmin": Min, "limitemin": Min, "acceptablemin": Min,

	// Intervalle acceptable/MAX
	"intervalleacceptablemax": Max, "intervallemax": Max, "max": Max, "maximum": Max,
	"valeurmax": Max, "seuilmax": Max, "limitemax": Max, "acceptablemax": Max,
	"valeurlimite": Max, "limitvalue": Max,

	// Intervalle acceptable, one column
	"intervalleacceptable": combinedInterval, "intervalle": combinedInterval, "reference": combinedInterval,
	"seuil": combinedInterval, "acceptableinterval": combinedInterval, "acceptablerange": combinedInterval,
	"threshold": combinedInterval, "range": combinedInterval, "norme": combinedInterval, "standard": combinedInterval,

	// Valeur mesurée de milieux initial
	"valeurmesureedemilieuxinitial": Initial, "valeurmesureedemilieuinitial": Initial,
	"valeurmesuree": Initial, "valeur": Initial, "valeurinitiale": Initial, "measuredvalue": Initial,
	"value": Initial, "mesure": Initial, "etatinitial": Initial, "initialvalue": Initial,

	// Rejet de PHASE CONSTRUCTION
	"rejetdephaseconstruction": Discharge, "rejetphaseconstruction": Discharge, "rejetdeprj": Discharge,
	"rejet": Discharge, "rejetconstruction": Discharge, "constructiondischarge": Discharge, "discharge": Discharge,

	// Valeure Mesure+rejet
	"valeuremesurerejet": Total, "valeursmesurerejet": Total, "valeurmesurerejet": Total,
	"mesurerejet": Total, "measureplusdischarge": Total, "measuredplusdischarge": Total, "total": Total,

	// Unité
	"unite": Unit, "unites": Unit, "unit": Unit, "units": Unit,

	// Justification/Calcul
	"justificationcalcul": Justification, "justification": Justification, "calcul": Justification,
	"methode": Justification, "method": Justification, "source": Justification,
	"observations": Justification, "observation": Justification, "commentaire": Justification,
	"commentaires": Justification, "comment": Justification, "notes": Justification,
}

// RemoveAccents strips diacritics: "Unité" becomes "Unite".
func RemoveAccents(s string) string {
	// Chains carry state, so each call builds its own.
	stripMarks := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(stripMarks, s)
	if err != nil {
		return s
	}
	return out
}

// Key normalizes a header or parameter name for comparison: accents removed,
// lower case, letters and digits only. "Valeure Mesure+rejet" becomes
// "valeuremesurerejet".
func Key(s string) string {
	// NFKD also folds compatibility forms, so "NO₃" and "NO3" share a key.
	keyFold := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)))
	if folded, _, err := transform.String(keyFold, s); err == nil {
		s = folded
	}
	s = strings.ToLower(s)
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// fieldFor resolves a header to a field. Headers naming another phase, such
// as "Rejet de PHASE EXPLOITATION", resolve by prefix.
func fieldFor(header string) (Field, bool) {
	k := Key(header)
	if f, ok := aliases[k]; ok {
		return f, true
	}
	switch {
	case k == "":
		return 0, false
	case strings.HasPrefix(k, "intervalleacceptable") && strings.HasSuffix(k, "min"):
		return Min, true
	case strings.HasPrefix(k, "intervalleacceptable") && strings.HasSuffix(k, "max"):
		return Max, true
	case strings.HasPrefix(k, "intervalleacceptable"):
		return combinedInterval, true
	case strings.HasPrefix(k, "valeurmesuree"):
		return Initial, true
	case strings.HasPrefix(k, "rejet"):
		return Discharge, true
	case strings.HasPrefix(k, "justification"):
		return Justification, true
	}
	return 0, false
}
