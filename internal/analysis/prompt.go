package analysis

import (
	"strings"
	"unicode/utf8"

	"envreport/internal/table"
)

const systemPrompt = "Tu es un expert en environnement et en analyse de risques SLRI. Tu réponds uniquement par un tableau Markdown."

const truncationMarker = "\n[... texte tronqué ...]"

// BuildPrompt builds the fixed-schema extraction prompt around text. Text
// longer than maxChars runes is cut and marked; truncated reports it.
func BuildPrompt(text string, maxChars int) (prompt string, truncated bool) {
	if maxChars > 0 && utf8.RuneCountInString(text) > maxChars {
		text = cutRunes(text, maxChars) + truncationMarker
		truncated = true
	}

	headers := table.Headers()
	sep := make([]string, len(headers))
	for i := range sep {
		sep[i] = "---"
	}

	var b strings.Builder
	b.WriteString(`Extrais du document ci-dessous les paramètres environnementaux mesurés ou réglementés.

Pour chaque paramètre, renseigne :
- Intervalle acceptable/MIN
- Intervalle acceptable/MAX
- Valeur mesurée de milieux initial
- Rejet de PHASE CONSTRUCTION
- Valeure Mesure+rejet

Si une valeur n'est pas nommée explicitement, déduis-la des tableaux, du texte ou des unités et explique la méthode dans "Justification/Calcul".

FORMAT DE SORTIE :
Rends UNIQUEMENT un tableau Markdown avec EXACTEMENT ces colonnes, dans cet ordre :
`)
	b.WriteString("| " + strings.Join(headers, " | ") + " |\n")
	b.WriteString("| " + strings.Join(sep, " | ") + " |\n")
	b.WriteString(`
RÈGLES :
- Intervalle "6-8" : MIN=6 et MAX=8. "<5" : MIN vide et MAX=5. ">=10" : MIN=10 et MAX vide.
- Valeure Mesure+rejet = Valeur mesurée de milieux initial + Rejet de PHASE CONSTRUCTION quand les deux sont connus.
- Une valeur introuvable reste vide, avec la raison dans "Justification/Calcul".
- Aucun texte hors du tableau.

DOCUMENT :
`)
	b.WriteString(text)
	return b.String(), truncated
}

func cutRunes(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
