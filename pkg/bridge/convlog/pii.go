package convlog

import "regexp"

// Anonymizer masks personally identifying data in transcripts before they
// are persisted. Patterns target the Italian caller base: mobile and
// landline numbers, codice fiscale, email addresses and card numbers.
type Anonymizer struct {
	rules []maskRule
}

type maskRule struct {
	re   *regexp.Regexp
	repl string
}

func NewAnonymizer() *Anonymizer {
	return &Anonymizer{
		rules: []maskRule{
			{regexp.MustCompile(`[\w.+-]+@[\w-]+(?:\.[\w-]+)+`), "[EMAIL]"},
			{regexp.MustCompile(`\b[A-Za-z]{6}\d{2}[A-Za-z]\d{2}[A-Za-z]\d{3}[A-Za-z]\b`), "[CODICE_FISCALE]"},
			{regexp.MustCompile(`(?:\+39[\s.]?)?3\d{2}[\s.\-]?\d{3}[\s.\-]?\d{3,4}\b`), "[TELEFONO]"},
			{regexp.MustCompile(`(?:\+39[\s.]?)?0\d{1,3}[\s.\-/]?\d{5,8}\b`), "[TELEFONO]"},
			{regexp.MustCompile(`\b(?:\d[\s\-]?){13,16}\b`), "[CARTA]"},
		},
	}
}

// Mask replaces every match with its placeholder.
func (a *Anonymizer) Mask(text string) string {
	for _, r := range a.rules {
		text = r.re.ReplaceAllString(text, r.repl)
	}
	return text
}
