package equation

import (
	"strings"
)

// =============================================================================
// CHARACTER SETS
// =============================================================================

// OperatorChars are the operator characters equations may use. A numeric
// literal followed by one of these is annotated as a decimal literal.
const OperatorChars = "+-*/^<>%?:="

// adjacencyChars may sit next to a metric reference. Logical operators
// extend the annotation set.
const adjacencyChars = OperatorChars + "!&|"

// invalidIdentifierChars are stripped from equation and variable names.
const invalidIdentifierChars = " ~`!@#$%^&*()_-+=\"\\|[]{};:',.<>/?"

// digitPrefix is prepended to names that would start with a digit.
const digitPrefix = "Number"

// helperNames are the functions an equation may call.
var helperNames = []string{"GreaterOf", "LesserOf"}

// =============================================================================
// TEXT NORMALIZATION
// =============================================================================

// NormalizeSpaces turns line breaks and tabs into spaces, collapses runs of
// spaces and trims the ends.
func NormalizeSpaces(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// SanitizeIdentifier strips characters that cannot appear in a name and
// prefixes names that would start with a digit.
func SanitizeIdentifier(name string) string {
	s := strings.Map(func(r rune) rune {
		if strings.ContainsRune(invalidIdentifierChars, r) || r == '\t' || r == '\r' || r == '\n' {
			return -1
		}
		return r
	}, name)
	if s != "" && isDigit(s[0]) {
		s = digitPrefix + s
	}
	return s
}

// FixQuantitySource wraps a bare metric name in brackets. Anything that
// already looks like an expression is returned trimmed and untouched.
func FixQuantitySource(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	if strings.ContainsAny(text, "0123456789(-[") || strings.ContainsAny(text, adjacencyChars) {
		return text
	}
	for _, h := range helperNames {
		if strings.Contains(text, h) {
			return text
		}
	}
	return "[" + text + "]"
}

// =============================================================================
// STRUCTURAL CHECKS
// =============================================================================

// CheckBalance verifies that open and close characters pair up. A close
// without an open fails at the close; an unclosed open fails at the
// earliest open left pending. Text literals are skipped.
func CheckBalance(text string, open, close byte, part Part) error {
	var pending []int
	inText := false
	for i := 0; i < len(text); i++ {
		c := text[i]
		if inText {
			if c == '\\' {
				i++
			} else if c == '"' {
				inText = false
			}
			continue
		}
		switch c {
		case '"':
			inText = true
		case open:
			pending = append(pending, i)
		case close:
			if len(pending) == 0 {
				return newSyntaxError(part, i, string(close), "Incorrect syntax near '%c'.", close)
			}
			pending = pending[:len(pending)-1]
		}
	}
	if len(pending) > 0 {
		return newSyntaxError(part, pending[0], string(open), "Incorrect syntax near '%c'.", open)
	}
	return nil
}

// AnnotateDecimalLiterals appends the decimal marker M to every numeric
// literal that ends the text or is followed by a space or an operator.
// Digits inside [...] belong to metric names and are never touched, nor
// are digits inside identifiers or text literals.
func AnnotateDecimalLiterals(text string) string {
	out, _ := annotate(text)
	return out
}

// annotate also returns where markers were inserted, as offsets into the
// input, so positions in the annotated text can be mapped back.
func annotate(text string) (string, []int) {
	var b strings.Builder
	b.Grow(len(text) + 8)
	var inserts []int
	depth := 0

	for i := 0; i < len(text); {
		c := text[i]
		switch {
		case c == '"':
			j := skipText(text, i)
			b.WriteString(text[i:j])
			i = j
			continue
		case c == '[':
			depth++
		case c == ']':
			if depth > 0 {
				depth--
			}
		case depth == 0 && isIdentStart(c):
			j := i
			for j < len(text) && isIdentPart(text[j]) {
				j++
			}
			b.WriteString(text[i:j])
			i = j
			continue
		case depth == 0 && startsNumber(text, i):
			j := scanNumber(text, i)
			b.WriteString(text[i:j])
			if j == len(text) || text[j] == ' ' || strings.IndexByte(OperatorChars, text[j]) >= 0 {
				b.WriteByte('M')
				inserts = append(inserts, j)
			}
			i = j
			continue
		}
		b.WriteByte(c)
		i++
	}
	return b.String(), inserts
}

// ExtractMetricReferences returns the distinct names referenced as
// [Name], in order of first appearance. Each reference must be preceded by
// an operator, '(' or ',' (or start the text) and followed by an operator,
// ')' or ',' (or end the text).
func ExtractMetricReferences(text string, part Part) ([]string, error) {
	var names []string
	seen := make(map[string]bool)

	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '"':
			i = skipText(text, i) - 1
			continue
		case ']':
			return nil, newSyntaxError(part, i, "]", "Incorrect syntax near ']'.")
		case '[':
		default:
			continue
		}

		end := strings.IndexAny(text[i+1:], "[]")
		if end < 0 || text[i+1+end] == '[' {
			return nil, newSyntaxError(part, i, "[", "Incorrect syntax near '['.")
		}
		end += i + 1

		name := strings.TrimSpace(text[i+1 : end])
		if name == "" {
			return nil, newSyntaxError(part, i, "[", "Empty metric reference.")
		}

		if p := prevNonSpace(text, i); p >= 0 && !strings.ContainsRune(adjacencyChars+"(,", rune(text[p])) {
			return nil, newSyntaxError(part, i, string(text[p]), "Missing operator before metric '%s'.", name)
		}
		if n := nextNonSpace(text, end+1); n < len(text) && !strings.ContainsRune(adjacencyChars+"),", rune(text[n])) {
			return nil, newSyntaxError(part, n, string(text[n]), "Missing operator after metric '%s'.", name)
		}

		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
		i = end
	}
	return names, nil
}

// =============================================================================
// PREPARED TEXT
// =============================================================================

// Prepared is equation text that passed structural validation.
type Prepared struct {
	Part      Part
	Text      string // normalized
	Annotated string // decimal literals marked
	Metrics   []string

	inserts []int
}

// Validate normalizes text and runs every structural check on it. The
// empty string is valid and yields an empty Prepared.
func Validate(part Part, text string) (Prepared, error) {
	p := Prepared{Part: part, Text: NormalizeSpaces(text)}
	if p.Text == "" {
		return p, nil
	}
	if err := CheckBalance(p.Text, '(', ')', part); err != nil {
		return p, err
	}
	if err := CheckBalance(p.Text, '[', ']', part); err != nil {
		return p, err
	}
	metrics, err := ExtractMetricReferences(p.Text, part)
	if err != nil {
		return p, err
	}
	p.Metrics = metrics
	p.Annotated, p.inserts = annotate(p.Text)
	return p, nil
}

// Empty reports whether there is no text to compile.
func (p Prepared) Empty() bool { return p.Text == "" }

// sourcePos maps a position in Annotated back to Text.
func (p Prepared) sourcePos(pos int) int {
	shift := 0
	for k, at := range p.inserts {
		if at+k < pos {
			shift++
		}
	}
	return pos - shift
}

// =============================================================================
// SCANNING HELPERS
// =============================================================================

func isDigit(c byte) bool      { return c >= '0' && c <= '9' }
func isIdentStart(c byte) bool { return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }
func isIdentPart(c byte) bool  { return isIdentStart(c) || isDigit(c) }

func startsNumber(text string, i int) bool {
	if isDigit(text[i]) {
		return true
	}
	return text[i] == '.' && i+1 < len(text) && isDigit(text[i+1])
}

// scanNumber returns the end of the numeric literal starting at i.
func scanNumber(text string, i int) int {
	j := i
	for j < len(text) && isDigit(text[j]) {
		j++
	}
	if j+1 < len(text) && text[j] == '.' && isDigit(text[j+1]) {
		j++
		for j < len(text) && isDigit(text[j]) {
			j++
		}
	}
	return j
}

// skipText returns the index just past the text literal starting at i.
func skipText(text string, i int) int {
	for j := i + 1; j < len(text); j++ {
		switch text[j] {
		case '\\':
			j++
		case '"':
			return j + 1
		}
	}
	return len(text)
}

func prevNonSpace(text string, i int) int {
	for j := i - 1; j >= 0; j-- {
		if text[j] != ' ' {
			return j
		}
	}
	return -1
}

func nextNonSpace(text string, i int) int {
	for j := i; j < len(text); j++ {
		if text[j] != ' ' {
			return j
		}
	}
	return len(text)
}
