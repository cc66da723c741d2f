package extract

import (
	"regexp"
	"strconv"
	"strings"
)

// Text-show operators in a decoded content stream: (string) Tj, (string) '
// and [ ... ] TJ arrays. Hex strings and CID-encoded fonts are out of scope;
// documents relying on them fall through to the OCR path via the character
// threshold.
var (
	tjRe      = regexp.MustCompile(`\(((?:\\.|[^\\()])*)\)\s*(?:Tj|')`)
	tjArrayRe = regexp.MustCompile(`\[((?:\\.|[^\\\[\]])*)\]\s*TJ`)
	strLitRe  = regexp.MustCompile(`\(((?:\\.|[^\\()])*)\)`)
)

// contentStreamText recovers the text layer from one page's decoded content
// stream by collecting the operands of the text-show operators in order.
func contentStreamText(stream []byte) string {
	s := string(stream)
	var b strings.Builder

	for _, line := range strings.Split(s, "\n") {
		wrote := false
		for _, m := range tjRe.FindAllStringSubmatch(line, -1) {
			b.WriteString(decodePDFString(m[1]))
			wrote = true
		}
		for _, m := range tjArrayRe.FindAllStringSubmatch(line, -1) {
			for _, lit := range strLitRe.FindAllStringSubmatch(m[1], -1) {
				b.WriteString(decodePDFString(lit[1]))
			}
			wrote = true
		}
		if wrote {
			b.WriteByte('\n')
		}
	}

	return strings.TrimSpace(b.String())
}

// decodePDFString resolves the escape sequences of a PDF literal string.
func decodePDFString(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' {
			b.WriteByte(c)
			continue
		}
		i++
		if i >= len(s) {
			break
		}
		switch s[i] {
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case 't':
			b.WriteByte('\t')
		case 'b', 'f':
			// ignored
		case '(', ')', '\\':
			b.WriteByte(s[i])
		case '0', '1', '2', '3', '4', '5', '6', '7':
			j := i
			for j < len(s) && j < i+3 && s[j] >= '0' && s[j] <= '7' {
				j++
			}
			if n, err := strconv.ParseUint(s[i:j], 8, 16); err == nil && n < 256 {
				b.WriteByte(byte(n))
			}
			i = j - 1
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}
