package cliutil

import (
	"strings"
)

// Wrap the string `s` to a maximum width `w`.  Pass `w` == 0 to do no wrapping.
//
// In order to have some room for slop to avoid things like a short word being on a line by itself,
// most lines are actually wrapped to `w - 5`.
func Wrap(w int, s string) string {
	return wrap(0, w, s)
}

// Wrap the string `s` to a maximum width `w` with leading indent `i`.  The first line is not
// indented (this is assumed to be done by caller).  Pass `w` == 0 to do no wrapping
//
// In order to have some room for slop to avoid things like a short word being on a line by itself,
// most lines are actually wrapped to `w - 5`.
func WrapIndent(i, w int, s string) string {
	return wrap(i, w, s)
}

// wrap does dead-simple greedy filling.  Words never get split, and hard
// newlines in the input stay hard newlines.  Spacing between words that stay
// on a line together is kept as-is, so sentence-ending double-spaces survive.
func wrap(indent, width int, s string) string {
	if width <= 0 {
		return s
	}
	limit := width - 5
	indentStr := strings.Repeat(" ", indent)

	var ret strings.Builder
	for lineNum, line := range strings.Split(s, "\n") {
		if lineNum > 0 {
			ret.WriteByte('\n')
			if line != "" {
				ret.WriteString(indentStr)
			}
		}
		col := indent
		atStart := true
		pos := 0
		for pos < len(line) {
			spaceEnd := pos
			for spaceEnd < len(line) && line[spaceEnd] == ' ' {
				spaceEnd++
			}
			wordEnd := spaceEnd
			for wordEnd < len(line) && line[wordEnd] != ' ' {
				wordEnd++
			}
			if wordEnd == spaceEnd {
				// Nothing left but trailing spaces.
				break
			}
			spacing := line[pos:spaceEnd]
			word := line[spaceEnd:wordEnd]
			pos = wordEnd

			switch {
			case atStart:
				// The first word always goes on the current line, even if it
				// overflows; there's no earlier break point to use.
				ret.WriteString(spacing)
				ret.WriteString(word)
				col += len(spacing) + len(word)
				atStart = false
			case col+len(spacing)+len(word) < limit:
				ret.WriteString(spacing)
				ret.WriteString(word)
				col += len(spacing) + len(word)
			default:
				ret.WriteByte('\n')
				ret.WriteString(indentStr)
				ret.WriteString(word)
				col = indent + len(word)
			}
		}
	}
	return ret.String()
}
