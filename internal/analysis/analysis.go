// Package analysis runs cheap structural checks over a document's text.
package analysis

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf16"

	"github.com/SemanticWebLanguageServer/swls-web/internal/diagnostics"
	"github.com/SemanticWebLanguageServer/swls-web/internal/world/docs"
)

const Source = "swls"

const (
	CodeUnbalanced         = "unbalanced-bracket"
	CodeUnterminatedString = "unterminated-string"
	CodeTrailingWhitespace = "trailing-whitespace"
)

var closerFor = map[rune]rune{'(': ')', '[': ']', '{': '}'}

type open struct {
	r   rune
	pos diagnostics.Position
}

// Analyze returns findings ordered by position. A nil result means the
// document is clean.
func Analyze(doc docs.Document) []diagnostics.Finding {
	var out []diagnostics.Finding
	var stack []open

	for lineNo, line := range strings.Split(doc.Text, "\n") {
		line = strings.TrimSuffix(line, "\r")
		var col uint32
		inString := false
		var stringStart diagnostics.Position
		escaped := false
		inIRI := false

	scan:
		for _, r := range line {
			pos := diagnostics.Position{Line: uint32(lineNo), Character: col}
			col += uint32(utf16.RuneLen(r))

			if inString {
				switch {
				case escaped:
					escaped = false
				case r == '\\':
					escaped = true
				case r == '"':
					inString = false
				}
				continue
			}
			if inIRI {
				inIRI = r != '>'
				continue
			}
			switch r {
			case '<':
				inIRI = true
			case '#':
				break scan
			case '"':
				inString = true
				stringStart = pos
			case '(', '[', '{':
				stack = append(stack, open{r: r, pos: pos})
			case ')', ']', '}':
				if n := len(stack); n > 0 && closerFor[stack[n-1].r] == r {
					stack = stack[:n-1]
					continue
				}
				out = append(out, finding(pos, col, diagnostics.SeverityError, CodeUnbalanced,
					fmt.Sprintf("unexpected %q", r)))
			}
		}
		if inString {
			out = append(out, finding(stringStart, utf16Len(line), diagnostics.SeverityError,
				CodeUnterminatedString, "string is not terminated before end of line"))
		}

		trimmed := strings.TrimRight(line, " \t")
		if len(trimmed) < len(line) {
			start := diagnostics.Position{Line: uint32(lineNo), Character: utf16Len(trimmed)}
			out = append(out, finding(start, utf16Len(line), diagnostics.SeverityHint,
				CodeTrailingWhitespace, "trailing whitespace"))
		}
	}

	for i := len(stack) - 1; i >= 0; i-- {
		o := stack[i]
		out = append(out, finding(o.pos, o.pos.Character+1, diagnostics.SeverityError, CodeUnbalanced,
			fmt.Sprintf("%q is never closed", o.r)))
	}
	sortFindings(out)
	return out
}

func finding(start diagnostics.Position, endChar uint32, sev diagnostics.Severity, code, msg string) diagnostics.Finding {
	return diagnostics.Finding{
		Range: diagnostics.Range{
			Start: start,
			End:   diagnostics.Position{Line: start.Line, Character: endChar},
		},
		Severity: sev,
		Code:     code,
		Source:   Source,
		Message:  msg,
	}
}

func utf16Len(s string) uint32 {
	var n uint32
	for _, r := range s {
		n += uint32(utf16.RuneLen(r))
	}
	return n
}

func sortFindings(fs []diagnostics.Finding) {
	less := func(a, b diagnostics.Position) bool {
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		return a.Character < b.Character
	}
	sort.SliceStable(fs, func(i, j int) bool { return less(fs[i].Range.Start, fs[j].Range.Start) })
}
