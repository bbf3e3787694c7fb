// Package colorize highlights assembly and C source lines for the
// terminal.
package colorize

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

// Style describes the style of a chunk of text.
type Style uint8

const (
	NormalStyle Style = iota
	KeywordStyle
	StringStyle
	NumberStyle
	CommentStyle
	LineNoStyle
	ArrowStyle
	TabStyle
)

// Print prints to out a syntax highlighted version of lines, between lines
// startLine and endLine (1-based, endLine excluded). arrowLine is marked
// with "=>".
func Print(out io.Writer, path string, lines []string, startLine, endLine, arrowLine int, colorEscapes map[Style]string, altTabStr string) error {
	w := &lineWriter{
		w:            out,
		arrowLine:    arrowLine,
		colorEscapes: colorEscapes,
		tabBytes:     []byte("\t"),
	}
	if len(altTabStr) > 0 {
		w.tabBytes = []byte(altTabStr)
	}

	lex := lexerFor(path)
	if startLine < 1 {
		startLine = 1
	}
	for lineno := startLine; lineno < endLine && lineno <= len(lines); lineno++ {
		w.start(lineno)
		buf := lines[lineno-1]
		cur := 0
		for _, tok := range lex(buf) {
			w.write(NormalStyle, buf[cur:tok.start])
			w.write(tok.style, buf[tok.start:tok.end])
			cur = tok.end
		}
		w.write(NormalStyle, buf[cur:])
		w.end()
	}
	return nil
}

type colorTok struct {
	style      Style
	start, end int
}

type lexer func(line string) []colorTok

func lexerFor(path string) lexer {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".asm", ".s", ".inc", ".lst":
		return asmTokens
	case ".c", ".h", ".cpp":
		return cTokens
	}
	return func(string) []colorTok { return nil }
}

// asmTokens finds the mnemonic, literals and the trailing comment of an
// assembly line. The mnemonic is the first word not in the first column,
// words in the first column are labels.
func asmTokens(line string) []colorTok {
	var toks []colorTok
	body := line
	comment := strings.IndexByte(line, ';')
	if comment >= 0 {
		body = line[:comment]
	}

	seenMnemonic := false
	for i := 0; i < len(body); {
		c := body[i]
		switch {
		case c == '"' || c == '\'':
			end := closingQuote(body, i)
			toks = append(toks, colorTok{StringStyle, i, end})
			i = end
		case isDigit(c):
			end := wordEnd(body, i)
			toks = append(toks, colorTok{NumberStyle, i, end})
			i = end
		case isWordStart(c):
			end := wordEnd(body, i)
			if end < len(body) && body[end] == '\'' && strings.ContainsAny(body[i:end], "hHbBdD") && end-i == 1 {
				// h'1f', b'0101', d'10'
				qend := closingQuote(body, end)
				toks = append(toks, colorTok{NumberStyle, i, qend})
				i = qend
				continue
			}
			if !seenMnemonic && i > 0 {
				toks = append(toks, colorTok{KeywordStyle, i, end})
				seenMnemonic = true
			}
			i = end
		default:
			i++
		}
	}
	if comment >= 0 {
		toks = append(toks, colorTok{CommentStyle, comment, len(line)})
	}
	return toks
}

var cKeywords = map[string]bool{
	"break": true, "case": true, "char": true, "const": true, "continue": true,
	"default": true, "do": true, "else": true, "for": true, "goto": true,
	"if": true, "int": true, "long": true, "return": true, "short": true,
	"signed": true, "static": true, "struct": true, "switch": true,
	"unsigned": true, "void": true, "volatile": true, "while": true,
}

func cTokens(line string) []colorTok {
	var toks []colorTok
	for i := 0; i < len(line); {
		c := line[i]
		switch {
		case strings.HasPrefix(line[i:], "//"):
			return append(toks, colorTok{CommentStyle, i, len(line)})
		case strings.HasPrefix(line[i:], "/*"):
			end := strings.Index(line[i+2:], "*/")
			if end < 0 {
				return append(toks, colorTok{CommentStyle, i, len(line)})
			}
			end += i + 4
			toks = append(toks, colorTok{CommentStyle, i, end})
			i = end
		case c == '"' || c == '\'':
			end := closingQuote(line, i)
			toks = append(toks, colorTok{StringStyle, i, end})
			i = end
		case isDigit(c):
			end := wordEnd(line, i)
			toks = append(toks, colorTok{NumberStyle, i, end})
			i = end
		case isWordStart(c):
			end := wordEnd(line, i)
			if cKeywords[line[i:end]] {
				toks = append(toks, colorTok{KeywordStyle, i, end})
			}
			i = end
		default:
			i++
		}
	}
	return toks
}

func closingQuote(s string, start int) int {
	q := s[start]
	for i := start + 1; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case q:
			return i + 1
		}
	}
	return len(s)
}

func wordEnd(s string, start int) int {
	i := start
	for i < len(s) && (isWordStart(s[i]) || isDigit(s[i])) {
		i++
	}
	return i
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isWordStart(c byte) bool {
	return c == '_' || c == '.' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

type lineWriter struct {
	w         io.Writer
	arrowLine int

	curStyle Style

	colorEscapes map[Style]string

	tabBytes []byte
}

func (w *lineWriter) style(style Style) {
	if w.colorEscapes == nil {
		return
	}
	esc := w.colorEscapes[style]
	if esc == "" {
		esc = w.colorEscapes[NormalStyle]
	}
	fmt.Fprintf(w.w, "%s", esc)
}

func (w *lineWriter) start(lineno int) {
	w.style(ArrowStyle)
	if lineno == w.arrowLine {
		fmt.Fprintf(w.w, "=>")
	} else {
		fmt.Fprintf(w.w, "  ")
	}
	w.style(LineNoStyle)
	fmt.Fprintf(w.w, "%4d:\t", lineno)
	w.curStyle = LineNoStyle
}

func (w *lineWriter) write(style Style, data string) {
	if data == "" {
		return
	}
	cur := 0
	for i := 0; i < len(data); i++ {
		if data[i] != '\t' {
			continue
		}
		w.writeInternal(style, []byte(data[cur:i]))
		w.writeInternal(TabStyle, w.tabBytes)
		cur = i + 1
	}
	w.writeInternal(style, []byte(data[cur:]))
}

func (w *lineWriter) writeInternal(style Style, data []byte) {
	if len(data) == 0 {
		return
	}
	if w.curStyle != style {
		w.curStyle = style
		w.style(style)
	}
	w.w.Write(data)
}

func (w *lineWriter) end() {
	if w.curStyle != NormalStyle {
		w.curStyle = NormalStyle
		w.style(NormalStyle)
	}
	w.w.Write([]byte{'\n'})
}
