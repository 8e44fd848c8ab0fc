// Copyright 2011 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package n2

import (
	"fmt"
	"strings"
)

// Token identifies one lexical element of the build-file grammar.
type Token int32

const (
	ERROR Token = iota
	BUILD
	COLON
	DEFAULT
	EQUALS
	IDENT
	INCLUDE
	INDENT
	NEWLINE
	PIPE
	PIPE2
	POOL
	RULE
	SUBNINJA
	TEOF
)

// String returns a human-readable form of a token, used in error messages.
func (t Token) String() string {
	switch t {
	case ERROR:
		return "lexing error"
	case BUILD:
		return "'build'"
	case COLON:
		return "':'"
	case DEFAULT:
		return "'default'"
	case EQUALS:
		return "'='"
	case IDENT:
		return "identifier"
	case INCLUDE:
		return "'include'"
	case INDENT:
		return "indent"
	case NEWLINE:
		return "newline"
	case PIPE2:
		return "'||'"
	case PIPE:
		return "'|'"
	case POOL:
		return "'pool'"
	case RULE:
		return "'rule'"
	case SUBNINJA:
		return "'subninja'"
	case TEOF:
		return "eof"
	}
	return ""
}

// errorHint returns extra context appended to "expected X, got Y" messages.
func (t Token) errorHint() string {
	if t == COLON {
		return " ($ also escapes ':')"
	}
	return ""
}

// keywords maps a bare identifier to its keyword token, when it is one.
var keywords = map[string]Token{
	"build":    BUILD,
	"pool":     POOL,
	"rule":     RULE,
	"default":  DEFAULT,
	"include":  INCLUDE,
	"subninja": SUBNINJA,
}

// lexerState is the offset of processing a token. It is saved separately
// from the rest of lexer so an error message can be produced for a position
// visited earlier than the current read head (used when an included file
// fails to open, after the include path has already been consumed).
type lexerState struct {
	ofs       int
	lastToken int
}

// error constructs an error message with file:line:column context,
// quoting the source line around the failure.
func (l *lexerState) error(message, filename string, input []byte) error {
	line := 1
	lineStart := 0
	for p := 0; p < l.lastToken && p < len(input); p++ {
		if input[p] == '\n' {
			line++
			lineStart = p + 1
		}
	}
	col := 0
	if l.lastToken != -1 {
		col = l.lastToken - lineStart
	}

	snippet := ""
	const truncateColumn = 72
	if col > 0 && col < truncateColumn {
		truncated := true
		length := 0
		for ; length < truncateColumn && lineStart+length < len(input); length++ {
			if input[lineStart+length] == 0 || input[lineStart+length] == '\n' {
				truncated = false
				break
			}
		}
		snippet = string(input[lineStart : lineStart+length])
		if truncated {
			snippet += "..."
		}
		snippet += "\n" + strings.Repeat(" ", col) + "^ near here"
	}
	return fmt.Errorf("%s:%d: %s\n%s", filename, line, message, snippet)
}

// lexer tokenizes a build-file's bytes. The input must carry a trailing NUL
// byte, which the scanner uses as an unambiguous end-of-buffer sentinel
// instead of bounds-checking every read.
type lexer struct {
	// Immutable.
	filename string
	input    []byte

	// Mutable.
	lexerState
}

// Error constructs an error message anchored at the last token read.
func (l *lexer) Error(message string) error {
	return l.lexerState.error(message, l.filename, l.input)
}

// Start begins parsing some input. input must end with a NUL byte.
func (l *lexer) Start(filename string, input []byte) error {
	if len(input) == 0 || input[len(input)-1] != 0 {
		return fmt.Errorf("lexer: input for %s must end with a NUL byte", filename)
	}
	l.filename = filename
	l.input = input
	l.ofs = 0
	l.lastToken = -1
	return nil
}

// Location returns "file:line" for the last token read, recorded on each
// edge for diagnostics.
func (l *lexer) Location() string {
	line := 1
	for p := 0; p < l.lastToken && p < len(l.input); p++ {
		if l.input[p] == '\n' {
			line++
		}
	}
	return fmt.Sprintf("%s:%d", l.filename, line)
}

// DescribeLastError returns extra detail about the last ERROR token, or a
// generic message.
func (l *lexer) DescribeLastError() string {
	if l.lastToken != -1 && l.lastToken < len(l.input) {
		if l.input[l.lastToken] == '\t' {
			return "tabs are not allowed, use spaces"
		}
	}
	return "lexing error"
}

// UnreadToken rewinds to the start of the last token read.
func (l *lexer) UnreadToken() {
	l.ofs = l.lastToken
}

func isVarnameChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_' || c == '.' || c == '-'
}

func isSimpleVarnameChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_' || c == '-'
}

// ReadToken scans and returns the next token, consuming trailing whitespace
// (except after a NEWLINE or TEOF token) the way the grammar expects: a
// run of leading spaces at the start of a line is itself the INDENT token,
// while space separating tokens mid-line is silent.
func (l *lexer) ReadToken() Token {
	p := l.ofs
	n := len(l.input)
	var token Token

scan:
	start := p
	c := l.input[p]
	switch {
	case c == 0:
		token = TEOF
		p++
	case c == '\n':
		token = NEWLINE
		p++
	case c == '\r':
		if p+1 < n && l.input[p+1] == '\n' {
			p += 2
		} else {
			p++
		}
		token = NEWLINE
	case c == ' ':
		// A run of spaces. A line that is blank but for spaces (optionally
		// followed by a comment) produces NEWLINE, not INDENT -- only spaces
		// followed by real content are an indent.
		for p < n && l.input[p] == ' ' {
			p++
		}
		if p < n && l.input[p] == '#' {
			for p < n && l.input[p] != '\n' && l.input[p] != 0 {
				p++
			}
			if p < n && l.input[p] == '\n' {
				p++
			}
			goto scan
		}
		if p < n && l.input[p] == '\r' && p+1 < n && l.input[p+1] == '\n' {
			p += 2
			token = NEWLINE
			break
		}
		if p < n && l.input[p] == '\n' {
			p++
			token = NEWLINE
			break
		}
		token = INDENT
	case c == '#':
		for p < n && l.input[p] != '\n' && l.input[p] != 0 {
			p++
		}
		if p < n && l.input[p] == '\n' {
			p++
		}
		goto scan
	case c == '=':
		token = EQUALS
		p++
	case c == ':':
		token = COLON
		p++
	case c == '|':
		if p+1 < n && l.input[p+1] == '|' {
			token = PIPE2
			p += 2
		} else {
			token = PIPE
			p++
		}
	case isVarnameChar(c):
		q := p
		for q < n && isVarnameChar(l.input[q]) {
			q++
		}
		word := bytesToString(l.input[p:q])
		if kw, ok := keywords[word]; ok {
			token = kw
		} else {
			token = IDENT
		}
		p = q
	default:
		token = ERROR
		p++
	}

	l.lastToken = start
	l.ofs = p
	if token != NEWLINE && token != TEOF {
		l.eatWhitespace()
	}
	return token
}

// PeekToken reads the next token; if it matches token, consumes it and
// returns true, otherwise rewinds and returns false.
func (l *lexer) PeekToken(token Token) bool {
	if l.ReadToken() == token {
		return true
	}
	l.UnreadToken()
	return false
}

// eatWhitespace skips spaces and "$\n"-style line continuations, called
// after every token/ident/value read so the next read starts clean.
func (l *lexer) eatWhitespace() {
	n := len(l.input)
	for {
		p := l.ofs
		if p >= n {
			return
		}
		switch l.input[p] {
		case ' ':
			l.ofs++
		case '$':
			if p+1 < n && l.input[p+1] == '\n' {
				l.ofs += 2
			} else if p+2 < n && l.input[p+1] == '\r' && l.input[p+2] == '\n' {
				l.ofs += 3
			} else {
				return
			}
		default:
			return
		}
	}
}

// readIdent reads a simple identifier (a rule or variable name). Returns ""
// if one can't be read at the current position.
func (l *lexer) readIdent() string {
	p := l.ofs
	start := p
	n := len(l.input)
	for p < n && isVarnameChar(l.input[p]) {
		p++
	}
	if p == start {
		l.lastToken = start
		return ""
	}
	out := bytesToString(l.input[start:p])
	l.lastToken = start
	l.ofs = p
	l.eatWhitespace()
	return out
}

// readEvalString reads a $-escaped string.
//
// If path is true, it reads a path (stopping at unescaped space, ':', '|',
// or newline, complete with $escapes).
//
// If path is false, it reads the value side of a "var = value" line
// (stopping only at an unescaped newline).
//
// The returned EvalString may be empty if a delimiter is hit immediately.
func (l *lexer) readEvalString(path bool) (EvalString, error) {
	var eval EvalString
	n := len(l.input)
	appendText := func(s string) {
		if len(eval.Parsed) > 0 && !eval.Parsed[len(eval.Parsed)-1].Special {
			last := &eval.Parsed[len(eval.Parsed)-1]
			last.Text += s
		} else {
			eval.Parsed = append(eval.Parsed, TokenListItem{Text: s})
		}
	}
	appendSpecial := func(s string) {
		eval.Parsed = append(eval.Parsed, TokenListItem{Text: s, Special: true})
	}

	for {
		p := l.ofs
		if p >= n {
			l.lastToken = p
			return EvalString{}, l.Error("unexpected EOF")
		}
		c := l.input[p]
		switch {
		case c == 0:
			l.lastToken = p
			return EvalString{}, l.Error("unexpected EOF")
		case c == '\r':
			if p+1 < n && l.input[p+1] == '\n' {
				if path {
					l.ofs = p
				} else {
					l.ofs = p + 2
				}
				l.lastToken = p
				goto done
			}
			fallthrough
		case c == '\n':
			if path {
				l.ofs = p
			} else {
				l.ofs = p + 1
			}
			l.lastToken = p
			goto done
		case c == ' ' || c == ':' || c == '|':
			if path {
				l.ofs = p
				l.lastToken = p
				goto done
			}
			appendText(string(c))
			l.ofs = p + 1
		case c == '$':
			if p+1 >= n {
				l.lastToken = p
				return EvalString{}, l.Error("bad $-escape (literal $ must be written as $$)")
			}
			next := l.input[p+1]
			switch {
			case next == '$':
				appendText("$")
				l.ofs = p + 2
			case next == ' ':
				appendText(" ")
				l.ofs = p + 2
			case next == ':':
				appendText(":")
				l.ofs = p + 2
			case next == '\n':
				l.ofs = p + 2
				l.skipLeadingSpaces()
			case next == '\r' && p+2 < n && l.input[p+2] == '\n':
				l.ofs = p + 3
				l.skipLeadingSpaces()
			case next == '{':
				q := p + 2
				for q < n && isVarnameChar(l.input[q]) {
					q++
				}
				if q >= n || l.input[q] != '}' {
					l.lastToken = p
					return EvalString{}, l.Error("bad $-escape (literal $ must be written as $$)")
				}
				appendSpecial(bytesToString(l.input[p+2 : q]))
				l.ofs = q + 1
			case isSimpleVarnameChar(next):
				q := p + 1
				for q < n && isSimpleVarnameChar(l.input[q]) {
					q++
				}
				appendSpecial(bytesToString(l.input[p+1 : q]))
				l.ofs = q
			default:
				l.lastToken = p
				return EvalString{}, l.Error("bad $-escape (literal $ must be written as $$)")
			}
		default:
			q := p
			for q < n {
				switch l.input[q] {
				case '$', ' ', ':', '\r', '\n', 0, '|':
					goto flush
				}
				q++
			}
		flush:
			appendText(bytesToString(l.input[p:q]))
			l.ofs = q
		}
	}
done:
	if path {
		l.eatWhitespace()
	}
	return eval, nil
}

// skipLeadingSpaces consumes spaces immediately following a "$\n" line
// continuation, matching the grammar's "$\n"[ ]* rule.
func (l *lexer) skipLeadingSpaces() {
	n := len(l.input)
	for l.ofs < n && l.input[l.ofs] == ' ' {
		l.ofs++
	}
}

// bytesToString returns a copy of b's bytes as a string, so the result stays
// valid even if the buffer it came from is later modified.
func bytesToString(b []byte) string {
	return string(b)
}
