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

import "testing"

func mustLexer(t *testing.T, input string) *lexer {
	t.Helper()
	var l lexer
	if err := l.Start("input", append([]byte(input), 0)); err != nil {
		t.Fatal(err)
	}
	return &l
}

func TestLexer_ReadIdent(t *testing.T) {
	l := mustLexer(t, "foo baR baz_123 foo-bar")
	for _, want := range []string{"foo", "baR", "baz_123", "foo-bar"} {
		if got := l.readIdent(); got != want {
			t.Fatalf("readIdent() = %q, want %q", got, want)
		}
	}
}

func TestLexer_ReadEvalStringEscapes(t *testing.T) {
	l := mustLexer(t, "$ $$ab c$: $\ncde\n")
	eval, err := l.readEvalString(false)
	if err != nil {
		t.Fatal(err)
	}
	if got := eval.Unparse(); got != " $ab c: cde" {
		t.Fatalf("Unparse() = %q", got)
	}
}

func TestLexer_ReadEvalStringSpecial(t *testing.T) {
	l := mustLexer(t, "plain text $var ${x}\n")
	eval, err := l.readEvalString(false)
	if err != nil {
		t.Fatal(err)
	}
	want := []TokenListItem{
		{Text: "plain text "},
		{Text: "var", Special: true},
		{Text: " "},
		{Text: "x", Special: true},
	}
	if len(eval.Parsed) != len(want) {
		t.Fatalf("Parsed = %#v", eval.Parsed)
	}
	for i, tok := range want {
		if eval.Parsed[i] != tok {
			t.Fatalf("Parsed[%d] = %#v, want %#v", i, eval.Parsed[i], tok)
		}
	}
}

func TestLexer_ReadTokenBuildStatement(t *testing.T) {
	l := mustLexer(t, "build out: cat in\n")
	want := []Token{BUILD, IDENT, COLON, IDENT, IDENT, NEWLINE, TEOF}
	for _, tok := range want {
		if got := l.ReadToken(); got != tok {
			t.Fatalf("ReadToken() = %s, want %s", got, tok)
		}
	}
}

func TestLexer_UnreadToken(t *testing.T) {
	l := mustLexer(t, "build out: cat in\n")
	if got := l.ReadToken(); got != BUILD {
		t.Fatalf("ReadToken() = %s", got)
	}
	l.UnreadToken()
	if got := l.ReadToken(); got != BUILD {
		t.Fatalf("ReadToken() after unread = %s", got)
	}
}
