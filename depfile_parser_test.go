package n2

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseDepfile(t *testing.T, content string) *DepfileParser {
	t.Helper()
	var d DepfileParser
	require.NoError(t, d.Parse(append([]byte(content), 0)))
	return &d
}

func TestDepfileParser_Basic(t *testing.T) {
	d := parseDepfile(t, "build/ninja.o: ninja.cc ninja.h eval_env.h manifest_parser.h\n")
	assert.Equal(t, []string{"build/ninja.o"}, d.outs)
	assert.Equal(t, []string{"ninja.cc", "ninja.h", "eval_env.h", "manifest_parser.h"}, d.ins)
}

func TestDepfileParser_Continuation(t *testing.T) {
	d := parseDepfile(t, "foo.o: \\\n  bar.h baz.h\n")
	assert.Equal(t, []string{"foo.o"}, d.outs)
	assert.Equal(t, []string{"bar.h", "baz.h"}, d.ins)
}

func TestDepfileParser_EscapedSpace(t *testing.T) {
	d := parseDepfile(t, "foo: x\\ y\n")
	assert.Equal(t, []string{"foo"}, d.outs)
	assert.Equal(t, []string{"x y"}, d.ins)
}

func TestDepfileParser_DuplicateInputsDropped(t *testing.T) {
	d := parseDepfile(t, "out.o: foo.h bar.h foo.h\n")
	assert.Equal(t, []string{"foo.h", "bar.h"}, d.ins)
}

func TestDepfileParser_MissingColon(t *testing.T) {
	var d DepfileParser
	err := d.Parse(append([]byte("just some words\n"), 0))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected ':'")
}
