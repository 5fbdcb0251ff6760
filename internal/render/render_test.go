package render

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderLiteralRoundTrip(t *testing.T) {
	r := NewRenderer()

	text := "ntp server 10.0.0.1\nntp server 10.0.0.2\n"
	artifact, err := r.Render(text, map[string]any{"anything": "else"})
	require.NoError(t, err)
	assert.Equal(t, text, artifact.Content)

	// Same template, nil context.
	artifact, err = r.Render(text, nil)
	require.NoError(t, err)
	assert.Equal(t, text, artifact.Content)
}

func TestRenderSubstitution(t *testing.T) {
	r := NewRenderer()

	ctx := map[string]any{
		"hostname": "sw-core-01",
		"vlan":     120,
	}
	artifact, err := r.Render("hostname {{ .hostname }}\nvlan {{ .vlan }}", ctx)
	require.NoError(t, err)
	assert.Equal(t, "hostname sw-core-01\nvlan 120", artifact.Content)
}

func TestRenderNestedPath(t *testing.T) {
	r := NewRenderer()

	ctx := map[string]any{
		"ntp": map[string]any{"servers": []any{"10.1.1.1", "10.1.1.2"}},
	}
	artifact, err := r.Render(`{{ range .ntp.servers }}ntp server {{ . }}
{{ end }}`, ctx)
	require.NoError(t, err)
	assert.Equal(t, "ntp server 10.1.1.1\nntp server 10.1.1.2\n", artifact.Content)
}

func TestRenderConditionalBlock(t *testing.T) {
	r := NewRenderer()

	tmpl := `{{ if eq .role "core" }}spanning-tree mode rapid-pvst{{ end }}`

	artifact, err := r.Render(tmpl, map[string]any{"role": "core"})
	require.NoError(t, err)
	assert.Equal(t, "spanning-tree mode rapid-pvst", artifact.Content)

	artifact, err = r.Render(tmpl, map[string]any{"role": "access"})
	require.NoError(t, err)
	assert.Equal(t, "", artifact.Content)
}

func TestRenderUnbalancedDelimiters(t *testing.T) {
	r := NewRenderer()

	_, err := r.Render("hostname {{ .hostname", map[string]any{"hostname": "x"})
	var syntaxErr *SyntaxError
	require.True(t, errors.As(err, &syntaxErr))
}

func TestRenderParseError(t *testing.T) {
	r := NewRenderer()

	_, err := r.Render("{{ if .a }}never closed", map[string]any{"a": true})
	var syntaxErr *SyntaxError
	require.True(t, errors.As(err, &syntaxErr))
}

func TestRenderUndefinedReference(t *testing.T) {
	r := NewRenderer()

	_, err := r.Render("{{ .foo.bar }}", map[string]any{"other": 1})
	var undefErr *UndefinedReferenceError
	require.True(t, errors.As(err, &undefErr), "expected UndefinedReferenceError, got %v", err)
	assert.Equal(t, "foo", undefErr.Path)

	// A present parent with a missing child is still undefined, not empty.
	_, err = r.Render("{{ .foo.bar }}", map[string]any{"foo": map[string]any{"baz": 1}})
	require.True(t, errors.As(err, &undefErr))
	assert.Equal(t, "bar", undefErr.Path)
}

func TestRenderRuntimeError(t *testing.T) {
	r := NewRenderer()

	// join expects a list; handing it a scalar is a type mismatch at runtime.
	_, err := r.Render(`{{ join "," .name }}`, map[string]any{"name": "not-a-list"})
	var runtimeErr *RuntimeError
	require.True(t, errors.As(err, &runtimeErr), "expected RuntimeError, got %v", err)
}

func TestRenderHelpers(t *testing.T) {
	r := NewRenderer()

	artifact, err := r.Render(`{{ upper .name }} {{ default "none" .missing }}`, map[string]any{
		"name":    "core",
		"missing": "",
	})
	require.NoError(t, err)
	assert.Equal(t, "CORE none", artifact.Content)
}

func TestRenderIsPure(t *testing.T) {
	r := NewRenderer()

	ctx := map[string]any{"hostname": "sw1"}
	first, err := r.Render("hostname {{ .hostname }}", ctx)
	require.NoError(t, err)
	second, err := r.Render("hostname {{ .hostname }}", ctx)
	require.NoError(t, err)
	assert.Equal(t, first.Content, second.Content)
	assert.Equal(t, map[string]any{"hostname": "sw1"}, ctx)
}
