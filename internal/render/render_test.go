package render

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"workflow-provisioner/internal/templates"
	"workflow-provisioner/pkg/models"
)

func catalogTemplate(t *testing.T, id string) models.WorkflowTemplate {
	t.Helper()
	r, err := templates.Default()
	require.NoError(t, err)
	tpl, err := r.Get(id)
	require.NoError(t, err)
	return tpl
}

func TestRender_GoTemplateConditionals(t *testing.T) {
	tpl := catalogTemplate(t, "go")

	out, err := Render(tpl, map[string]any{
		"goVersion":   "1.21",
		"runTests":    true,
		"buildBinary": false,
	})
	require.NoError(t, err)

	assert.Contains(t, out, "go-version: '1.21'")
	assert.Contains(t, out, "- name: Run tests")
	assert.Contains(t, out, "run: go test -v ./...")
	assert.NotContains(t, out, "Build binary")
	assert.NotContains(t, out, "go build -o app")
	assert.NotContains(t, out, "variables.")
	assert.NotContains(t, out, "endif")

	var doc map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &doc))
}

func TestRender_Deterministic(t *testing.T) {
	tpl := catalogTemplate(t, "nodejs-cicd")
	vars := map[string]any{"nodeVersion": "22.x", "deployCommand": "make ship"}

	first, err := Render(tpl, vars)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := Render(tpl, vars)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	assert.Contains(t, first, "node-version: [ '22.x' ]")
	assert.Contains(t, first, "run: make ship")
	assert.Contains(t, first, "run: npm run build")
	// expressions owned by the CI runner survive
	assert.Contains(t, first, "${{ matrix.node-version }}")
}

func TestRender_NestedElse(t *testing.T) {
	tpl := catalogTemplate(t, "monorepo")

	turbo, err := Render(tpl, map[string]any{"packageManager": "pnpm", "useTurbo": true, "runTests": false})
	require.NoError(t, err)
	assert.Contains(t, turbo, "run: pnpm install -g turbo")
	assert.NotContains(t, turbo, "turbo run test")
	assert.NotContains(t, turbo, "Build packages")

	plain, err := Render(tpl, map[string]any{"packageManager": "yarn", "useTurbo": "false", "runTests": "true"})
	require.NoError(t, err)
	assert.NotContains(t, plain, "turbo")
	assert.Contains(t, plain, "run: yarn run build")
	assert.Contains(t, plain, "run: yarn run test")
}

func TestResolve_MissingRequired(t *testing.T) {
	tpl := models.WorkflowTemplate{
		ID: "custom",
		Variables: []models.WorkflowVariable{
			{Name: "region", Kind: models.KindString, Required: true},
			{Name: "replicas", Kind: models.KindNumber, Required: true},
			{Name: "verbose", Kind: models.KindBoolean},
		},
		Body: "region: ${{ variables.region }}\n",
	}

	_, err := Render(tpl, map[string]any{"region": "  ", "replicas": "many"})
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "custom", verr.TemplateID)
	assert.Len(t, verr.Problems, 2)
	assert.Contains(t, verr.Problems[0], "region: required")
	assert.Contains(t, verr.Problems[1], "replicas")
}

func TestResolve_DefaultsAndCoercion(t *testing.T) {
	def := models.BooleanValue(true)
	tpl := models.WorkflowTemplate{
		ID: "custom",
		Variables: []models.WorkflowVariable{
			{Name: "replicas", Kind: models.KindNumber, Required: true},
			{Name: "verbose", Kind: models.KindBoolean, Default: &def},
			{Name: "label", Kind: models.KindString},
		},
	}

	values, err := Resolve(tpl, map[string]any{"replicas": 3, "unknown": "ignored"})
	require.NoError(t, err)
	assert.Equal(t, "3", values["replicas"].String())
	assert.Equal(t, "true", values["verbose"].String())
	_, hasLabel := values["label"]
	assert.False(t, hasLabel)
	_, hasUnknown := values["unknown"]
	assert.False(t, hasUnknown)
}

func TestSubstitute_UnmatchedPlaceholdersStay(t *testing.T) {
	body := "a: ${{ variables.known }}\nb: ${{ variables.unknown }}\nc: ${{ secrets.TOKEN }}\nd: ${{ broken\n"
	out := Substitute(body, map[string]models.Value{"known": models.NumberValue(1.5)})
	assert.Equal(t, "a: 1.5\nb: ${{ variables.unknown }}\nc: ${{ secrets.TOKEN }}\nd: ${{ broken\n", out)
}

func TestSubstitute_UnresolvedConditionalStays(t *testing.T) {
	body := strings.Join([]string{
		"steps:",
		"  ${{ if variables.extra }}",
		"  - run: extra",
		"  ${{ endif }}",
		"  ${{ if variables.on }}",
		"  - run: on",
		"  ${{ else }}",
		"  - run: off",
		"  ${{ endif }}",
		"",
	}, "\n")
	out := Substitute(body, map[string]models.Value{"on": models.BooleanValue(false)})
	assert.Equal(t, strings.Join([]string{
		"steps:",
		"  ${{ if variables.extra }}",
		"  - run: extra",
		"  ${{ endif }}",
		"  - run: off",
		"",
	}, "\n"), out)
}

func TestSubstitute_UnterminatedBlockIsVerbatim(t *testing.T) {
	body := "x\n${{ if variables.flag }}\ny\n"
	out := Substitute(body, map[string]models.Value{"flag": models.BooleanValue(false)})
	assert.Equal(t, body, out)
}

func TestSubstitute_StrayDirectivesAreText(t *testing.T) {
	body := "${{ endif }}\n${{ else }}\n"
	assert.Equal(t, body, Substitute(body, nil))
}
