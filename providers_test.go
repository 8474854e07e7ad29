package rowbatch

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimplePromptProvider_GetPrompt(t *testing.T) {
	provider := SimplePromptProvider{
		"test":  "Describe {{company}}",
		"basic": "Basic prompt",
	}

	t.Run("existing prompt", func(t *testing.T) {
		prompt, err := provider.GetPrompt("test")
		require.NoError(t, err)
		assert.Equal(t, "Describe {{company}}", prompt)
	})

	t.Run("non-existing prompt", func(t *testing.T) {
		prompt, err := provider.GetPrompt("nonexistent")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "not found")
		assert.Empty(t, prompt)
	})
}

func TestWithVar(t *testing.T) {
	provider, err := NewStickPromptProvider(
		WithTemplates(map[string]string{"test": "Test with {{customVar}}"}),
		WithVar("customVar", "custom value"),
	)
	require.NoError(t, err)

	prompt, err := provider.GetPrompt("test")
	require.NoError(t, err)
	assert.Equal(t, "Test with custom value", prompt)
}

func TestNewStickPromptProvider(t *testing.T) {
	t.Run("empty provider", func(t *testing.T) {
		provider, err := NewStickPromptProvider()
		require.NoError(t, err)
		_, err = provider.GetPrompt("nonexistent")
		assert.Error(t, err)
	})

	t.Run("tag is bound", func(t *testing.T) {
		provider, err := NewStickPromptProvider(WithTemplates(map[string]string{"test": "Hello {{tag}}"}))
		require.NoError(t, err)
		prompt, err := provider.GetPrompt("test")
		require.NoError(t, err)
		assert.Equal(t, "Hello test", prompt)
	})
}

func TestStickPromptProvider_AddTemplate(t *testing.T) {
	provider, err := NewStickPromptProvider()
	require.NoError(t, err)

	provider.AddTemplate("new", "New template")

	prompt, err := provider.GetPrompt("new")
	require.NoError(t, err)
	assert.Equal(t, "New template", prompt)
}

func TestStickPromptProvider_WithFS(t *testing.T) {
	fsys := fstest.MapFS{
		"prompts/hq.twig":     {Data: []byte("Where is {{ company }} based?")},
		"prompts/readme.md":   {Data: []byte("ignored")},
		"prompts/sub/ceo.twig": {Data: []byte("Who runs {{ company }}?")},
	}
	provider, err := NewStickPromptProvider(WithFS(fsys, "prompts"))
	require.NoError(t, err)

	prompt, err := provider.GetPromptWithColumns("hq", []string{"company"})
	require.NoError(t, err)
	assert.Equal(t, "Where is {{company}} based?", prompt)

	prompt, err = provider.GetPromptWithColumns("ceo", []string{"company"})
	require.NoError(t, err)
	assert.Equal(t, "Who runs {{company}}?", prompt)

	_, err = provider.GetPrompt("readme")
	assert.Error(t, err)
}

func TestStickPromptProvider_GetPromptWithColumns(t *testing.T) {
	templates := map[string]string{
		"list": "Columns: {{ ColumnList }}",
		"loop": "{% for c in columns %}[{{ c }}]{% endfor %}",
	}
	provider, err := NewStickPromptProvider(WithTemplates(templates))
	require.NoError(t, err)

	t.Run("column list", func(t *testing.T) {
		prompt, err := provider.GetPromptWithColumns("list", []string{"name", "city"})
		require.NoError(t, err)
		assert.Equal(t, "Columns: name, city", prompt)
	})

	t.Run("loop over columns", func(t *testing.T) {
		prompt, err := provider.GetPromptWithColumns("loop", []string{"a", "b"})
		require.NoError(t, err)
		assert.Equal(t, "[a][b]", prompt)
	})

	t.Run("rendered template feeds RenderPrompt", func(t *testing.T) {
		provider.AddTemplate("row", "Company: {{ company }}")
		tpl, err := provider.GetPromptWithColumns("row", []string{"company"})
		require.NoError(t, err)
		assert.Equal(t, "Company: Acme", RenderPrompt(tpl, RecordOf("company", "Acme"), ""))
	})
}

func TestResolveTemplate(t *testing.T) {
	simple := SimplePromptProvider{"t": "raw {{company}}"}
	tpl, err := ResolveTemplate(simple, "t", []string{"company"})
	require.NoError(t, err)
	assert.Equal(t, "raw {{company}}", tpl)

	stick, err := NewStickPromptProvider(WithTemplates(map[string]string{"t": "twig {{ company }}"}))
	require.NoError(t, err)
	tpl, err = ResolveTemplate(stick, "t", []string{"company"})
	require.NoError(t, err)
	assert.Equal(t, "twig {{company}}", tpl)
}
