package prompts_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sevigo/policyrag/prompts"
	"github.com/sevigo/policyrag/schema"
)

func TestPromptTemplate(t *testing.T) {
	tmpl := prompts.NewPromptTemplate("{{.a}} and {{.b}}, again {{.a}}")

	t.Run("format", func(t *testing.T) {
		assert.Equal(t, "x and y, again x", tmpl.Format(map[string]string{"a": "x", "b": "y"}))
	})

	t.Run("missing value stays", func(t *testing.T) {
		assert.Equal(t, "x and {{.b}}, again x", tmpl.Format(map[string]string{"a": "x"}))
	})

	t.Run("substituted text is not rescanned", func(t *testing.T) {
		assert.Equal(t, "{{.b}} and y, again {{.b}}", tmpl.Format(map[string]string{"a": "{{.b}}", "b": "y"}))
	})

	t.Run("variables", func(t *testing.T) {
		assert.Equal(t, []string{"a", "b"}, tmpl.Variables())
	})

	t.Run("strict", func(t *testing.T) {
		_, err := tmpl.FormatStrict(map[string]string{"a": "x"})
		assert.ErrorIs(t, err, schema.ErrConfig)

		out, err := tmpl.FormatStrict(map[string]string{"a": "x", "b": "y"})
		require.NoError(t, err)
		assert.Equal(t, "x and y, again x", out)
	})
}

func TestPolicyQA(t *testing.T) {
	p := prompts.NewPolicyQA("Vacation: 20 days/year.", "", "How many vacation days?")
	assert.Contains(t, p.System, "Vacation: 20 days/year.")
	assert.Contains(t, p.System, "Answer only from the policy context")
	assert.Contains(t, p.System, "cannot find the answer")
	assert.Equal(t, "(no previous conversation)", p.History)

	msgs := p.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, schema.ChatMessageTypeSystem, msgs[0].Role)
	assert.Equal(t, schema.ChatMessageTypeHuman, msgs[1].Role)
	assert.Equal(t, "Conversation so far:\n(no previous conversation)\n\nQuestion: How many vacation days?", msgs[1].GetTextContent())
}
