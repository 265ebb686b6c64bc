package llms_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sevigo/policyrag/llms"
	"github.com/sevigo/policyrag/schema"
)

func TestSplitSystem(t *testing.T) {
	system, rest := llms.SplitSystem([]schema.MessageContent{
		schema.NewSystemMessage("role"),
		schema.NewSystemMessage("rules"),
		schema.NewHumanMessage("question"),
		schema.NewAIMessage("answer"),
	})
	assert.Equal(t, "role\n\nrules", system)
	assert.Len(t, rest, 2)
	assert.Equal(t, schema.ChatMessageTypeHuman, rest[0].Role)

	system, rest = llms.SplitSystem([]schema.MessageContent{schema.NewHumanMessage("only")})
	assert.Empty(t, system)
	assert.Len(t, rest, 1)
}

func TestFirstChoice(t *testing.T) {
	_, err := llms.FirstChoice(nil)
	assert.ErrorIs(t, err, schema.ErrProvider)

	content, err := llms.FirstChoice(&llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: "hi"}}})
	assert.NoError(t, err)
	assert.Equal(t, "hi", content)
}

func TestCallOptions(t *testing.T) {
	opts := llms.ApplyCallOptions(llms.WithModel("m"), llms.WithTemperature(0), llms.WithMaxTokens(64))
	assert.Equal(t, "m", opts.Model)
	if assert.NotNil(t, opts.Temperature) {
		assert.Equal(t, 0.0, *opts.Temperature)
	}
	assert.Equal(t, 64, opts.MaxTokens)
}
