package llms

import (
	"context"
	"fmt"
	"strings"

	"github.com/sevigo/policyrag/schema"
)

// Model is a chat-completion provider: structured messages in, text out.
type Model interface {
	GenerateContent(ctx context.Context, messages []schema.MessageContent, options ...CallOption) (*ContentResponse, error)
	Call(ctx context.Context, prompt string, options ...CallOption) (string, error)
}

// ErrEmptyResponse is returned when a provider answers without any choice.
var ErrEmptyResponse = fmt.Errorf("%w: empty response from model", schema.ErrProvider)

func GenerateFromSinglePrompt(ctx context.Context, llm Model, prompt string, options ...CallOption) (string, error) {
	resp, err := llm.GenerateContent(ctx, []schema.MessageContent{schema.NewHumanMessage(prompt)}, options...)
	if err != nil {
		return "", err
	}
	return FirstChoice(resp)
}

// FirstChoice returns the content of the first choice.
func FirstChoice(resp *ContentResponse) (string, error) {
	if resp == nil || len(resp.Choices) < 1 {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Content, nil
}

func TextParts(role schema.ChatMessageType, parts ...string) schema.MessageContent {
	result := schema.MessageContent{
		Role:  role,
		Parts: make([]schema.ContentPart, 0, len(parts)),
	}
	for _, part := range parts {
		result.Parts = append(result.Parts, schema.TextContent{Text: part})
	}
	return result
}

// SplitSystem separates leading system messages from the conversation
// turns, joining the system texts with a blank line.
func SplitSystem(messages []schema.MessageContent) (string, []schema.MessageContent) {
	var system []string
	i := 0
	for ; i < len(messages) && messages[i].Role == schema.ChatMessageTypeSystem; i++ {
		system = append(system, messages[i].GetTextContent())
	}
	return strings.Join(system, "\n\n"), messages[i:]
}
