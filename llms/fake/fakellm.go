package fake

import (
	"context"
	"errors"
	"sync"

	"github.com/sevigo/policyrag/llms"
	"github.com/sevigo/policyrag/schema"
)

// LLM cycles through scripted responses and records what it was asked.
type LLM struct {
	mu           sync.Mutex
	responses    []string
	index        int
	lastMessages []schema.MessageContent
	callCount    int
	err          error
}

var _ llms.Model = (*LLM)(nil)

func NewFakeLLM(responses []string) *LLM {
	return &LLM{
		responses: responses,
	}
}

// GenerateContent returns the next predefined response in the cycle.
func (f *LLM) GenerateContent(
	_ context.Context,
	messages []schema.MessageContent,
	_ ...llms.CallOption,
) (*llms.ContentResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.lastMessages = append([]schema.MessageContent(nil), messages...)
	f.callCount++

	if f.err != nil {
		return nil, f.err
	}
	if len(f.responses) == 0 {
		return nil, errors.New("no responses configured")
	}

	response := f.responses[f.index]
	f.index = (f.index + 1) % len(f.responses)

	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{
			{Content: response},
		},
	}, nil
}

// Call is a simplified interface for generating responses from a string prompt.
func (f *LLM) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

// SetError makes every following call fail with err. Pass nil to recover.
func (f *LLM) SetError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// Reset resets the response index and call count.
func (f *LLM) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.index = 0
	f.callCount = 0
	f.lastMessages = nil
	f.err = nil
}

// AddResponse appends a new response to the list.
func (f *LLM) AddResponse(response string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, response)
}

// LastPrompt returns the text of all messages of the last call, joined by newlines.
func (f *LLM) LastPrompt() (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.lastMessages) == 0 {
		return "", false
	}
	var out string
	for i, m := range f.lastMessages {
		if i > 0 {
			out += "\n"
		}
		out += m.GetTextContent()
	}
	return out, true
}

// LastMessages returns the messages of the last call.
func (f *LLM) LastMessages() []schema.MessageContent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]schema.MessageContent(nil), f.lastMessages...)
}

// GetCallCount returns the number of times the LLM was called.
func (f *LLM) GetCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.callCount
}
