// Package memory keeps the recent turns of one conversation.
package memory

import (
	"fmt"
	"strings"
	"sync"

	"github.com/sevigo/policyrag/schema"
)

// DefaultMaxTurns is the number of user and assistant pairs kept.
const DefaultMaxTurns = 10

var ErrInvalidMaxTurns = fmt.Errorf("%w: max turns must be at least 1", schema.ErrConfig)

// ConversationBuffer holds at most 2*maxTurns messages, dropping the oldest
// after each append. It is safe for concurrent use.
type ConversationBuffer struct {
	mu       sync.RWMutex
	turns    []schema.ChatMessage
	maxTurns int
}

func NewConversationBuffer() *ConversationBuffer {
	return &ConversationBuffer{maxTurns: DefaultMaxTurns}
}

// AppendTurn adds one message and truncates.
func (b *ConversationBuffer) AppendTurn(turn schema.ChatMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.turns = append(b.turns, turn)
	b.truncateLocked()
}

func (b *ConversationBuffer) AddUserMessage(content string) {
	b.AppendTurn(schema.NewHumanChatMessage(content))
}

func (b *ConversationBuffer) AddAIMessage(content string) {
	b.AppendTurn(schema.NewAIChatMessage(content))
}

// Render returns one line per turn, oldest first, each prefixed with its
// role label. Line breaks inside a turn are folded into spaces.
func (b *ConversationBuffer) Render() string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var sb strings.Builder
	for i, t := range b.turns {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(t.GetType().Label())
		sb.WriteString(": ")
		sb.WriteString(strings.Join(strings.Fields(t.GetContent()), " "))
	}
	return sb.String()
}

// Messages returns the turns as chat messages for providers that take a
// message list.
func (b *ConversationBuffer) Messages() []schema.MessageContent {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]schema.MessageContent, len(b.turns))
	for i, t := range b.turns {
		out[i] = schema.MessageFromTurn(t)
	}
	return out
}

// Turns returns a copy of the current turns.
func (b *ConversationBuffer) Turns() []schema.ChatMessage {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]schema.ChatMessage(nil), b.turns...)
}

func (b *ConversationBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.turns)
}

func (b *ConversationBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.turns = nil
}

// SetMaxTurns changes the pair limit and truncates right away.
func (b *ConversationBuffer) SetMaxTurns(n int) error {
	if n < 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidMaxTurns, n)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maxTurns = n
	b.truncateLocked()
	return nil
}

func (b *ConversationBuffer) MaxTurns() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.maxTurns
}

func (b *ConversationBuffer) truncateLocked() {
	limit := 2 * b.maxTurns
	if over := len(b.turns) - limit; over > 0 {
		b.turns = append([]schema.ChatMessage(nil), b.turns[over:]...)
	}
}
