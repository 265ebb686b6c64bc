package memory_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sevigo/policyrag/memory"
	"github.com/sevigo/policyrag/schema"
)

func TestConversationBuffer_Render(t *testing.T) {
	b := memory.NewConversationBuffer()
	assert.Equal(t, "", b.Render())

	b.AddUserMessage("How many vacation days?")
	b.AddAIMessage("You get 20 days per year.\nUnused days carry over.")

	assert.Equal(t,
		"User: How many vacation days?\nAssistant: You get 20 days per year. Unused days carry over.",
		b.Render())
	assert.Equal(t, b.Render(), b.Render(), "render is deterministic")
}

func TestConversationBuffer_Truncation(t *testing.T) {
	b := memory.NewConversationBuffer()
	assert.Equal(t, memory.DefaultMaxTurns, b.MaxTurns())
	require.NoError(t, b.SetMaxTurns(3))

	for i := 0; i < 2*3+2; i++ {
		b.AddUserMessage(fmt.Sprintf("turn %d", i))
	}

	turns := b.Turns()
	require.Len(t, turns, 6)
	assert.Equal(t, "turn 2", turns[0].GetContent())
	assert.Equal(t, "turn 7", turns[5].GetContent())
}

func TestConversationBuffer_DefaultLimit(t *testing.T) {
	b := memory.NewConversationBuffer()
	for i := 0; i < 25; i++ {
		b.AddUserMessage(fmt.Sprintf("q%d", i))
		b.AddAIMessage(fmt.Sprintf("a%d", i))
	}
	assert.Equal(t, 20, b.Len())
	assert.Equal(t, "q15", b.Turns()[0].GetContent())
}

func TestConversationBuffer_SetMaxTurnsTruncatesImmediately(t *testing.T) {
	b := memory.NewConversationBuffer()
	for i := 0; i < 10; i++ {
		b.AddUserMessage(fmt.Sprintf("turn %d", i))
	}
	require.NoError(t, b.SetMaxTurns(2))
	assert.Equal(t, 4, b.Len())
	assert.Equal(t, "turn 6", b.Turns()[0].GetContent())

	assert.ErrorIs(t, b.SetMaxTurns(0), schema.ErrConfig)
	assert.Equal(t, 2, b.MaxTurns())
}

func TestConversationBuffer_ClearAndMessages(t *testing.T) {
	b := memory.NewConversationBuffer()
	b.AddUserMessage("hi")
	b.AddAIMessage("hello")

	msgs := b.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, schema.ChatMessageTypeHuman, msgs[0].Role)
	assert.Equal(t, schema.ChatMessageTypeAI, msgs[1].Role)

	turns := b.Turns()
	b.Clear()
	assert.Zero(t, b.Len())
	assert.Empty(t, b.Render())
	assert.Len(t, turns, 2, "snapshots are unaffected by Clear")
}

func TestConversationBuffer_Concurrent(t *testing.T) {
	b := memory.NewConversationBuffer()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			b.AddUserMessage(fmt.Sprintf("q%d", i))
		}(i)
		go func() {
			defer wg.Done()
			_ = b.Render()
		}()
	}
	wg.Wait()
	assert.Equal(t, 2*memory.DefaultMaxTurns, b.Len())
}
