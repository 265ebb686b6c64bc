package schema

import "strings"

// ChatMessageType is the speaker of a message or conversation turn.
type ChatMessageType string

const (
	ChatMessageTypeSystem ChatMessageType = "system"
	ChatMessageTypeHuman  ChatMessageType = "human"
	ChatMessageTypeAI     ChatMessageType = "ai"
)

// Label is the prefix used when a turn is rendered as text.
func (t ChatMessageType) Label() string {
	switch t {
	case ChatMessageTypeHuman:
		return "User"
	case ChatMessageTypeAI:
		return "Assistant"
	case ChatMessageTypeSystem:
		return "System"
	}
	return string(t)
}

type ContentPart interface {
	String() string
	isPart()
}

type TextContent struct {
	Text string
}

func (tc TextContent) String() string { return tc.Text }

func (TextContent) isPart() {}

// MessageContent is one provider-bound message. Prompts are text only, so
// every part is a TextContent.
type MessageContent struct {
	Role  ChatMessageType
	Parts []ContentPart
}

// GetTextContent joins the non-empty parts with newlines.
func (mc MessageContent) GetTextContent() string {
	texts := make([]string, 0, len(mc.Parts))
	for _, part := range mc.Parts {
		if s := part.String(); s != "" {
			texts = append(texts, s)
		}
	}
	return strings.Join(texts, "\n")
}

func NewTextMessage(role ChatMessageType, text string) MessageContent {
	return MessageContent{Role: role, Parts: []ContentPart{TextContent{Text: text}}}
}

func NewSystemMessage(text string) MessageContent { return NewTextMessage(ChatMessageTypeSystem, text) }

func NewHumanMessage(text string) MessageContent { return NewTextMessage(ChatMessageTypeHuman, text) }

func NewAIMessage(text string) MessageContent { return NewTextMessage(ChatMessageTypeAI, text) }

// MessageFromTurn converts a stored conversation turn into a provider message.
func MessageFromTurn(turn ChatMessage) MessageContent {
	return NewTextMessage(turn.GetType(), turn.GetContent())
}
