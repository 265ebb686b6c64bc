package schema

import (
	"context"
	"fmt"
)

// Document is a unit of text with provenance metadata. Retrievers return
// documents as passages: content plus the metadata of the chunk they came from.
type Document struct {
	PageContent string
	Metadata    map[string]any
}

func (d Document) String() string {
	return d.PageContent
}

func NewDocument(content string, metadata map[string]any) Document {
	if metadata == nil {
		metadata = make(map[string]any)
	}
	return Document{
		PageContent: content,
		Metadata:    metadata,
	}
}

// Metadata keys every chunk carries, plus the CSV row number of chunks that
// came from a table row.
const (
	MetadataSource = "source"
	MetadataIndex  = "index"
	MetadataRow    = "row"
)

// Chunk is a bounded segment of a source document. Embedding is nil until the
// chunk has been embedded; a chunk without an embedding is never returned by
// vector search.
type Chunk struct {
	ID        string
	Content   string
	Metadata  map[string]any
	Embedding []float32
}

// Source returns the source document identifier of the chunk.
func (c Chunk) Source() string {
	s, _ := c.Metadata[MetadataSource].(string)
	return s
}

// Index returns the zero-based position of the chunk within its source.
func (c Chunk) Index() int {
	switch v := c.Metadata[MetadataIndex].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return -1
}

// SearchHit is a single ranked result from a vector or keyword search.
type SearchHit struct {
	Content  string
	Metadata map[string]any
	Score    float32
}

// Document converts the hit to a passage.
func (h SearchHit) Document() Document {
	return NewDocument(h.Content, h.Metadata)
}

// Filter restricts a search to records whose metadata field at Path equals Value.
// Path may be given bare ("source") or prefixed ("metadata.source").
type Filter struct {
	Path  string
	Value any
}

func (f Filter) String() string {
	return fmt.Sprintf("%s=%v", f.Path, f.Value)
}

type Retriever interface {
	GetRelevantDocuments(ctx context.Context, query string) ([]Document, error)
}

type ChatMessage interface {
	GetType() ChatMessageType
	GetContent() string
}

type SystemChatMessage struct {
	Content string
}

func (m SystemChatMessage) GetType() ChatMessageType {
	return ChatMessageTypeSystem
}

func (m SystemChatMessage) GetContent() string {
	return m.Content
}

type HumanChatMessage struct {
	Content string
}

func (m HumanChatMessage) GetType() ChatMessageType {
	return ChatMessageTypeHuman
}

func (m HumanChatMessage) GetContent() string {
	return m.Content
}

type AIChatMessage struct {
	Content string
}

func (m AIChatMessage) GetType() ChatMessageType {
	return ChatMessageTypeAI
}

func (m AIChatMessage) GetContent() string {
	return m.Content
}

func NewHumanChatMessage(content string) HumanChatMessage {
	return HumanChatMessage{Content: content}
}

func NewAIChatMessage(content string) AIChatMessage {
	return AIChatMessage{Content: content}
}
