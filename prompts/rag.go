package prompts

import "github.com/sevigo/policyrag/schema"

const noHistory = "(no previous conversation)"

// PolicyQASystemPrompt sets the assistant role and confines answers to the
// retrieved context.
var PolicyQASystemPrompt = NewPromptTemplate(
	`You are PolicyBot, an assistant that answers employee questions about company policies.
Answer only from the policy context below. Do not use outside knowledge and do not make up rules.
If the context does not contain the answer, say that you cannot find the answer in the policy documents.

Policy context:
{{.context}}`)

// PolicyQAUserPrompt carries the conversation so far and the new question.
var PolicyQAUserPrompt = NewPromptTemplate(
	`Conversation so far:
{{.history}}

Question: {{.question}}`)

// PolicyQA is the assembled prompt of one question.
type PolicyQA struct {
	System   string
	History  string
	Question string
}

func NewPolicyQA(context, history, question string) PolicyQA {
	if history == "" {
		history = noHistory
	}
	return PolicyQA{
		System:   PolicyQASystemPrompt.Format(map[string]string{"context": context}),
		History:  history,
		Question: question,
	}
}

// Messages renders the prompt as a system and a user message.
func (p PolicyQA) Messages() []schema.MessageContent {
	user := PolicyQAUserPrompt.Format(map[string]string{
		"history":  p.History,
		"question": p.Question,
	})
	return []schema.MessageContent{
		schema.NewSystemMessage(p.System),
		schema.NewHumanMessage(user),
	}
}
