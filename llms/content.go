package llms

// Keys of ContentChoice.GenerationInfo set by the providers.
const (
	InfoPromptTokens     = "PromptTokens"
	InfoCompletionTokens = "CompletionTokens"
	InfoTotalTokens      = "TotalTokens"
	InfoDuration         = "Duration"
	InfoModel            = "Model"
)

// ContentResponse holds the provider's candidates. Providers here return
// only the first one.
type ContentResponse struct {
	Choices []*ContentChoice
}

type ContentChoice struct {
	Content        string
	StopReason     string
	GenerationInfo map[string]any
}
