package llm

import "context"

// Usage reports token consumption for one structured-extraction call.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// StructuredCompleter is the interface the extraction pipeline depends on:
// one system instruction + one user payload in, one JSON object out.
type StructuredCompleter interface {
	CompleteJSON(ctx context.Context, system, user string) ([]byte, Usage, error)
}
