package core

import "context"

// ReplyProvider generates the assistant's next utterance.
type ReplyProvider interface {
	// Name returns the provider identifier (e.g., "anthropic", "openai").
	Name() string

	// GenerateReply returns the reply text for the conversation so far.
	GenerateReply(ctx context.Context, req *ReplyRequest) (*Reply, error)
}

// ReplyRequest carries everything a language model needs for one turn.
type ReplyRequest struct {
	Model       string
	System      string
	History     []Turn
	Temperature *float64
	MaxTokens   int
}

// Reply is a generated assistant utterance.
type Reply struct {
	Text       string
	StopReason string
	Usage      Usage
}

// Usage reports token counts when the vendor provides them.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}
