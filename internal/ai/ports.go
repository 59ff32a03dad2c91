package ai

import "context"

// AI is an external language model. It knows nothing about menus or
// sessions; callers pass a system prompt and a JSON input document.
type AI interface {
	GetReply(ctx context.Context, systemPrompt string, inputJSON string) (string, error)
}

// Candidate is one menu item the matcher may choose from.
type Candidate struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
