package ports

import "context"

type Prompt struct {
	System string
	User   string
}

// Reasoner returns the raw model answer, expected to be JSON.
type Reasoner interface {
	Complete(ctx context.Context, prompt Prompt) (string, error)
}
