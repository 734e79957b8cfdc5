package ai

import "context"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string
	Content string
}

// Provider turns a conversation history into one assistant reply.
type Provider interface {
	Chat(ctx context.Context, messages []Message) (string, error)
}

// TitleProvider is an optional interface for providers that can produce
// a short chat title from a single prompt.
type TitleProvider interface {
	Title(ctx context.Context, prompt string) (string, error)
}

// ImageProvider is an optional interface for providers that can generate
// an image for a prompt. The result is base64-encoded image data.
type ImageProvider interface {
	GenerateImage(ctx context.Context, prompt string) (string, error)
}
