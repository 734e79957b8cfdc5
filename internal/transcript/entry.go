package transcript

import (
	"github.com/gopherchat/gopherchat/internal/chat"
)

// Kind tags the three message variants so render-time code never probes
// optional fields.
type Kind int

const (
	// Text is an ordinary conversational message.
	Text Kind = iota
	// ImagePrompt is a user message requesting image generation. It has
	// no payload and renders as plain text.
	ImagePrompt
	// ImageResult is an assistant message carrying inline image data.
	ImageResult
)

// Entry is one displayable transcript item.
type Entry struct {
	Kind        Kind
	Role        string
	Content     string
	ImageBase64 string // set only for ImageResult
}

// failedImage reports an entry whose content is the image sentinel but
// which carries no payload: an incomplete generation, suppressed from
// display.
func (e Entry) failedImage() bool {
	return e.Kind != ImageResult && e.Content == chat.ImageSentinel
}

// FromMessage converts a persisted row into a tagged entry.
func FromMessage(m chat.Message) Entry {
	e := Entry{Role: m.Role, Content: m.Content}
	switch {
	case m.IsImagePrompt:
		e.Kind = ImagePrompt
	case m.HasImage():
		e.Kind = ImageResult
		e.ImageBase64 = *m.ImageBase64
	default:
		e.Kind = Text
	}
	return e
}

// FromLocal converts an anonymous log entry into a tagged entry.
func FromLocal(m chat.LocalMessage) Entry {
	e := Entry{Role: m.Role, Content: m.Content}
	switch {
	case m.IsImagePrompt:
		e.Kind = ImagePrompt
	case m.ImageBase64 != "":
		e.Kind = ImageResult
		e.ImageBase64 = m.ImageBase64
	default:
		e.Kind = Text
	}
	return e
}
