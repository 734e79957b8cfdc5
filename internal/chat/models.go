package chat

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"

	// PlaceholderTitle is set on a chat at creation and replaced once the
	// title job completes.
	PlaceholderTitle = "New Chat"

	// ImageSentinel marks a message whose real payload is an image.
	ImageSentinel = "[image]"

	ImageFallbackText = "Sorry, I couldn't generate an image for that prompt."
	TextFallback      = "Sorry, something went wrong. Please try again."
)

type Chat struct {
	ID        string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	UserID    uint64    `gorm:"index;not null" json:"-"`
	Title     string    `gorm:"type:varchar(255);not null" json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Chat) TableName() string { return "chats" }

type Message struct {
	ID            uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	ChatID        string    `gorm:"type:varchar(36);not null;index:idx_msg_chat_id" json:"chat_id"`
	UserID        uint64    `gorm:"not null;index" json:"-"`
	Role          string    `gorm:"type:varchar(16);not null" json:"role"`
	Content       string    `gorm:"type:text;not null" json:"content"`
	ImageBase64   *string   `gorm:"type:longtext" json:"image_base64,omitempty"`
	IsImagePrompt bool      `gorm:"not null;default:false" json:"is_image_prompt"`
	CreatedAt     time.Time `json:"created_at"`
}

func (Message) TableName() string { return "messages" }

// HasImage reports whether the message carries an inline image payload.
func (m Message) HasImage() bool {
	return m.ImageBase64 != nil && *m.ImageBase64 != ""
}
