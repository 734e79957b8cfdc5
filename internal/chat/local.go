package chat

import (
	"sync"
	"time"

	"github.com/gopherchat/gopherchat/internal/common"
)

// LocalMessage is an entry in an anonymous, non-persisted transcript.
type LocalMessage struct {
	Role          string    `json:"role"`
	Content       string    `json:"content"`
	ImageBase64   string    `json:"image_base64,omitempty"`
	IsImagePrompt bool      `json:"is_image_prompt,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// LocalStore holds per-session message logs for anonymous users. Entries
// live in memory only and are lost on restart.
type LocalStore struct {
	mu       sync.RWMutex
	sessions map[string][]LocalMessage
}

func NewLocalStore() *LocalStore {
	return &LocalStore{sessions: make(map[string][]LocalMessage)}
}

// NewSession allocates an anonymous session id.
func (s *LocalStore) NewSession() (string, error) {
	id, err := common.NewULID()
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.sessions[id] = make([]LocalMessage, 0, 16)
	s.mu.Unlock()
	return id, nil
}

// Append adds a message to the session log, creating the session if the
// caller brought an id this store has never seen (e.g. after a restart).
func (s *LocalStore) Append(sessionID string, m LocalMessage) {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	s.sessions[sessionID] = append(s.sessions[sessionID], m)
	s.mu.Unlock()
}

// List returns a copy of the session's log, oldest first.
func (s *LocalStore) List(sessionID string) []LocalMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.sessions[sessionID]
	copied := make([]LocalMessage, len(msgs))
	copy(copied, msgs)
	return copied
}
