package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/gopherchat/gopherchat/internal/ai"
	"github.com/gopherchat/gopherchat/internal/common"
)

// ErrSendInFlight is returned when a second send overlaps an outstanding
// one for the same chat. Sends are serialized per chat so replies land in
// submission order.
var ErrSendInFlight = errors.New("a send is already in flight for this chat")

// TitlePublisher enqueues a title job for the worker.
type TitlePublisher interface {
	PublishJob(ctx context.Context, jobID string) error
}

// SendLocker is the per-chat in-flight lock. Acquire reports false when
// another send holds the lock.
type SendLocker interface {
	Acquire(ctx context.Context, chatID string) (bool, error)
	Release(ctx context.Context, chatID string) error
}

type Service struct {
	repo              *Repo
	registry          *ai.Registry
	providerName      string
	titles            TitlePublisher
	locks             SendLocker
	contextWindowSize int
}

// NewService wires the orchestrator. titles and locks may be nil; title
// generation and send serialization are then disabled.
func NewService(repo *Repo, registry *ai.Registry, providerName string, titles TitlePublisher, locks SendLocker, contextWindowSize int) *Service {
	if contextWindowSize <= 0 || contextWindowSize > 100 {
		contextWindowSize = 20
	}
	return &Service{
		repo:              repo,
		registry:          registry,
		providerName:      providerName,
		titles:            titles,
		locks:             locks,
		contextWindowSize: contextWindowSize,
	}
}

func (s *Service) provider(ctx context.Context) (ai.Provider, error) {
	return s.registry.Get(ctx, s.providerName)
}

// LoadChats returns the user's chats newest first.
func (s *Service) LoadChats(ctx context.Context, userID uint64) ([]Chat, error) {
	return s.repo.ListChatsByUser(ctx, userID)
}

func (s *Service) validateChatOwner(ctx context.Context, userID uint64, chatID string) (*Chat, error) {
	c, err := s.repo.GetChatByID(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if c.UserID != userID {
		return nil, gorm.ErrRecordNotFound
	}
	return c, nil
}

// ListMessages returns the chat's messages oldest first.
func (s *Service) ListMessages(ctx context.Context, userID uint64, chatID string) ([]Message, error) {
	if _, err := s.validateChatOwner(ctx, userID, chatID); err != nil {
		return nil, err
	}
	return s.repo.ListMessagesAsc(ctx, userID, chatID)
}

// SendMessage inserts one message row. When chatID is empty a chat is
// created first (placeholder title) and its id adopted; the first user
// message of such a chat additionally enqueues an async title job. A
// failed publish is absorbed: the chat just keeps its placeholder title.
func (s *Service) SendMessage(ctx context.Context, userID uint64, chatID, content, role string, imageBase64 *string, isImagePrompt bool) (string, *Message, error) {
	isNewChat := false
	if chatID == "" {
		c := &Chat{
			ID:     uuid.NewString(),
			UserID: userID,
			Title:  PlaceholderTitle,
		}
		if err := s.repo.CreateChat(ctx, c); err != nil {
			return "", nil, err
		}
		chatID = c.ID
		isNewChat = true
	} else {
		if _, err := s.validateChatOwner(ctx, userID, chatID); err != nil {
			return "", nil, err
		}
	}

	msg := &Message{
		ChatID:        chatID,
		UserID:        userID,
		Role:          role,
		Content:       content,
		ImageBase64:   imageBase64,
		IsImagePrompt: isImagePrompt,
	}
	if err := s.repo.InsertMessage(ctx, msg); err != nil {
		return "", nil, err
	}

	if isNewChat && role == RoleUser {
		s.enqueueTitleJob(ctx, userID, chatID, content)
	}

	return chatID, msg, nil
}

func (s *Service) enqueueTitleJob(ctx context.Context, userID uint64, chatID, content string) {
	if s.titles == nil {
		return
	}
	jobID, err := common.NewULID()
	if err != nil {
		log.Printf("title job id chat_id=%s err=%v", chatID, err)
		return
	}
	job := &TitleJob{
		ID:     jobID,
		UserID: userID,
		ChatID: chatID,
		Prompt: content,
		Status: JobQueued,
	}
	if err := s.repo.CreateTitleJob(ctx, job); err != nil {
		log.Printf("title job create chat_id=%s err=%v", chatID, err)
		return
	}
	if err := s.titles.PublishJob(ctx, jobID); err != nil {
		log.Printf("title job publish chat_id=%s job_id=%s err=%v", chatID, jobID, err)
	}
}

func (s *Service) acquireSendLock(ctx context.Context, chatID string) (release func(), err error) {
	if s.locks == nil || chatID == "" {
		return func() {}, nil
	}
	got, err := s.locks.Acquire(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !got {
		return nil, ErrSendInFlight
	}
	return func() { _ = s.locks.Release(ctx, chatID) }, nil
}

// LockSend takes the per-chat send lock for callers that drive the
// exchange themselves, e.g. the live stream handler.
func (s *Service) LockSend(ctx context.Context, chatID string) (release func(), err error) {
	return s.acquireSendLock(ctx, chatID)
}

// SendAndReply runs one full exchange: insert the user row, build the
// context window, call the provider, insert the assistant row. A provider
// failure is converted into the fixed fallback reply so the transcript
// always gains an assistant message.
func (s *Service) SendAndReply(ctx context.Context, userID uint64, chatID, content string) (string, *Message, error) {
	release, err := s.acquireSendLock(ctx, chatID)
	if err != nil {
		return "", nil, err
	}
	defer release()

	chatID, _, err = s.SendMessage(ctx, userID, chatID, content, RoleUser, nil, false)
	if err != nil {
		return "", nil, err
	}

	history, err := s.historyWindow(ctx, userID, chatID)
	if err != nil {
		return "", nil, err
	}

	reply := TextFallback
	provider, err := s.provider(ctx)
	if err != nil {
		log.Printf("provider lookup chat_id=%s err=%v", chatID, err)
	} else if out, chatErr := provider.Chat(ctx, history); chatErr != nil {
		log.Printf("chat completion chat_id=%s err=%v", chatID, chatErr)
	} else {
		reply = out
	}

	_, msg, err := s.SendMessage(ctx, userID, chatID, reply, RoleAssistant, nil, false)
	if err != nil {
		return "", nil, err
	}
	return chatID, msg, nil
}

// SendImagePrompt runs the image flow: insert the prompt row (flagged,
// rendered as plain text), generate the image, insert either the image
// result row or the fixed fallback text row, then re-read the chat from
// storage so callers never hold a transcript that diverges from it.
func (s *Service) SendImagePrompt(ctx context.Context, userID uint64, chatID, prompt string) (string, []Message, error) {
	release, err := s.acquireSendLock(ctx, chatID)
	if err != nil {
		return "", nil, err
	}
	defer release()

	chatID, _, err = s.SendMessage(ctx, userID, chatID, prompt, RoleUser, nil, true)
	if err != nil {
		return "", nil, err
	}

	data, genErr := s.GenerateImage(ctx, prompt)
	if genErr != nil {
		log.Printf("image generation chat_id=%s err=%v", chatID, genErr)
		if _, _, err := s.SendMessage(ctx, userID, chatID, ImageFallbackText, RoleAssistant, nil, false); err != nil {
			return "", nil, err
		}
	} else {
		if _, _, err := s.SendMessage(ctx, userID, chatID, ImageSentinel, RoleAssistant, &data, false); err != nil {
			return "", nil, err
		}
	}

	msgs, err := s.repo.ListMessagesAsc(ctx, userID, chatID)
	if err != nil {
		return "", nil, err
	}
	return chatID, msgs, nil
}

// historyWindow builds the provider context from recent rows, oldest
// first. Image prompts and image-sentinel rows are dropped so the model
// never sees image placeholders as conversation content.
func (s *Service) historyWindow(ctx context.Context, userID uint64, chatID string) ([]ai.Message, error) {
	recentDesc, err := s.repo.ListRecentMessagesDesc(ctx, userID, chatID, s.contextWindowSize)
	if err != nil {
		return nil, err
	}
	history := make([]ai.Message, 0, len(recentDesc))
	for i := len(recentDesc) - 1; i >= 0; i-- {
		m := recentDesc[i]
		if m.IsImagePrompt || m.Content == ImageSentinel {
			continue
		}
		history = append(history, ai.Message{Role: m.Role, Content: m.Content})
	}
	return history, nil
}

// Complete forwards an already-assembled history to the provider.
func (s *Service) Complete(ctx context.Context, history []ai.Message) (string, error) {
	provider, err := s.provider(ctx)
	if err != nil {
		return "", err
	}
	return provider.Chat(ctx, history)
}

// GenerateImage forwards a prompt to the provider's image endpoint.
func (s *Service) GenerateImage(ctx context.Context, prompt string) (string, error) {
	provider, err := s.provider(ctx)
	if err != nil {
		return "", err
	}
	ip, ok := provider.(ai.ImageProvider)
	if !ok {
		return "", fmt.Errorf("provider %s cannot generate images", s.providerName)
	}
	return ip.GenerateImage(ctx, prompt)
}

// TitlePrompt is the fixed instruction sent to the model to derive a
// short chat title from the first message.
func TitlePrompt(content string) string {
	return fmt.Sprintf("Provide just one(maximum 3 words) concise title for this chat based on the following message: %q", content)
}

// CompleteTitleJob is the worker entry point: generate a short title for
// the job's chat and update the chat row in place.
func (s *Service) CompleteTitleJob(ctx context.Context, jobID string) error {
	_ = s.repo.UpdateTitleJobRunning(ctx, jobID)

	job, err := s.repo.GetTitleJobByID(ctx, jobID)
	if err != nil {
		return err
	}

	provider, err := s.provider(ctx)
	if err != nil {
		_ = s.repo.MarkTitleJobFailed(ctx, jobID, err.Error())
		return err
	}
	tp, ok := provider.(ai.TitleProvider)
	if !ok {
		err := fmt.Errorf("provider %s cannot generate titles", s.providerName)
		_ = s.repo.MarkTitleJobFailed(ctx, jobID, err.Error())
		return err
	}

	title, err := tp.Title(ctx, TitlePrompt(job.Prompt))
	if err != nil {
		_ = s.repo.MarkTitleJobFailed(ctx, jobID, err.Error())
		return err
	}
	title = strings.Trim(strings.TrimSpace(title), `"`)
	if title == "" {
		err := errors.New("empty title")
		_ = s.repo.MarkTitleJobFailed(ctx, jobID, err.Error())
		return err
	}

	if err := s.repo.UpdateChatTitle(ctx, job.ChatID, title); err != nil {
		_ = s.repo.MarkTitleJobFailed(ctx, jobID, err.Error())
		return err
	}
	return s.repo.MarkTitleJobSucceeded(ctx, jobID)
}
