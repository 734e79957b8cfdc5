package chat

import (
	"context"

	"gorm.io/gorm"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) CreateChat(ctx context.Context, c *Chat) error {
	return r.db.WithContext(ctx).Create(c).Error
}

func (r *Repo) GetChatByID(ctx context.Context, chatID string) (*Chat, error) {
	var c Chat
	if err := r.db.WithContext(ctx).
		Where("id = ?", chatID).
		First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// ListChatsByUser returns the user's chats newest first.
func (r *Repo) ListChatsByUser(ctx context.Context, userID uint64) ([]Chat, error) {
	var chats []Chat
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&chats).Error; err != nil {
		return nil, err
	}
	return chats, nil
}

// UpdateChatTitle updates the title in place, leaving id and messages intact.
func (r *Repo) UpdateChatTitle(ctx context.Context, chatID, title string) error {
	return r.db.WithContext(ctx).Model(&Chat{}).
		Where("id = ?", chatID).
		Update("title", title).Error
}

func (r *Repo) InsertMessage(ctx context.Context, m *Message) error {
	return r.db.WithContext(ctx).Create(m).Error
}

// ListMessagesAsc returns a chat's messages oldest first, the order the
// transcript renders them.
func (r *Repo) ListMessagesAsc(ctx context.Context, userID uint64, chatID string) ([]Message, error) {
	var msgs []Message
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND chat_id = ?", userID, chatID).
		Order("id ASC").
		Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

// ListRecentMessagesDesc returns the most recent messages in DESC id order
// (newest -> oldest), used to build the provider context window.
func (r *Repo) ListRecentMessagesDesc(ctx context.Context, userID uint64, chatID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 20
	}
	var msgs []Message
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND chat_id = ?", userID, chatID).
		Order("id DESC").
		Limit(limit).
		Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

// Title job CRUD

func (r *Repo) CreateTitleJob(ctx context.Context, job *TitleJob) error {
	return r.db.WithContext(ctx).Create(job).Error
}

func (r *Repo) GetTitleJobByID(ctx context.Context, id string) (*TitleJob, error) {
	var j TitleJob
	if err := r.db.WithContext(ctx).First(&j, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &j, nil
}

func (r *Repo) UpdateTitleJobRunning(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&TitleJob{}).
		Where("id = ? AND status = ?", id, JobQueued).
		Update("status", JobRunning).Error
}

func (r *Repo) MarkTitleJobSucceeded(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&TitleJob{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status": JobSucceeded,
			"error":  nil,
		}).Error
}

func (r *Repo) MarkTitleJobFailed(ctx context.Context, id string, errMsg string) error {
	return r.db.WithContext(ctx).Model(&TitleJob{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status": JobFailed,
			"error":  errMsg,
		}).Error
}
