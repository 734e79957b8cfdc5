package handlers

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/gopherchat/gopherchat/internal/ai"
	"github.com/gopherchat/gopherchat/internal/chat"
	"github.com/gopherchat/gopherchat/internal/config"
)

type Handler struct {
	DB      *gorm.DB
	Cfg     config.Config
	ChatSvc *chat.Service
	Local   *chat.LocalStore
}

func NewHandler(db *gorm.DB, cfg config.Config, titles chat.TitlePublisher, locks chat.SendLocker) (*Handler, error) {
	repo := chat.NewRepo(db)

	reg := ai.NewRegistry()
	reg.Register("gemini", func(ctx context.Context) (ai.Provider, error) {
		_ = ctx
		return ai.NewGeminiProvider(cfg.GeminiBaseURL, cfg.GeminiAPIKey, cfg.GeminiModel, cfg.GeminiImageModel), nil
	})
	reg.Register("ollama", func(ctx context.Context) (ai.Provider, error) {
		_ = ctx
		return ai.NewOllamaProvider(cfg.OllamaBaseURL, cfg.OllamaModel), nil
	})

	switch strings.ToLower(cfg.AIProvider) {
	case "gemini", "ollama":
	default:
		return nil, fmt.Errorf("unsupported AI_PROVIDER %q", cfg.AIProvider)
	}

	chatSvc := chat.NewService(repo, reg, cfg.AIProvider, titles, locks, cfg.ChatContextWindowSize)

	return &Handler{
		DB:      db,
		Cfg:     cfg,
		ChatSvc: chatSvc,
		Local:   chat.NewLocalStore(),
	}, nil
}
