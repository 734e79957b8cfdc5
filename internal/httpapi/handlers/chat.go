package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/gopherchat/gopherchat/internal/chat"
	"github.com/gopherchat/gopherchat/internal/common"
	"github.com/gopherchat/gopherchat/internal/httpapi/middleware"
	"github.com/gopherchat/gopherchat/internal/transcript"
)

func userIDFromContext(c *gin.Context) (uint64, bool) {
	v, ok := c.Get(middleware.UserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(uint64)
	return id, ok
}

func (h *Handler) ListChats(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	chats, err := h.ChatSvc.LoadChats(c.Request.Context(), uid)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50002, "failed to list chats")
		return
	}

	common.OK(c, gin.H{"chats": chats})
}

func (h *Handler) ListChatMessages(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	chatID := c.Param("chat_id")

	msgs, err := h.ChatSvc.ListMessages(c.Request.Context(), uid, chatID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			common.Fail(c, http.StatusNotFound, 40004, "chat not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50002, "failed to list messages")
		return
	}

	common.OK(c, gin.H{"messages": msgs})
}

type sendMessageReq struct {
	ChatID  string `json:"chat_id"`
	Message string `json:"message" binding:"required"`
}

func (h *Handler) SendChatMessage(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	var req sendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		common.Fail(c, http.StatusBadRequest, 10002, "message required")
		return
	}

	chatID, msg, err := h.ChatSvc.SendAndReply(c.Request.Context(), uid, req.ChatID, req.Message)
	if err != nil {
		switch {
		case errors.Is(err, chat.ErrSendInFlight):
			common.Fail(c, http.StatusConflict, 40901, "a send is already in flight for this chat")
		case errors.Is(err, gorm.ErrRecordNotFound):
			common.Fail(c, http.StatusNotFound, 40004, "chat not found")
		default:
			common.Fail(c, http.StatusBadRequest, 40001, "failed to send message")
		}
		return
	}

	common.OK(c, gin.H{
		"chat_id":    chatID,
		"reply":      msg.Content,
		"message_id": msg.ID,
	})
}

type sendImageReq struct {
	ChatID string `json:"chat_id"`
	Prompt string `json:"prompt" binding:"required"`
}

func (h *Handler) SendChatImage(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	var req sendImageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		common.Fail(c, http.StatusBadRequest, 10002, "prompt required")
		return
	}

	chatID, msgs, err := h.ChatSvc.SendImagePrompt(c.Request.Context(), uid, req.ChatID, req.Prompt)
	if err != nil {
		switch {
		case errors.Is(err, chat.ErrSendInFlight):
			common.Fail(c, http.StatusConflict, 40901, "a send is already in flight for this chat")
		case errors.Is(err, gorm.ErrRecordNotFound):
			common.Fail(c, http.StatusNotFound, 40004, "chat not found")
		default:
			common.Fail(c, http.StatusBadRequest, 40001, "failed to send image prompt")
		}
		return
	}

	common.OK(c, gin.H{
		"chat_id":  chatID,
		"messages": msgs,
	})
}

// LocalSessionHeader carries the anonymous session id between requests.
// A missing or unknown id gets a fresh session; the log lives in memory
// only and is gone after a restart.
const LocalSessionHeader = "X-Chat-Session"

type sendLocalReq struct {
	Message   string `json:"message" binding:"required"`
	ImageMode bool   `json:"image_mode"`
}

func (h *Handler) SendLocalMessage(c *gin.Context) {
	var req sendLocalReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		common.Fail(c, http.StatusBadRequest, 10002, "message required")
		return
	}

	sessionID := strings.TrimSpace(c.GetHeader(LocalSessionHeader))
	if sessionID == "" {
		id, err := h.Local.NewSession()
		if err != nil {
			common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
			return
		}
		sessionID = id
	}

	rec := transcript.NewLocal()
	rec.SetLocal(h.Local.List(sessionID))
	rec.SetImageMode(req.ImageMode)
	entry := rec.SubmitUser(req.Message)

	h.Local.Append(sessionID, chat.LocalMessage{
		Role:          chat.RoleUser,
		Content:       req.Message,
		IsImagePrompt: entry.Kind == transcript.ImagePrompt,
	})

	ctx := c.Request.Context()
	if entry.Kind == transcript.ImagePrompt {
		data, err := h.ChatSvc.GenerateImage(ctx, req.Message)
		if err != nil {
			h.Local.Append(sessionID, chat.LocalMessage{
				Role:    chat.RoleAssistant,
				Content: chat.ImageFallbackText,
			})
		} else {
			h.Local.Append(sessionID, chat.LocalMessage{
				Role:        chat.RoleAssistant,
				Content:     chat.ImageSentinel,
				ImageBase64: data,
			})
		}
	} else {
		reply, err := h.ChatSvc.Complete(ctx, rec.History())
		if err != nil {
			reply = chat.TextFallback
		}
		h.Local.Append(sessionID, chat.LocalMessage{
			Role:    chat.RoleAssistant,
			Content: reply,
		})
	}

	rec.SetLocal(h.Local.List(sessionID))
	c.Header(LocalSessionHeader, sessionID)
	common.OK(c, gin.H{
		"session_id": sessionID,
		"messages":   entriesToWire(rec.Transcript()),
	})
}
