package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"gorm.io/gorm"

	"github.com/gopherchat/gopherchat/internal/chat"
	"github.com/gopherchat/gopherchat/internal/transcript"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4 * 1024,
	WriteBufferSize: 4 * 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wire types for the live transcript stream

type wsClientFrame struct {
	Type      string      `json:"type"` // "select" | "send" | "scroll"
	ChatID    string      `json:"chat_id,omitempty"`
	Content   string      `json:"content,omitempty"`
	ImageMode bool        `json:"image_mode,omitempty"`
	Viewport  *wsViewport `json:"viewport,omitempty"`
}

// wsViewport is the client's scroll geometry from just before a
// transcript change, plus the content height measured after it.
type wsViewport struct {
	Height           float64 `json:"height"`
	ScrollTop        float64 `json:"scroll_top"`
	ContentHeight    float64 `json:"content_height"`
	NewContentHeight float64 `json:"new_content_height"`
}

// wsScrollFrame answers a "scroll" frame with the position to apply.
type wsScrollFrame struct {
	Type      string  `json:"type"` // "scroll"
	ScrollTop float64 `json:"scroll_top"`
	AtBottom  bool    `json:"at_bottom"`
}

type wsEntry struct {
	Kind        string `json:"kind"` // "text" | "image_prompt" | "image_result"
	Role        string `json:"role"`
	Content     string `json:"content"`
	ImageBase64 string `json:"image_base64,omitempty"`
}

type wsStateFrame struct {
	Type       string    `json:"type"` // "state"
	ChatID     string    `json:"chat_id,omitempty"`
	Typing     bool      `json:"typing"`
	Transcript []wsEntry `json:"transcript"`
}

type wsErrorFrame struct {
	Type    string `json:"type"` // "error"
	Message string `json:"message"`
}

func entryKind(k transcript.Kind) string {
	switch k {
	case transcript.ImagePrompt:
		return "image_prompt"
	case transcript.ImageResult:
		return "image_result"
	default:
		return "text"
	}
}

func entriesToWire(entries []transcript.Entry) []wsEntry {
	out := make([]wsEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, wsEntry{
			Kind:        entryKind(e.Kind),
			Role:        e.Role,
			Content:     e.Content,
			ImageBase64: e.ImageBase64,
		})
	}
	return out
}

// ChatStream serves the live transcript over a websocket. Each
// connection owns one reconciler: submissions show up optimistically in
// the next state frame, and confirmed rows reconcile the pending set
// away. Anonymous connections get a purely local, non-persisted log.
func (h *Handler) ChatStream(c *gin.Context) {
	uid, authed := userIDFromContext(c)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	var (
		rec       *transcript.Reconciler
		chatID    string
		sessionID string
	)
	if authed {
		rec = transcript.New()
	} else {
		rec = transcript.NewLocal()
		sessionID, err = h.Local.NewSession()
		if err != nil {
			_ = conn.WriteJSON(wsErrorFrame{Type: "error", Message: "internal error"})
			return
		}
	}

	pushState := func() {
		_ = conn.WriteJSON(wsStateFrame{
			Type:       "state",
			ChatID:     chatID,
			Typing:     rec.Typing(),
			Transcript: entriesToWire(rec.Transcript()),
		})
	}
	pushError := func(msg string) {
		_ = conn.WriteJSON(wsErrorFrame{Type: "error", Message: msg})
	}

	pushState()

	for {
		var frame wsClientFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Minute)

		switch frame.Type {
		case "select":
			if !authed {
				pushError("login required to select a chat")
				break
			}
			chatID = frame.ChatID
			rec = transcript.New()
			if chatID != "" {
				msgs, err := h.ChatSvc.ListMessages(ctx, uid, chatID)
				if err != nil {
					if errors.Is(err, gorm.ErrRecordNotFound) {
						pushError("chat not found")
					} else {
						pushError("failed to load chat")
					}
					chatID = ""
				} else {
					rec.SetPersisted(msgs)
				}
			}
			pushState()

		case "send":
			if strings.TrimSpace(frame.Content) == "" {
				pushError("content required")
				break
			}
			rec.SetImageMode(frame.ImageMode)
			entry := rec.SubmitUser(frame.Content)
			pushState()

			if authed {
				if err := h.streamSendAuthed(ctx, rec, &chatID, uid, entry); err != nil {
					if errors.Is(err, chat.ErrSendInFlight) {
						pushError("a send is already in flight for this chat")
					}
				}
			} else {
				h.streamSendLocal(ctx, rec, sessionID, entry)
			}
			pushState()

		case "scroll":
			if frame.Viewport == nil {
				pushError("viewport required")
				break
			}
			v := transcript.Viewport{
				Height:        frame.Viewport.Height,
				ScrollTop:     frame.Viewport.ScrollTop,
				ContentHeight: frame.Viewport.ContentHeight,
			}
			_ = conn.WriteJSON(wsScrollFrame{
				Type:      "scroll",
				ScrollTop: v.AfterChange(frame.Viewport.NewContentHeight),
				AtBottom:  v.AtBottom(),
			})

		default:
			pushError("unknown frame type")
		}

		cancel()
	}
}

// streamSendAuthed drives one authenticated exchange against storage and
// reconciles the optimistic entries against the confirmed rows.
func (h *Handler) streamSendAuthed(ctx context.Context, rec *transcript.Reconciler, chatID *string, uid uint64, entry transcript.Entry) error {
	if entry.Kind == transcript.ImagePrompt {
		// SendImagePrompt takes the send lock itself
		id, msgs, err := h.ChatSvc.SendImagePrompt(ctx, uid, *chatID, entry.Content)
		if err != nil {
			rec.SetTyping(false)
			if errors.Is(err, chat.ErrSendInFlight) {
				return err
			}
			log.Printf("stream image send chat_id=%s err=%v", *chatID, err)
			return nil
		}
		*chatID = id
		rec.SetPersisted(msgs)
		rec.SetTyping(false)
		return nil
	}

	release, err := h.ChatSvc.LockSend(ctx, *chatID)
	if err != nil {
		rec.SetTyping(false)
		return err
	}
	defer release()

	id, _, err := h.ChatSvc.SendMessage(ctx, uid, *chatID, entry.Content, chat.RoleUser, nil, false)
	if err != nil {
		// persistence failure is absorbed; the optimistic entry stays
		log.Printf("stream user insert chat_id=%s err=%v", *chatID, err)
		rec.SetTyping(false)
		return nil
	}
	*chatID = id

	reply, err := h.ChatSvc.Complete(ctx, rec.History())
	if err != nil {
		log.Printf("stream completion chat_id=%s err=%v", *chatID, err)
		reply = chat.TextFallback
	}

	// the reply travels the same path as user messages: optimistic
	// append first, then persistence, then reconciliation drops it
	rec.AppendAssistant(reply)

	if _, _, err := h.ChatSvc.SendMessage(ctx, uid, *chatID, reply, chat.RoleAssistant, nil, false); err != nil {
		log.Printf("stream assistant insert chat_id=%s err=%v", *chatID, err)
		return nil
	}

	if msgs, err := h.ChatSvc.ListMessages(ctx, uid, *chatID); err == nil {
		rec.SetPersisted(msgs)
	}
	return nil
}

// streamSendLocal drives one anonymous exchange against the in-memory
// log.
func (h *Handler) streamSendLocal(ctx context.Context, rec *transcript.Reconciler, sessionID string, entry transcript.Entry) {
	h.Local.Append(sessionID, chat.LocalMessage{
		Role:          chat.RoleUser,
		Content:       entry.Content,
		IsImagePrompt: entry.Kind == transcript.ImagePrompt,
	})

	if entry.Kind == transcript.ImagePrompt {
		data, err := h.ChatSvc.GenerateImage(ctx, entry.Content)
		if err != nil {
			rec.AppendAssistant(chat.ImageFallbackText)
			h.Local.Append(sessionID, chat.LocalMessage{
				Role:    chat.RoleAssistant,
				Content: chat.ImageFallbackText,
			})
			return
		}
		rec.AppendImageResult(data)
		h.Local.Append(sessionID, chat.LocalMessage{
			Role:        chat.RoleAssistant,
			Content:     chat.ImageSentinel,
			ImageBase64: data,
		})
		return
	}

	reply, err := h.ChatSvc.Complete(ctx, rec.History())
	if err != nil {
		reply = chat.TextFallback
	}
	rec.AppendAssistant(reply)
	h.Local.Append(sessionID, chat.LocalMessage{
		Role:    chat.RoleAssistant,
		Content: reply,
	})
}
