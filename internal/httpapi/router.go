package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/gopherchat/gopherchat/internal/chat"
	"github.com/gopherchat/gopherchat/internal/common"
	"github.com/gopherchat/gopherchat/internal/config"
	"github.com/gopherchat/gopherchat/internal/httpapi/handlers"
	"github.com/gopherchat/gopherchat/internal/httpapi/middleware"
)

func NewRouter(db *gorm.DB, cfg config.Config, titles chat.TitlePublisher, locks chat.SendLocker) (*gin.Engine, error) {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.Use(middleware.RequestID())

	h, err := handlers.NewHandler(db, cfg, titles, locks)
	if err != nil {
		return nil, err
	}

	r.GET("/ping", func(c *gin.Context) { common.OK(c, gin.H{"pong": true}) })

	// users
	r.POST("/users", h.CreateUser)
	r.POST("/login", h.Login)

	// anonymous transcript (in-memory, lost on restart)
	r.POST("/local/messages", h.SendLocalMessage)

	// live transcript stream; anonymous connections get a local log
	streamGroup := r.Group("/")
	streamGroup.Use(middleware.OptionalAuth(cfg.JWTSecret))
	streamGroup.GET("/chat/stream", h.ChatStream)

	// persisted chats (JWT required)
	authGroup := r.Group("/")
	authGroup.Use(middleware.AuthRequired(cfg.JWTSecret))
	authGroup.GET("/me", h.Me)
	authGroup.GET("/chats", h.ListChats)
	authGroup.GET("/chats/:chat_id/messages", h.ListChatMessages)
	authGroup.POST("/chat/messages", h.SendChatMessage)
	authGroup.POST("/chat/images", h.SendChatImage)

	return r, nil
}
