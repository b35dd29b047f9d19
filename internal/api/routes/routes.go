package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/luminnus/lia-backend/internal/api/handlers"
	"github.com/luminnus/lia-backend/internal/api/middleware"
	"github.com/luminnus/lia-backend/internal/identity"
)

type Deps struct {
	Identity     identity.Policy
	Logger       *logrus.Logger
	Conversation *handlers.ConversationHandler
	Message      *handlers.MessageHandler
	Memory       *handlers.MemoryHandler
	Context      *handlers.ContextHandler
	Resource     *handlers.ResourceHandler
	Live         *handlers.LiveHandler
	Profile      *handlers.ProfileHandler
	Attachment   *handlers.AttachmentHandler
	WS           *handlers.WSHandler
}

func RegisterRoutes(r *gin.Engine, d Deps) {
	// Health-ish
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{"message": "pong"})
	})

	// Conversation-scoped surface: identity resolved from bearer token,
	// query param, or the configured fallback.
	api := r.Group("/api")
	api.Use(middleware.Identity(d.Identity, d.Logger))

	api.GET("/conversations", d.Conversation.List)
	api.POST("/conversations", d.Conversation.Create)
	api.GET("/conversations/:id", d.Conversation.Get)
	api.PATCH("/conversations/:id", d.Conversation.Rename)
	api.DELETE("/conversations/:id", d.Conversation.Delete)

	api.GET("/conversations/:id/context", d.Context.Get)

	api.POST("/messages/save", d.Message.Save)

	api.GET("/memory/load", d.Memory.Load)
	api.POST("/memory/save", d.Memory.Save)
	api.DELETE("/memory/:key", d.Memory.Delete)
	api.POST("/memories/upsert", d.Memory.Upsert)
	api.POST("/memories/correct", d.Memory.Correct)
	api.POST("/memories/forget", d.Memory.Forget)

	api.GET("/resource/:id", d.Resource.Get)
	api.POST("/resource/:id/spreadsheet", d.Resource.SetSpreadsheet)
	api.POST("/resource/:id/document", d.Resource.SetDocument)
	api.DELETE("/resource/:id", d.Resource.Clear)

	api.GET("/live-token", d.Live.Token)
	api.POST("/live/:session_id/end", d.Live.End)

	api.POST("/attachments/upload", d.Attachment.Upload)

	// WebSocket per conversation scope
	r.GET("/ws/conversations/:id", middleware.Identity(d.Identity, d.Logger), d.WS.ConversationWS)

	// Strictly authenticated surface (Supabase JWT, no fallback)
	auth := r.Group("/api")
	auth.Use(middleware.JWTAuth())

	auth.GET("/profile/me", d.Profile.Me)
	auth.PUT("/profile/update", d.Profile.Update)
}
