package router

import (
	"github.com/gin-gonic/gin"
)

// RegisterV1Routes mounts the /api/v1 routes.
func RegisterV1Routes(v1 *gin.RouterGroup, h Handlers) {
	if h.Document != nil {
		documents := v1.Group("/documents")
		{
			documents.POST("/:id/ingest", h.Document.Ingest)
			documents.POST("/:id/ingest-jobs", h.Document.QueueIngest)
			documents.DELETE("/:id", h.Document.Delete)
			documents.GET("/:id/metadata", h.Document.Metadata)
		}
	}

	if h.Conversation != nil {
		sessions := v1.Group("/sessions")
		{
			sessions.POST("", h.Conversation.CreateSession)
			sessions.POST("/:sid/answer", h.Conversation.Answer)
			sessions.GET("/:sid/turns", h.Conversation.History)
		}
		v1.GET("/turns/:tid/steps", h.Conversation.Steps)
	}
}
