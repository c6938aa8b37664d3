package ingestion

import (
	"github.com/gin-gonic/gin"
)

type Service struct {
	publisher        TagPublisher
	maxBodySizeBytes int
}

func NewService(publisher TagPublisher, maxBodySizeMB int) *Service {
	if publisher == nil {
		panic("ingestion: publisher must not be nil")
	}
	if maxBodySizeMB <= 0 {
		maxBodySizeMB = 1 // default to 1MB
	}
	return &Service{
		publisher:        publisher,
		maxBodySizeBytes: maxBodySizeMB * 1024 * 1024,
	}
}

// RegisterRoutes registers the ingestion service routes.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.POST("/v1/user_tags", s.IngestHandler)
}
