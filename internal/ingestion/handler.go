package ingestion

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	v1 "github.com/tagsift-lab/tagsift/internal/api/v1"
	httperr "github.com/tagsift-lab/tagsift/internal/core/errors"
)

const (
	msgReadBodyFailed = "Failed to read request body"
	msgInvalidJSON    = "Invalid JSON body"
	msgPublishFailed  = "Failed to enqueue tag"
)

// ingestionError carries the structured HTTP error shape from a helper back to the orchestrator.
// Helpers return this instead of writing to gin.Context directly, keeping them decoupled from HTTP.
type ingestionError struct {
	statusCode int
	errorType  string
	message    string
	details    interface{}
}

func (e *ingestionError) Error() string {
	return e.message
}

// IngestHandler handles HTTP POST requests for tag ingestion.
// The tag is validated and enqueued; aggregation happens downstream, so
// the success status is 202, not 200.
func (s *Service) IngestHandler(c *gin.Context) {
	tag, payloadSize, err := s.parseTag(c)
	if err != nil {
		writeError(c, err)
		return
	}

	if vErr := tag.Validate(); vErr != nil {
		slog.Warn("Tag validation failed", "error", vErr, "cookie", tag.Cookie)
		writeError(c, &ingestionError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpInvalidJsonError,
			message:    vErr.Error(),
		})
		return
	}

	// Stamp the identity used for downstream idempotency. A client that
	// retries with its own event_id keeps it and is deduplicated.
	if tag.EventID == "" {
		tag.EventID = uuid.NewString()
	}

	slog.Info("Received Tag",
		"event_id", tag.EventID,
		"cookie", tag.Cookie,
		"action", tag.Action,
		"origin", tag.Origin,
		"payload_size", payloadSize)

	if pubErr := s.publisher.PublishTag(c.Request.Context(), tag); pubErr != nil {
		slog.Error("Failed to enqueue tag", "error", pubErr, "event_id", tag.EventID)
		writeError(c, &ingestionError{
			statusCode: http.StatusInternalServerError,
			errorType:  httperr.HttpInternalError,
			message:    msgPublishFailed,
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "accepted", "event_id": tag.EventID})
}

// parseTag reads the raw request body and binds it into a TagEvent.
// Returns the parsed tag and the raw payload size (used for structured logging upstream).
func (s *Service) parseTag(c *gin.Context) (*v1.TagEvent, int, *ingestionError) {
	// Enforce maximum body size to prevent OOM attacks
	maxBytes := int64(s.maxBodySizeBytes)
	limitedBody := io.LimitReader(c.Request.Body, maxBytes+1) // +1 to detect oversized requests

	bodyBytes, err := io.ReadAll(limitedBody)
	if err != nil {
		slog.Error("Failed to read request body", "error", err)
		return nil, 0, &ingestionError{
			statusCode: http.StatusInternalServerError,
			errorType:  httperr.HttpInternalError,
			message:    msgReadBodyFailed,
		}
	}

	if int64(len(bodyBytes)) > maxBytes {
		slog.Warn("Request body exceeds maximum size", "size", len(bodyBytes), "max", maxBytes)
		return nil, len(bodyBytes), &ingestionError{
			statusCode: http.StatusRequestEntityTooLarge,
			errorType:  httperr.HttpInvalidJsonError,
			message:    "Request body exceeds maximum allowed size",
			details: map[string]interface{}{
				"max_size_mb": maxBytes / (1024 * 1024),
			},
		}
	}

	c.Request.Body = io.NopCloser(bytes.NewReader(bodyBytes))

	var tag v1.TagEvent
	if err := c.ShouldBindJSON(&tag); err != nil {
		slog.Warn("Invalid JSON body received", "error", err, "payload_size", len(bodyBytes))
		return nil, len(bodyBytes), &ingestionError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpInvalidJsonError,
			message:    msgInvalidJSON,
		}
	}

	return &tag, len(bodyBytes), nil
}

// writeError serializes an ingestionError as the JSON HTTP response.
func writeError(c *gin.Context, err *ingestionError) {
	c.JSON(err.statusCode, httperr.ErrorResponse{
		ErrorType: err.errorType,
		Message:   err.message,
		Details:   err.details,
	})
}
