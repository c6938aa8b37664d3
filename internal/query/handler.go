package query

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	v1 "github.com/tagsift-lab/tagsift/internal/api/v1"
	httperr "github.com/tagsift-lab/tagsift/internal/core/errors"
	"github.com/tagsift-lab/tagsift/internal/core/storage"
)

// RegisterRoutes registers the query API routes.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.GET("/v1/user_profiles/:cookie", s.HandleGetProfile)
	r.GET("/v1/aggregates", s.HandleGetAggregates)
}

// HandleGetAggregates handles GET /v1/aggregates.
// Query parameters: time_range (required), action (required),
// origin / brand_id / category_id (optional filters), aggregates (repeated,
// COUNT and/or SUM_PRICE, defaults to both).
func (s *Service) HandleGetAggregates(c *gin.Context) {
	timeRange, err := v1.ParseBucketRange(c.Query("time_range"))
	if err != nil {
		badQuery(c, "Invalid time_range", err)
		return
	}

	action, err := v1.ParseAction(c.Query("action"))
	if err != nil {
		badQuery(c, "Invalid action", err)
		return
	}

	req := AggregatesRequest{
		Range:      timeRange,
		Action:     action,
		Origin:     optionalQuery(c, "origin"),
		BrandID:    optionalQuery(c, "brand_id"),
		CategoryID: optionalQuery(c, "category_id"),
	}

	for _, raw := range c.QueryArray("aggregates") {
		metric, err := ParseMetric(raw)
		if err != nil {
			badQuery(c, "Invalid aggregates parameter", err)
			return
		}
		req.Metrics = append(req.Metrics, metric)
	}

	resp, err := s.GetAggregates(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, httperr.ErrQueryTimeout) {
			// The budget ran out. The partial rows are still useful, so
			// they ride along with the timeout status.
			c.JSON(http.StatusGatewayTimeout, resp)
			return
		}
		c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
			ErrorType: httperr.HttpInternalError,
			Message:   "Failed to query aggregates",
			Details:   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// HandleGetProfile handles GET /v1/user_profiles/:cookie.
// Query parameters: time_range (optional, millisecond precision),
// limit (optional, capped at the profile bound).
func (s *Service) HandleGetProfile(c *gin.Context) {
	cookie := c.Param("cookie")
	if cookie == "" {
		badQuery(c, "Missing cookie", errors.New("cookie path parameter is required"))
		return
	}

	var timeRange v1.TimeRange
	if raw, ok := c.GetQuery("time_range"); ok {
		parsed, err := v1.ParseTimeRange(raw)
		if err != nil {
			badQuery(c, "Invalid time_range", err)
			return
		}
		timeRange = parsed
	}

	limit := storage.ProfileLimit
	if raw, ok := c.GetQuery("limit"); ok {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			badQuery(c, "Invalid limit", errors.New("limit must be a positive integer"))
			return
		}
		limit = parsed
	}

	resp, err := s.GetProfile(c.Request.Context(), cookie, timeRange, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
			ErrorType: httperr.HttpInternalError,
			Message:   "Failed to query profile",
			Details:   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, resp)
}

func optionalQuery(c *gin.Context, name string) *string {
	if value, ok := c.GetQuery(name); ok {
		return &value
	}
	return nil
}

func badQuery(c *gin.Context, message string, err error) {
	c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
		ErrorType: httperr.HttpInvalidQuery,
		Message:   message,
		Details:   err.Error(),
	})
}
