package query

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	httperr "github.com/tagsift-lab/tagsift/internal/core/errors"
	"github.com/tagsift-lab/tagsift/internal/core/storage/memory"
)

func testRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	profiles, aggregates := seedStores(t)
	svc := NewService(profiles, aggregates, time.Minute, 4)

	r := gin.New()
	svc.RegisterRoutes(r)
	return r
}

func TestHandleGetAggregates_Success(t *testing.T) {
	r := testRouter(t)

	req := httptest.NewRequest(http.MethodGet,
		"/v1/aggregates?time_range=2022-03-22T12:15:00_2022-03-22T12:18:00&action=BUY&origin=site-a&aggregates=COUNT&aggregates=SUM_PRICE",
		nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)

	var body AggregatesResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	require.Equal(t, []string{"1m_bucket", "action", "origin", "count", "sum_price"}, body.Columns)
	require.Len(t, body.Rows, 3)
	require.Equal(t, []string{"2022-03-22T12:15:00", "BUY", "site-a", "3", "30"}, body.Rows[0])
	require.Equal(t, int64(4), body.Totals.Count)
}

func TestHandleGetAggregates_InvalidRange(t *testing.T) {
	r := testRouter(t)

	cases := []struct {
		name  string
		query string
	}{
		{"missing", "action=BUY"},
		{"end before start", "time_range=2022-03-22T12:18:00_2022-03-22T12:15:00&action=BUY"},
		{"exceeds ten minutes", "time_range=2022-03-22T12:00:00_2022-03-22T12:11:00&action=BUY"},
		{"sub-minute endpoint", "time_range=2022-03-22T12:15:30_2022-03-22T12:18:00&action=BUY"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/aggregates?"+tc.query, nil)
			resp := httptest.NewRecorder()
			r.ServeHTTP(resp, req)

			require.Equal(t, http.StatusBadRequest, resp.Code)

			var errResp httperr.ErrorResponse
			json.Unmarshal(resp.Body.Bytes(), &errResp)
			require.Equal(t, httperr.HttpInvalidQuery, errResp.ErrorType)
		})
	}
}

func TestHandleGetAggregates_InvalidAction(t *testing.T) {
	r := testRouter(t)

	req := httptest.NewRequest(http.MethodGet,
		"/v1/aggregates?time_range=2022-03-22T12:15:00_2022-03-22T12:18:00&action=CLICK",
		nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	require.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestHandleGetAggregates_BudgetExpiry(t *testing.T) {
	gin.SetMode(gin.TestMode)

	svc := NewService(memory.NewProfileStore(), &stallStore{}, 20*time.Millisecond, 4)
	r := gin.New()
	svc.RegisterRoutes(r)

	req := httptest.NewRequest(http.MethodGet,
		"/v1/aggregates?time_range=2022-03-22T12:15:00_2022-03-22T12:18:00&action=BUY",
		nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	require.Equal(t, http.StatusGatewayTimeout, resp.Code)

	var body AggregatesResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	require.True(t, body.Partial)
}

func TestHandleGetProfile_Success(t *testing.T) {
	r := testRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/user_profiles/cookie-1?limit=2", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)

	var body ProfileResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	require.Equal(t, "cookie-1", body.Cookie)
	require.Len(t, body.Buys, 2)
	require.Equal(t, "evt-3", body.Buys[0].EventID)
}

func TestHandleGetProfile_TimeRangeMillis(t *testing.T) {
	r := testRouter(t)

	req := httptest.NewRequest(http.MethodGet,
		"/v1/user_profiles/cookie-1?time_range=2022-03-22T12:15:00.000_2022-03-22T12:16:00.000",
		nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)

	var body ProfileResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	require.Len(t, body.Buys, 3)
}

func TestHandleGetProfile_InvalidLimit(t *testing.T) {
	r := testRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/user_profiles/cookie-1?limit=-1", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	require.Equal(t, http.StatusBadRequest, resp.Code)
}
