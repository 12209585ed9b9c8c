package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/sorrel/pkg/context"
	matcherrors "github.com/Ramsey-B/sorrel/pkg/errors"
)

func newEcho(handler echo.HandlerFunc) *echo.Echo {
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	e := echo.New()
	e.HTTPErrorHandler = Error(logger)
	e.Use(Context())
	e.Use(Logger(logger))
	e.GET("/ping", handler)
	return e
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestContext_PropagatesRequestAndCompany(t *testing.T) {
	var requestID, companyID, method string
	e := newEcho(func(c echo.Context) error {
		ctx := c.Request().Context()
		requestID = context.GetRequestID(ctx)
		companyID = context.GetCompanyID(ctx)
		method = context.GetMethod(ctx)
		return c.NoContent(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(echo.HeaderXRequestID, "req-1")
	req.Header.Set(HeaderCompanyID, "acme")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "req-1", requestID)
	assert.Equal(t, "acme", companyID)
	assert.Equal(t, http.MethodGet, method)
	assert.Equal(t, "req-1", rec.Header().Get(echo.HeaderXRequestID))
}

func TestContext_GeneratesRequestID(t *testing.T) {
	e := newEcho(func(c echo.Context) error {
		return c.NoContent(http.StatusNoContent)
	})
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))
}

func TestError_Mapping(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		code    int
		message string
	}{
		{
			name:    "http error",
			err:     httperror.NewHTTPError(http.StatusNotFound, "match m1 not found"),
			code:    http.StatusNotFound,
			message: "match m1 not found",
		},
		{
			name: "configuration error",
			err:  matcherrors.NewConfigurationError("weights must sum to 1.0"),
			code: http.StatusUnprocessableEntity,
		},
		{
			name:    "echo error",
			err:     echo.NewHTTPError(http.StatusBadRequest, "bad query"),
			code:    http.StatusBadRequest,
			message: "bad query",
		},
		{
			name:    "plain error",
			err:     errors.New("boom"),
			code:    http.StatusInternalServerError,
			message: "Internal Server Error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEcho(func(c echo.Context) error { return tt.err })
			req := httptest.NewRequest(http.MethodGet, "/ping", nil)
			req.Header.Set(echo.HeaderXRequestID, "req-err")
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			assert.Equal(t, tt.code, rec.Code)
			body := decode(t, rec)
			assert.Equal(t, "req-err", body.RequestID)
			if tt.message != "" {
				assert.Contains(t, body.Message, tt.message)
			}
		})
	}
}

func TestError_ConfigurationProblemsInMeta(t *testing.T) {
	e := newEcho(func(c echo.Context) error {
		return matcherrors.NewConfigurationError("weights must sum to 1.0", "minimum above auto_reject")
	})
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))

	body := decode(t, rec)
	assert.Equal(t, []any{"weights must sum to 1.0", "minimum above auto_reject"}, body.Meta["problems"])
}
