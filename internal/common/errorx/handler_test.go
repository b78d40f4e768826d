package errorx

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

func serve(t *testing.T, handlerErr error) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	h := NewErrorHandler(zap.NewNop())
	r := gin.New()
	r.Use(h.ErrorMiddleware())
	r.GET("/x", func(c *gin.Context) {
		_ = c.Error(handlerErr)
	})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	return w
}

func TestErrorHandler_OAuth2Error(t *testing.T) {
	w := serve(t, ErrInvalidClient)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "invalid_client", body["error"])
}

func TestErrorHandler_ValidationError(t *testing.T) {
	v := &ValidationError{}
	v.Add("client_id", "bad")
	v.Add("scopes", "unknown scope")
	w := serve(t, v)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var body struct {
		Errors []FieldError `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body.Errors, 2)
}

func TestErrorHandler_UnknownErrorHidesDetail(t *testing.T) {
	w := serve(t, errors.New("pq: connection refused at 10.0.0.3"))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "10.0.0.3")
	assert.Contains(t, w.Body.String(), "server_error")
}

func TestRecoveryMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewErrorHandler(zap.NewNop())
	r := gin.New()
	r.Use(h.RecoveryMiddleware())
	r.GET("/p", func(c *gin.Context) { panic("kaboom") })
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/p", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "kaboom")
}

func TestExtractTraceID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Request.Header.Set("X-Trace-Id", "abc")
	assert.Equal(t, "abc", ExtractTraceID(c))
	assert.Equal(t, "abc", c.GetString("trace_id"))
}

func TestExtractTraceID_FromSpan(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tid, err := oteltrace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	sid, err := oteltrace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	sc := oteltrace.NewSpanContext(oteltrace.SpanContextConfig{TraceID: tid, SpanID: sid})

	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	c.Request = req.WithContext(oteltrace.ContextWithSpanContext(req.Context(), sc))
	c.Request.Header.Set("X-Trace-Id", "abc")

	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", ExtractTraceID(c))
}

func TestExtractTraceID_Generated(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	id := ExtractTraceID(c)
	_, err := uuid.Parse(id)
	assert.NoError(t, err)
	assert.Equal(t, id, ExtractTraceID(c))
}
