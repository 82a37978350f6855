package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testCacheClearRequest struct {
	Action string `validate:"required,oneof=clear-all clear-layer"`
	Layer  string `validate:"omitempty,oneof=hot warm cold"`
}

func TestValidationMiddleware_SkipsBodylessMethods(t *testing.T) {
	called := false
	handler := ValidationMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	req := httptest.NewRequest(http.MethodGet, "/cache/stats", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)
	assert.True(t, called)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestValidationMiddleware_RejectsWrongContentType(t *testing.T) {
	handler := ValidationMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be reached")
	}))
	req := httptest.NewRequest(http.MethodPost, "/cache/clear", nil)
	req.Header.Set("Content-Type", "text/plain")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestValidationMiddleware_RejectsOversizedBody(t *testing.T) {
	handler := ValidationMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be reached")
	}))
	req := httptest.NewRequest(http.MethodPost, "/cache/clear", nil)
	req.ContentLength = 2 << 20
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestValidateStruct_PassesOnValidRequest(t *testing.T) {
	req := testCacheClearRequest{Action: "clear-layer", Layer: "hot"}
	assert.NoError(t, ValidateStruct(req))
}

func TestValidateStruct_FailsOnUnrecognizedAction(t *testing.T) {
	req := testCacheClearRequest{Action: "bogus-action"}
	err := ValidateStruct(req)
	require.Error(t, err)
}

func TestValidateStruct_FailsOnUnrecognizedLayer(t *testing.T) {
	req := testCacheClearRequest{Action: "clear-layer", Layer: "lukewarm"}
	err := ValidateStruct(req)
	require.Error(t, err)
}

func TestFormatValidationErrors_NamesOffendingFieldAndHint(t *testing.T) {
	err := ValidateStruct(testCacheClearRequest{Action: "bogus-action"})
	require.Error(t, err)

	formatted := FormatValidationErrors(err)
	require.Len(t, formatted, 1)
	assert.Equal(t, "Action", formatted[0].Field)
	assert.Equal(t, "oneof", formatted[0].Issue)
	assert.Contains(t, formatted[0].Hint, "Must be one of")
}
