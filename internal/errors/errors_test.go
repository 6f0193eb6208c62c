package errors

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusCodes(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, NotFound("message").Status)
	assert.Equal(t, http.StatusUnauthorized, Unauthorized("no token").Status)
	assert.Equal(t, http.StatusForbidden, Forbidden("not a participant").Status)
	assert.Equal(t, http.StatusBadRequest, ValidationError("content", "required").Status)
	assert.Equal(t, http.StatusBadRequest, SelfRead().Status)
	assert.Equal(t, http.StatusInternalServerError, InternalError("boom").Status)
	assert.Equal(t, http.StatusTooManyRequests, RateLimited(time.Minute).Status)
	assert.Equal(t, http.StatusInternalServerError, ErrorCode("UNKNOWN").StatusCode())
}

func TestAPIErrorJSONCarriesErrorField(t *testing.T) {
	data, err := json.Marshal(ValidationError("mime_type", "unsupported image type"))
	require.NoError(t, err)

	var body map[string]any
	require.NoError(t, json.Unmarshal(data, &body))
	assert.Equal(t, "unsupported image type", body["error"])
	assert.Equal(t, "VALIDATION_ERROR", body["code"])
	assert.Equal(t, "mime_type", body["field"])
	assert.NotContains(t, body, "Status")
}

func TestAPIErrorMessage(t *testing.T) {
	assert.Equal(t, "NOT_FOUND: conversation not found", NotFound("conversation").Error())
	assert.Equal(t, "VALIDATION_ERROR: too large (field: file)", ValidationError("file", "too large").Error())
}
