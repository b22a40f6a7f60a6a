package request

import (
	"errors"
	"fmt"
	"testing"

	"syncline/internal/domain"
	"syncline/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		class string
	}{
		{"connectivity", &domain.TransportError{Connectivity: true, Err: errors.New("dial tcp: timeout")}, models.ErrClassConnectivity},
		{"unauthorized", &domain.TransportError{StatusCode: 401}, models.ErrClassUnauthorized},
		{"forbidden", &domain.TransportError{StatusCode: 403}, models.ErrClassForbidden},
		{"not found", &domain.TransportError{StatusCode: 404}, models.ErrClassNotFound},
		{"validation", &domain.TransportError{StatusCode: 422}, models.ErrClassValidation},
		{"server error", &domain.TransportError{StatusCode: 500}, models.ErrClassServerError},
		{"bad gateway", &domain.TransportError{StatusCode: 502}, models.ErrClassServerError},
		{"unmapped status", &domain.TransportError{StatusCode: 418}, models.ErrClassUnknown},
		{"plain error", errors.New("boom"), models.ErrClassUnknown},
		{"wrapped transport error", fmt.Errorf("request failed: %w", &domain.TransportError{StatusCode: 403}), models.ErrClassForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			apiErr := Classify(tt.err)
			assert.Equal(t, tt.class, apiErr.Class)
			assert.NotEmpty(t, apiErr.Message)
		})
	}
}

func TestClassifyKeepsCause(t *testing.T) {
	cause := &domain.TransportError{StatusCode: 404}
	apiErr := Classify(cause)
	assert.ErrorIs(t, apiErr, error(cause))
	assert.Equal(t, 404, apiErr.StatusCode)
}

func TestExtractFieldErrors(t *testing.T) {
	t.Run("string values", func(t *testing.T) {
		apiErr := Classify(&domain.TransportError{
			StatusCode: 422,
			Body:       []byte(`{"errors":{"name":"is required","email":"is invalid"}}`),
		})
		require.Equal(t, models.ErrClassValidation, apiErr.Class)
		assert.Equal(t, "is required", apiErr.Fields["name"])
		assert.Equal(t, "is invalid", apiErr.Fields["email"])
	})

	t.Run("array values take the first message", func(t *testing.T) {
		apiErr := Classify(&domain.TransportError{
			StatusCode: 422,
			Body:       []byte(`{"errors":{"name":["is required","must be unique"]}}`),
		})
		assert.Equal(t, "is required", apiErr.Fields["name"])
	})

	t.Run("malformed body yields no fields", func(t *testing.T) {
		apiErr := Classify(&domain.TransportError{StatusCode: 422, Body: []byte(`not json`)})
		assert.Nil(t, apiErr.Fields)
	})
}
