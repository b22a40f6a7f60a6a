package request

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"syncline/internal/domain"
	"syncline/internal/models"
)

// APIError is the structured error every failed request surfaces. The class
// is assigned exactly once, at this boundary.
type APIError struct {
	Class      string            `json:"class"`
	StatusCode int               `json:"status_code,omitempty"`
	Message    string            `json:"message"`
	Fields     map[string]string `json:"fields,omitempty"`

	// Silent suppresses user-facing surfacing for this call.
	Silent bool `json:"-"`

	Err error `json:"-"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Class, e.Message)
}

func (e *APIError) Unwrap() error { return e.Err }

// Stable user-facing messages per class.
var classMessages = map[string]string{
	models.ErrClassConnectivity: "No connection. Your changes will sync when you're back online.",
	models.ErrClassUnauthorized: "Your session has expired. Please sign in again.",
	models.ErrClassForbidden:    "You don't have permission to do that.",
	models.ErrClassNotFound:     "The requested record could not be found.",
	models.ErrClassValidation:   "Some fields need attention before saving.",
	models.ErrClassServerError:  "The server ran into a problem. Please try again shortly.",
	models.ErrClassUnknown:      "Something went wrong. Please try again.",
}

// Classify maps a transport failure into an APIError. Only connectivity
// failures are recoverable via the offline path.
func Classify(err error) *APIError {
	var te *domain.TransportError
	if !errors.As(err, &te) {
		return &APIError{
			Class:   models.ErrClassUnknown,
			Message: classMessages[models.ErrClassUnknown],
			Err:     err,
		}
	}

	if te.Connectivity {
		return &APIError{
			Class:   models.ErrClassConnectivity,
			Message: classMessages[models.ErrClassConnectivity],
			Err:     err,
		}
	}

	class := models.ErrClassUnknown
	switch {
	case te.StatusCode == http.StatusUnauthorized:
		class = models.ErrClassUnauthorized
	case te.StatusCode == http.StatusForbidden:
		class = models.ErrClassForbidden
	case te.StatusCode == http.StatusNotFound:
		class = models.ErrClassNotFound
	case te.StatusCode == http.StatusUnprocessableEntity:
		class = models.ErrClassValidation
	case te.StatusCode >= 500:
		class = models.ErrClassServerError
	}

	apiErr := &APIError{
		Class:      class,
		StatusCode: te.StatusCode,
		Message:    classMessages[class],
		Err:        err,
	}
	if class == models.ErrClassValidation {
		apiErr.Fields = extractFieldErrors(te.Body)
	}
	return apiErr
}

// extractFieldErrors pulls per-field detail out of a 422 body. Both
// {"errors": {"field": "msg"}} and {"errors": {"field": ["msg", ...]}}
// upstream shapes are accepted.
func extractFieldErrors(body []byte) map[string]string {
	if len(body) == 0 {
		return nil
	}
	var envelope struct {
		Errors map[string]json.RawMessage `json:"errors"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || len(envelope.Errors) == 0 {
		return nil
	}

	fields := make(map[string]string, len(envelope.Errors))
	for name, raw := range envelope.Errors {
		var single string
		if err := json.Unmarshal(raw, &single); err == nil {
			fields[name] = single
			continue
		}
		var many []string
		if err := json.Unmarshal(raw, &many); err == nil && len(many) > 0 {
			fields[name] = many[0]
		}
	}
	if len(fields) == 0 {
		return nil
	}
	return fields
}
