package guardsdk

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// APIError is a non-2xx response from the status API.
type APIError struct {
	StatusCode  int    `json:"-"`
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

func (e *APIError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("%d %s", e.StatusCode, e.Code)
	}
	return fmt.Sprintf("%d %s: %s", e.StatusCode, e.Code, e.Description)
}

// parseErrorResponse builds an APIError from a response body. Bodies that
// are not the JSON error shape fall back to the HTTP status text.
func parseErrorResponse(resp *http.Response, body []byte) error {
	e := &APIError{StatusCode: resp.StatusCode}
	if err := json.Unmarshal(body, e); err != nil || e.Code == "" {
		e.Code = http.StatusText(resp.StatusCode)
	}
	return e
}
