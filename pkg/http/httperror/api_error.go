package httperror

import (
	"fmt"
	"net/http"
	"strings"
)

// APIError is returned by the client for a response that is neither
// a success nor one of conveyord's own JSON errors, e.g., from a
// proxy in front of the daemon, or from a daemon too old to know the
// route.
type APIError struct {
	StatusCode int
	Status     string
	Body       string
}

func New(resp *http.Response, body []byte) *APIError {
	return &APIError{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       strings.TrimSpace(string(body)),
	}
}

func (err *APIError) Error() string {
	if err.Body == "" {
		return err.Status
	}
	return fmt.Sprintf("%s (%s)", err.Status, err.Body)
}

// IsUnavailable is true when it's worth trying again later.
func (err *APIError) IsUnavailable() bool {
	switch err.StatusCode {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// IsMissing usually means conveyord doesn't have the endpoint, i.e.,
// it is older than the client.
func (err *APIError) IsMissing() bool {
	return err.StatusCode == http.StatusNotFound
}
