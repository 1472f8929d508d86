package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/rhuss/tensorgate/pkg/api"
)

// maxErrorBody bounds how much of an error response is read.
const maxErrorBody = 64 << 10

// MapHTTPError converts a non-2xx upstream response into an APIError. The
// upstream's {"error": ...} message is kept when present.
func MapHTTPError(resp *http.Response) *api.APIError {
	message := ExtractErrorMessage(resp.Body)

	switch resp.StatusCode {
	case http.StatusBadRequest:
		if message == "" {
			message = "invalid request to upstream"
		}
		return api.NewInvalidArgumentError("", message)

	case http.StatusNotFound:
		if message == "" {
			message = "upstream resource not found"
		}
		return api.NewNotFoundError(message)

	case http.StatusUnauthorized, http.StatusForbidden:
		// The client authenticated with us; upstream rejecting our own
		// credentials is a gateway fault.
		if message == "" {
			message = "upstream authentication failed"
		}
		return api.NewUpstreamError(http.StatusBadGateway, message)

	case http.StatusServiceUnavailable:
		if message == "" {
			message = "upstream unavailable"
		}
		return api.NewUnavailableError(message)

	default:
		if message == "" {
			message = fmt.Sprintf("upstream returned status %d", resp.StatusCode)
		}
		return api.NewUpstreamError(resp.StatusCode, message)
	}
}

// MapNetworkError converts a transport failure into an APIError.
func MapNetworkError(err error) *api.APIError {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return api.NewUnavailableError("upstream request timed out")
	case errors.Is(err, context.Canceled):
		return api.NewUnavailableError("request cancelled")
	default:
		return api.NewUnavailableError(fmt.Sprintf("upstream unreachable: %v", err))
	}
}

// ExtractErrorMessage reads an {"error": "..."} body. It returns the raw
// body text when it is not JSON, and "" when the body is empty.
func ExtractErrorMessage(body io.Reader) string {
	if body == nil {
		return ""
	}
	data, err := io.ReadAll(io.LimitReader(body, maxErrorBody))
	if err != nil || len(data) == 0 {
		return ""
	}
	var errResp struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error != "" {
		return errResp.Error
	}
	return string(data)
}
