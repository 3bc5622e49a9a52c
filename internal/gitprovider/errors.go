package gitprovider

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	appErr "github.com/forgeops/engine/pkg/errors"
)

// classifyStatus maps a provider HTTP status to the error taxonomy:
// 401/403 unauthorized, 409/422 conflict, 502/503/504 unavailable,
// everything else unknown with the message preserved.
func classifyStatus(provider string, status int, message string) *appErr.AppError {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return appErr.Newf(appErr.CodeProviderUnauthorized,
			"%s token invalid or missing required scope (%d): %s", provider, status, message)
	case status == http.StatusConflict || status == http.StatusUnprocessableEntity:
		return appErr.Newf(appErr.CodeProviderConflict,
			"%s repository name already taken (%d): %s", provider, status, message)
	case status == http.StatusBadGateway || status == http.StatusServiceUnavailable || status == http.StatusGatewayTimeout:
		return appErr.Newf(appErr.CodeProviderUnavailable,
			"%s temporarily unavailable (%d)", provider, status)
	default:
		return appErr.Newf(appErr.CodeUnknown, "%s API error (%d): %s", provider, status, message)
	}
}

// apiMessage extracts a human-readable message from a provider error body.
// GitHub returns {"message": "..."}; GitLab may return {"message": "..."} or
// {"message": {"path": ["has already been taken"], ...}}.
func apiMessage(body []byte) string {
	var wrapper struct {
		Message json.RawMessage `json:"message"`
		Error   string          `json:"error"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return strings.TrimSpace(string(body))
	}
	if len(wrapper.Message) > 0 {
		var s string
		if json.Unmarshal(wrapper.Message, &s) == nil {
			return s
		}
		var fields map[string][]string
		if json.Unmarshal(wrapper.Message, &fields) == nil {
			parts := make([]string, 0, len(fields))
			for k, vals := range fields {
				parts = append(parts, fmt.Sprintf("%s: %s", k, strings.Join(vals, ", ")))
			}
			return strings.Join(parts, "; ")
		}
		return string(wrapper.Message)
	}
	if wrapper.Error != "" {
		return wrapper.Error
	}
	return strings.TrimSpace(string(body))
}

// isNameTaken reports whether a GitLab error body describes a path/name
// namespace collision. GitLab surfaces these as field errors containing
// "has already been taken".
func isNameTaken(body []byte) bool {
	msg := apiMessage(body)
	return strings.Contains(msg, "already been taken") || strings.Contains(msg, "taken")
}
