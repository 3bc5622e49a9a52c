package types

import (
	"errors"
	"net/http"

	appErr "github.com/forgeops/engine/pkg/errors"
)

func FromAppError(err error) *APIError {
	if err == nil {
		return nil
	}
	var e *appErr.AppError
	if errors.As(err, &e) {
		return &APIError{Code: string(e.Code), Message: e.Message}
	}
	return &APIError{Code: string(appErr.CodeUnknown), Message: err.Error()}
}

// HTTPStatus maps an application error to a response status. Provider codes
// map to 502 since the failure happened upstream of this service.
func HTTPStatus(err error) int {
	switch appErr.CodeOf(err) {
	case appErr.CodeInvalid:
		return http.StatusBadRequest
	case appErr.CodeNotFound:
		return http.StatusNotFound
	case appErr.CodeForbidden:
		return http.StatusForbidden
	case appErr.CodeConflict, appErr.CodeProviderConflict,
		appErr.CodeNoRollbackTarget, appErr.CodeApprovalNotPending:
		return http.StatusConflict
	case appErr.CodeCredentialMissing, appErr.CodeCredentialInvalid:
		return http.StatusUnprocessableEntity
	case appErr.CodeProviderUnauthorized, appErr.CodeProviderUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
