package handler

import (
	"errors"
	"net/http"

	"github.com/ethaccount/useropkit/src/domain"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// StandardResponse represents the standard API response format
type StandardResponse struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Error   interface{} `json:"error,omitempty"`
}

// respondWithSuccess sends a successful response with the standard format
func respondWithSuccess(c *gin.Context, data interface{}) {
	respondWithSuccessAndStatus(c, http.StatusOK, data)
}

// respondWithSuccessAndStatus sends a successful response with custom HTTP status
func respondWithSuccessAndStatus(c *gin.Context, httpStatus int, data interface{}, message ...string) {
	msg := "OK"
	if len(message) > 0 && message[0] != "" {
		msg = message[0]
	}

	c.JSON(httpStatus, StandardResponse{
		Code:    0,
		Message: msg,
		Data:    data,
	})
}

// respondWithError sends an error response with the standard format
func respondWithError(c *gin.Context, err error) {
	domainErr := parseDomainError(err)

	// Use the original error message if the domain error has no client message
	message := domainErr.ClientMsg()
	if message == "" {
		message = err.Error()
	}

	response := StandardResponse{
		Code:    mapDomainErrorToCode(domainErr),
		Message: message,
	}
	if detail := errorDetail(domainErr); detail != nil {
		response.Error = detail
	}

	status := domainErr.HTTPStatus()
	level := zerolog.WarnLevel
	if status >= http.StatusInternalServerError {
		level = zerolog.ErrorLevel
	}
	zerolog.Ctx(c.Request.Context()).WithLevel(level).
		Str("function", "respondWithError").
		Int("error_code", response.Code).
		Err(err).
		Msg(response.Message)

	_ = c.Error(err)
	c.AbortWithStatusJSON(status, response)
}

// errorDetail merges the domain error detail with the remote JSON-RPC code, if any.
func errorDetail(domainErr domain.DomainError) map[string]interface{} {
	detail := domainErr.Detail()
	if domainErr.RemoteCode() == 0 {
		return detail
	}
	merged := make(map[string]interface{}, len(detail)+1)
	for k, v := range detail {
		merged[k] = v
	}
	merged["remoteCode"] = domainErr.RemoteCode()
	return merged
}

// parseDomainError extracts domain error information
func parseDomainError(err error) domain.DomainError {
	var domainError domain.DomainError
	// An empty domain.DomainError reads as an unknown internal error.
	_ = errors.As(err, &domainError)
	return domainError
}

// mapDomainErrorToCode maps domain error codes to API response codes
func mapDomainErrorToCode(domainErr domain.DomainError) int {
	switch domainErr.Name() {
	case domain.ErrorCodeParameterInvalid.Name:
		return 1001
	case domain.ErrorCodeResourceNotFound.Name:
		return 1002
	case domain.ErrorCodeAuthPermissionDenied.Name:
		return 1003
	case domain.ErrorCodeAuthNotAuthenticated.Name:
		return 1004
	case domain.ErrorCodeInternalProcess.Name:
		return 1005
	case domain.ErrorCodeRemoteProcess.Name:
		return 1006
	case domain.ErrorCodeTimeout.Name:
		return 1007
	default:
		return 1000 // Generic error code
	}
}
