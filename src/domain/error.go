package domain

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/ethaccount/useropkit/erc4337"
)

// ErrorCode names a failure class and the HTTP status it maps to.
type ErrorCode struct {
	Name       string
	StatusCode int
}

var (
	ErrorCodeParameterInvalid     = ErrorCode{Name: "PARAMETER_INVALID", StatusCode: http.StatusBadRequest}
	ErrorCodeResourceNotFound     = ErrorCode{Name: "RESOURCE_NOT_FOUND", StatusCode: http.StatusNotFound}
	ErrorCodeAuthPermissionDenied = ErrorCode{Name: "AUTH_PERMISSION_DENIED", StatusCode: http.StatusForbidden}
	ErrorCodeAuthNotAuthenticated = ErrorCode{Name: "AUTH_NOT_AUTHENTICATED", StatusCode: http.StatusUnauthorized}
	ErrorCodeInternalProcess      = ErrorCode{Name: "INTERNAL_PROCESS", StatusCode: http.StatusInternalServerError}
	ErrorCodeRemoteProcess        = ErrorCode{Name: "REMOTE_PROCESS_ERROR", StatusCode: http.StatusBadGateway}
	ErrorCodeTimeout              = ErrorCode{Name: "TIMEOUT", StatusCode: http.StatusGatewayTimeout}
)

// DomainError is the error type the HTTP layer understands. The zero value reads as an
// unknown internal error.
type DomainError struct {
	code       ErrorCode
	err        error
	clientMsg  string
	remoteCode int
	detail     map[string]interface{}
}

type ErrorOption func(*DomainError)

// WithMsg sets the message shown to API clients.
func WithMsg(msg string) ErrorOption {
	return func(e *DomainError) {
		e.clientMsg = msg
	}
}

func WithRemoteCode(code int) ErrorOption {
	return func(e *DomainError) {
		e.remoteCode = code
	}
}

func WithDetail(detail map[string]interface{}) ErrorOption {
	return func(e *DomainError) {
		e.detail = detail
	}
}

func NewError(code ErrorCode, err error, opts ...ErrorOption) error {
	e := DomainError{code: code, err: err}
	for _, opt := range opts {
		opt(&e)
	}
	return e
}

func (e DomainError) Error() string {
	if e.err == nil {
		return e.Name()
	}
	return fmt.Sprintf("%s: %s", e.Name(), e.err.Error())
}

func (e DomainError) Unwrap() error {
	return e.err
}

func (e DomainError) Name() string {
	if e.code.Name == "" {
		return "UNKNOWN_ERROR"
	}
	return e.code.Name
}

func (e DomainError) HTTPStatus() int {
	if e.code.StatusCode == 0 {
		return http.StatusInternalServerError
	}
	return e.code.StatusCode
}

func (e DomainError) ClientMsg() string {
	return e.clientMsg
}

func (e DomainError) RemoteCode() int {
	return e.remoteCode
}

func (e DomainError) Detail() map[string]interface{} {
	return e.detail
}

// FromClientError maps errors returned by the erc4337 and accounts packages to domain errors.
// Errors that already are domain errors pass through unchanged.
func FromClientError(err error) error {
	if err == nil {
		return nil
	}

	var domainErr DomainError
	if errors.As(err, &domainErr) {
		return err
	}

	var (
		validationErr *erc4337.ValidationError
		configErr     *erc4337.ConfigError
		timeoutErr    *erc4337.TimeoutError
		rpcErr        *erc4337.RPCError
	)
	switch {
	case errors.As(err, &validationErr):
		return NewError(ErrorCodeParameterInvalid, err,
			WithMsg(validationErr.Error()),
			WithDetail(map[string]interface{}{"field": validationErr.Field}))
	case errors.As(err, &timeoutErr):
		return NewError(ErrorCodeTimeout, err,
			WithMsg(timeoutErr.Error()),
			WithDetail(map[string]interface{}{"userOpHash": timeoutErr.Hash.Hex()}))
	case errors.As(err, &rpcErr):
		opts := []ErrorOption{WithMsg(rpcErr.Message), WithRemoteCode(rpcErr.Code)}
		if rpcErr.Data != nil {
			opts = append(opts, WithDetail(map[string]interface{}{"method": rpcErr.Method, "data": rpcErr.Data}))
		}
		return NewError(ErrorCodeRemoteProcess, err, opts...)
	case errors.As(err, &configErr):
		return NewError(ErrorCodeInternalProcess, err, WithMsg(configErr.Error()))
	case errors.Is(err, context.DeadlineExceeded):
		return NewError(ErrorCodeTimeout, err, WithMsg("request deadline exceeded"))
	default:
		return NewError(ErrorCodeInternalProcess, err)
	}
}
