package erc4337

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/go-playground/validator/v10"
)

// DefaultRPCErrorCode is used when a transport failure carries no JSON-RPC code.
const DefaultRPCErrorCode = -32603

// Method-not-found, as returned by bundlers that lack a vendor extension.
const methodNotFoundCode = -32601

// ConfigError reports missing or inconsistent client setup.
type ConfigError struct {
	Msg string
	Err error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("configuration error: %s: %v", e.Msg, e.Err)
	}
	return "configuration error: " + e.Msg
}

func (e *ConfigError) Unwrap() error { return e.Err }

// ValidationError names the first violated field constraint.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation error: " + e.Msg
	}
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Msg)
}

// RPCError is a JSON-RPC failure returned by a bundler or paymaster.
type RPCError struct {
	Method  string
	Code    int
	Message string
	Data    interface{}
}

func (e *RPCError) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("%s failed (code %d): %s (data: %v)", e.Method, e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("%s failed (code %d): %s", e.Method, e.Code, e.Message)
}

// TimeoutError is returned to every waiter of a receipt poll that exceeded its deadline.
type TimeoutError struct {
	Hash    common.Hash
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out after %s waiting for user operation receipt %s", e.Timeout, e.Hash.Hex())
}

// wrapRPCError converts transport errors into *RPCError. Context errors pass through untouched.
func wrapRPCError(method string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	rpcErr := &RPCError{
		Method:  method,
		Code:    DefaultRPCErrorCode,
		Message: err.Error(),
	}

	var codeErr rpc.Error
	if errors.As(err, &codeErr) {
		rpcErr.Code = codeErr.ErrorCode()
	}
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		rpcErr.Data = dataErr.ErrorData()
	}
	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) && len(httpErr.Body) > 0 {
		rpcErr.Data = string(httpErr.Body)
	}
	return rpcErr
}

// IsMethodNotFound reports whether err is a JSON-RPC "method not found" failure.
func IsMethodNotFound(err error) bool {
	var rpcErr *RPCError
	return errors.As(err, &rpcErr) && rpcErr.Code == methodNotFoundCode
}

var validate = validator.New()

// validateStruct runs struct tag validation and reports the first failure.
func validateStruct(v interface{}) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return &ValidationError{
			Field: fe.Field(),
			Msg:   fmt.Sprintf("failed on the '%s' constraint", fe.Tag()),
		}
	}
	return &ValidationError{Msg: err.Error()}
}
