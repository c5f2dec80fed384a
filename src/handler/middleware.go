package handler

import (
	"context"
	"crypto/subtle"
	"errors"

	"github.com/ethaccount/useropkit/src/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const requestIDHeader = "X-Request-ID"

func SetMiddlewares(ctx context.Context, ginRouter *gin.Engine) {
	ginRouter.Use(LoggerMiddleware(ctx))
}

// LoggerMiddleware attaches a request scoped logger carrying the route and a request id.
func LoggerMiddleware(ctx context.Context) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(requestIDHeader, requestID)

		zlog := zerolog.Ctx(ctx).With().
			Str("path", c.FullPath()).
			Str("method", c.Request.Method).
			Str("request_id", requestID).
			Logger()
		c.Request = c.Request.WithContext(zlog.WithContext(c.Request.Context()))
		c.Next()
	}
}

const apiSecretHeader = "X-API-Secret"

var (
	errMissingAPISecret = errors.New("missing " + apiSecretHeader + " header")
	errInvalidAPISecret = errors.New("invalid API secret")
)

// SharedSecretMiddleware rejects requests whose X-API-Secret header does not match apiSecret.
func SharedSecretMiddleware(apiSecret string) gin.HandlerFunc {
	expected := []byte(apiSecret)
	return func(c *gin.Context) {
		provided := c.GetHeader(apiSecretHeader)
		switch {
		case provided == "":
			respondWithError(c, domain.NewError(domain.ErrorCodeAuthNotAuthenticated, errMissingAPISecret,
				domain.WithMsg("Missing API secret")))
		case subtle.ConstantTimeCompare([]byte(provided), expected) != 1:
			respondWithError(c, domain.NewError(domain.ErrorCodeAuthNotAuthenticated, errInvalidAPISecret,
				domain.WithMsg("Invalid API secret")))
		default:
			c.Next()
		}
	}
}
