package handler

import (
	"context"
	"net/http"
	"reflect"
	"sync"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

type RouterConfig struct {
	Operations Operations
	Health     []HealthCheck
	// Metrics is served at /metrics when set.
	Metrics      http.Handler
	AllowOrigins []string
	// APISecret guards the endpoints that submit operations when set.
	APISecret string
}

var registerValidatorsOnce sync.Once

func registerValidators() {
	registerValidatorsOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
			if value, ok := field.Interface().(decimal.Decimal); ok {
				return value.String()
			}
			return nil
		}, decimal.Decimal{})

		// wei: a non-negative integer amount
		_ = v.RegisterValidation("wei", func(fl validator.FieldLevel) bool {
			value, err := decimal.NewFromString(fl.Field().String())
			if err != nil {
				return false
			}
			return value.IsInteger() && !value.IsNegative()
		})
	})
}

func RegisterRoutes(ctx context.Context, router *gin.Engine, config RouterConfig) {
	registerValidators()

	if len(config.AllowOrigins) > 0 {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowOrigins = config.AllowOrigins
		corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
		corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Requested-With", "X-API-Secret", "X-Request-ID"}
		corsConfig.ExposeHeaders = []string{requestIDHeader}
		corsConfig.AllowCredentials = true
		router.Use(cors.New(corsConfig))
	}

	SetMiddlewares(ctx, router)

	// Swagger documentation
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	if config.Metrics != nil {
		router.GET("/metrics", gin.WrapH(config.Metrics))
	}

	healthHandler := NewHealthHandler(config.Health...)
	userOpHandler := NewUserOpHandler(config.Operations)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/health", healthHandler.HandleHealthCheck)

		v1.POST("/userops/hash", userOpHandler.Hash)
		v1.GET("/userops", userOpHandler.History)
		v1.GET("/userops/:hash", userOpHandler.Status)
		v1.GET("/userops/:hash/receipt", userOpHandler.Receipt)

		submit := v1.Group("")
		if config.APISecret != "" {
			submit.Use(SharedSecretMiddleware(config.APISecret))
		}
		submit.POST("/userops/prepare", userOpHandler.Prepare)
		submit.POST("/userops", userOpHandler.Send)
	}
}
