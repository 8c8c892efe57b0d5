package http

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SetupRouter sets up the Gin router
func SetupRouter(handlers *BridgeHandlers, logger *zap.Logger) *gin.Engine {
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(logger))

	router.GET("/healthz", handlers.Health)

	router.GET("/chain", handlers.Chain)
	router.POST("/chain", handlers.Attach)

	router.POST("/inputs", handlers.Inputs)

	grants := router.Group("/grants")
	{
		grants.POST("", handlers.Grants)
		grants.DELETE("", handlers.Revoke)
	}

	router.POST("/decrypt", handlers.Decrypt)

	return router
}
