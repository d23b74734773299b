// Package router assembles the gin engine of the billing API.
package router

import (
	"github.com/gin-gonic/gin"
)

// APIPrefix is the group every registrar is mounted under.
const APIPrefix = "/api/v1"

// RouteRegistrar is implemented by each handler; it adds its routes to the
// authenticated API group.
type RouteRegistrar interface {
	RegisterRoutes(rg *gin.RouterGroup)
}

// Mount creates the API group with its middleware and lets every registrar
// add routes to it. Registrars run in order, so route conflicts panic at
// startup rather than at request time.
func Mount(engine *gin.Engine, middleware []gin.HandlerFunc, registrars ...RouteRegistrar) *gin.RouterGroup {
	api := engine.Group(APIPrefix, middleware...)
	for _, registrar := range registrars {
		registrar.RegisterRoutes(api)
	}
	return api
}
