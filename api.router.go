package main

import (
	"github.com/julienschmidt/httprouter"
)

// MiddlewareMap contains middlwares chain to
// use for public-facing and ops requests.
type MiddlewareMap struct {
	public MiddlewareFunc
	ops    MiddlewareFunc
}

// SetupRoutes enforces the api routes. Ops endpoints are only
// registered when enabled, since they expose process internals.
func (api *APIHandler) SetupRoutes(router *httprouter.Router, m *MiddlewareMap) *httprouter.Router {
	router = api.SetupLibraryRoutes(router, m)
	if api.config != nil && api.config.OpsEndpointsEnable {
		router = api.SetupOpsRoutes(router, m)
	}
	return router
}
