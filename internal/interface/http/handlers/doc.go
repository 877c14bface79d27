// Package handlers holds reusable HTTP building blocks for the review API:
// health checks and middleware that carry no knowledge of alerts.
//
// Critical checks gate readiness; optional ones only mark the service degraded:
//
//	checker := handlers.NewCompositeHealthChecker(version)
//	checker.AddCheck("postgres", handlers.NewPingCheck(conn))
//	checker.AddOptionalCheck("redis", handlers.NewPingCheck(cache))
//
// Middleware composes with Chain, outermost first:
//
//	h := handlers.ChainHandler(mux,
//	    handlers.SecurityHeadersMiddleware,
//	    handlers.RequestSizeLimitMiddleware(1<<20),
//	)
package handlers
