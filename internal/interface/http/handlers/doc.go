// Package handlers holds reusable HTTP pieces: health and readiness checks
// and the middleware shared by every route.
//
// Liveness never touches dependencies. Readiness runs the registered checks in
// parallel; a failing critical check marks the service not ready, a failing
// optional check (such as the shared cache) only marks it degraded:
//
//	checker := handlers.NewCompositeHealthChecker("v1.2.0")
//	checker.AddCheck("store", store.Ping, true)
//	checker.AddCheck("redis", cache.Ping, false)
//
//	status := checker.Check(ctx)
package handlers
