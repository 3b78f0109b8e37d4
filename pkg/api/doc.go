// Package api is the gateway's external HTTP surface.
//
// # Routes
//
//	POST /token       issue or reuse a bearer token        200 {token, expires_at}
//	POST /deploy      captcha, quota, deploy, persist      200 {instance}
//	POST /stop        ownership check, stop instance       204
//	POST /restart     ownership check, fresh TTL           204
//	POST /extend      ownership check, push expiry out     204
//	GET  /instances   caller's running instances           200 [...]
//	GET  /tasks       deployable tasks (minus _default)    200 [...]
//	GET  /healthz     component health summary
//	GET  /readyz      critical-backend readiness
//	GET  /metrics     prometheus
//
// All bodies are JSON. Every route below /token requires
// "Authorization: Bearer <token>"; a missing or invalid token is a
// 400 (client error), only a storage failure during validation is a
// 500. Error responses carry {"error": "<stable message>"} with no
// stack traces.
//
// # Error mapping
//
//	bad input, unknown task/instance, over quota   400
//	captcha rejection                              401
//	instance owned by someone else                 403
//	/token flood from one IP                       429
//	storage, allocator, engine failures            500
//
// # Deploy and the quota race
//
// handleDeploy pre-checks the running count for a fast 400, deploys,
// then persists through the store's transactional quota-checked
// insert. When two deploys race past the pre-check, one insert loses,
// and its already-running container is torn down via Deployer.Discard
// before the 400 goes out. Quota is therefore never exceeded at rest.
//
// The middleware chain is recovery → CORS (permissive, credentials
// allowed) → request logging/metrics → per-route auth.
package api
