// Package client is a typed HTTP client for the gateway API.
//
// It mirrors the request surface one-to-one: Token, Deploy, Stop,
// Restart, Extend, Instances, Tasks. Token remembers the returned
// bearer token so subsequent calls authenticate automatically;
// SetToken overrides it for tests that need a stale or foreign token.
//
// Non-2xx responses come back as *APIError carrying the status code
// and the gateway's stable error string, so callers can switch on
// either.
//
//	c := client.New("http://localhost:8080")
//	if _, err := c.Token(ctx, "alice"); err != nil { ... }
//	inst, err := c.Deploy(ctx, "web_task", captchaToken)
package client
