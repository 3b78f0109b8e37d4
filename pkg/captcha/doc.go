// Package captcha gates /deploy behind a human check.
//
// The HTTPVerifier speaks the siteverify form protocol shared by
// reCAPTCHA and Cloudflare Turnstile: POST secret+response as form
// fields, read back {"success": bool}. A rejected token surfaces as
// ErrInvalid, which the gateway maps to 401; transport failures and
// provider outages surface as ordinary errors (500) so a provider
// incident is distinguishable from a bot.
//
// Provider "none" installs a pass-through verifier for local
// development and tests.
package captcha
