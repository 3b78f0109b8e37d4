// Package session issues and validates the opaque bearer tokens that
// authenticate every non-token API call.
//
// Tokens are UUID-v4 strings persisted in the sessions table with an
// absolute expiry. A session authenticates iff now < expires_at;
// expired rows stay in the store but never validate, and nothing
// refreshes a token implicitly — clients re-POST /token.
//
// Issue is idempotent while a user holds a live session: the same
// token and its original expiry come back, so a client hammering
// /token cannot mint itself an endless supply.
//
// # Usage
//
//	sessions := session.NewManager(st, cfg.SessionTTL(), broker)
//
//	sess, err := sessions.Issue(ctx, "alice")
//	user, err := sessions.Validate(ctx, bearerToken) // nil, nil when invalid
//
// # Integration Points
//
//   - pkg/api calls Issue from POST /token and Validate from the auth
//     middleware on every protected route.
//   - pkg/store owns the rows; validation is a joined unexpired lookup.
package session
