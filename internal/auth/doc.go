// Package auth authenticates gateway clients and tracks authenticated connections.
//
// # Credentials
//
// Two credential kinds are accepted wherever a token is presented:
//
//   - Static tokens: the process-wide TokenSet loaded from auth.tokens.
//     Every token must be at least MinTokenLength characters. The set is
//     immutable for the life of the process.
//
//   - JWT tokens: HS256 tokens signed with auth.jwt_secret. The "sub" claim
//     becomes the identity subject. An expired JWT is reported separately so
//     clients can refresh instead of retrying.
//
// Authenticator combines both and returns an Identity.
//
// # Sessions
//
// Sessions tracks authenticated connections. The gateway adds a connection id
// after a successful auth action and removes it on disconnect. Chat and ping
// actions are only served for connection ids present in the set.
//
// # HTTP
//
// BearerMiddleware authenticates "Authorization: Bearer <token>" requests and
// stores the Identity in the request context (WithIdentity / FromContext).
package auth
