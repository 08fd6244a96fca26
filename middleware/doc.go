// Package middleware adapts a goAbuse.Engine to net/http.
//
// [Limit] runs one Engine.Check per request. Denials become 429 responses with
// a Retry-After header and a JSON body:
//
//	{"error":"abuse_throttled","tier":"temporary","message":"...","retry_after":3600}
//
// Store failures become 503 {"error":"limiter_unavailable"} under FailClosed
// (the default) or pass through under FailOpen.
//
// # Keys
//
//   - [KeyByIP] keys on the client address.
//   - [KeyBySubject] keys on the sub claim of an HS256 bearer token.
//   - [KeyByFormValue] keys on a submitted field, such as an email address.
//
// # What this package must NOT do
//
//   - Decide allow or deny itself. Every decision comes from Engine.Check.
//   - Access Redis directly.
//   - Authorize requests. KeyBySubject only identifies the caller.
package middleware
