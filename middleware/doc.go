// Package middleware adapts access-token validation to net/http.
//
// [Guard] reads the Authorization bearer token, calls ValidateAccess and
// stores the result in the request context for [AuthResultFromContext].
// It makes no decisions of its own beyond pass or reject.
package middleware
