// Package httpapi serves the engine's login, MFA and session operations as
// JSON over HTTP. Routing is gorilla/mux with CORS from rs/cors. Every
// /auth route is throttled per client IP and account routes sit behind the
// bearer guard from package middleware.
package httpapi
