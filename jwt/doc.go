// Package jwt issues and verifies the short-lived access credential paired
// with every refresh family. Tokens carry the user id as subject and the
// rotation family id as sid so a logout can be correlated.
package jwt
