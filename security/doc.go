// Package security holds the credential and request hardening primitives
// shared by the server: bcrypt secret hashing with timing equalization,
// crypto/rand artifact generation, security audit logging with hashed
// user identifiers, client IP extraction, request IDs and response headers.
package security
