// Package keys owns the RSA key that signs every ID token.
//
// A KeySet is created once at process start (generated, read from a PEM file,
// or fetched from AWS Secrets Manager) and shared by every request. Relying
// parties fetch the public half from the JWKS endpoint.
package keys
