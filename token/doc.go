// Package token issues and verifies the signed identity tokens used by the
// embedded identity provider: session tokens handed to the signed-in device,
// and ID tokens presented by federated sign-in providers.
package token
