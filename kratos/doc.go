// Package kratos implements goSession.CredentialGateway over an Ory Kratos
// deployment using its native (API) self-service flows.
//
// The gateway keeps the session token of the signed-in identity in memory
// and sends it as X-Session-Token. Identity deletion goes through the admin
// API and is only allowed while the session was authenticated within
// Config.PrivilegedWindow, mirroring Kratos' own privileged-session rule for
// settings flows.
package kratos
