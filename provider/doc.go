// Package provider is a Redis-backed identity provider that implements
// goSession.CredentialGateway without an external service.
//
// Accounts, email and federated-subject indexes, one-time codes and
// throttle counters live in Redis:
//
//	<prefix>:account:<uid>              hash   account record
//	<prefix>:email:<email>              string uid, claimed with SETNX
//	<prefix>:federated:<provider>:<sub> string uid
//	<prefix>:links:<uid>                set    federated keys of uid
//	<prefix>:challenge:<purpose>:<uid>  string one-time code record
//	<prefix>:rl:<scope>:<subject>       string fixed-window counter
//
// Passwords are stored as Argon2id hashes. Sessions are signed identity
// tokens; federated ID tokens are verified against per-issuer public keys.
//
// A Provider models one device's client: it holds the current identity,
// streams it through SubscribeAuthState and can restore it from a saved
// token with Restore.
//
// Every failure is a *goSession.ProviderError. Redis failures carry
// CodeNetworkRequestFailed.
package provider
