// Package auth implements credential authentication and session tokens.
//
// A TokenCodec signs and verifies HS256 tokens carrying a subject, string
// claims and role names. The Authenticator registers accounts and exchanges
// credentials for tokens. The Guard validates inbound tokens and resolves a
// Principal for request handlers.
package auth
