// Package auth issues and verifies the bearer tokens that protect the
// bridge's HTTP API.
//
// Tokens are HS256 JWTs carrying a subject and a role. Viewers may read;
// operators may also send device commands. There is no user database:
// tokens are minted offline with haierbridge -issue-token and checked
// by signature and expiry only.
package auth
