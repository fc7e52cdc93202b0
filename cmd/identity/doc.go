// Package identity owns Sodia's user accounts.
//
// A user is a set of one-to-one rows created atomically: the user itself,
// login details (email and encoded password credential), account settings
// (username, names) and default privacy, notification and challenges rows.
//
// Service layers registration, authentication and password change on top of
// a Store; password hashing and policy come from cmd/security/password.
package identity
