// Package session holds per-connection authentication state: the pending
// login challenge, the logged-in identity and the failed-attempt lockout
// counters. Challenge material is zeroed as soon as it is consumed.
package session
