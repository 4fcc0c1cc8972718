// Package server implements the event surface: challenge-response auth,
// profiles, the social graph, DMs with X3DH hand-off, messages with
// scheduling and self-destruct, reactions, typing pings and call
// membership. Handlers validate, commit through the store, then fan out
// notifications; they never broadcast state that might roll back.
package server
