// Package scheduler runs the timers behind scheduled and self-destructing
// messages. Each pending schedule is a cancellable background task plus a
// registry entry the owner can list and cancel.
package scheduler
