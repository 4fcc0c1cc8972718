// Package clock owns wall-clock formatting and background task plumbing:
// wire-format UTC timestamps, a TaskSet that pins goroutines until
// completion, and an interruptible Sleep.
package clock
