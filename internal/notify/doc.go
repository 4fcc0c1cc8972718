// Package notify maps usernames to live connections and routes
// server-to-client notifications into per-user and per-DM rooms. It also
// replays X3DH bundles that were queued while the target was offline.
package notify
