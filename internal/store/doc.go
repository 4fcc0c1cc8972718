// Package store persists users, relations, DMs, messages and reactions in
// a single bbolt file. Numeric ids come from bucket sequences, so they are
// monotone per record type. Two index buckets keep the hot queries cheap:
// messages_by_dm orders message ids by (dm, timestamp, id) and backs both
// latest-message lookup and cursor pagination, and reactions_by_message
// groups reaction ids under their message.
package store
