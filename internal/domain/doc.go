// Package domain defines whisperd's core entities and the interfaces
// between layers.
//
// It contains:
//   - Persistent entities (User, DM, Message, Reaction, relations) with
//     their wire JSON shapes.
//   - Transient records (ScheduledMessage, X3DHBundle).
//   - The Store and Broadcaster interfaces implemented by
//     internal/store and internal/transport.
//   - The Error taxonomy used by the event dispatcher.
package domain
