// Package transport carries the JSON event protocol over websockets.
// Clients send {"id", "event", "data"} requests and receive {"id",
// "success", "result"} acks plus {"event", "data"} pushes. The hub owns
// connection and room state and is the broadcast surface for the rest of
// the server.
package transport
