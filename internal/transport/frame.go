package transport

import "encoding/json"

// request is a client-to-server frame. ID is echoed back in the ack; a
// request without an id gets no ack.
type request struct {
	ID    *int64          `json:"id"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// ack is the server's reply to a request.
type ack struct {
	ID      int64 `json:"id"`
	Success bool  `json:"success"`
	Result  any   `json:"result"`
}

// push is an unsolicited server-to-client notification.
type push struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}
