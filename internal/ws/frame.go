package ws

import "encoding/json"

// Event names of the push subscription protocol.
const (
	EventSubscribe = "subscribe"
	EventMessage   = "message"
)

// Frame is one event exchanged over a push connection.
type Frame struct {
	Event string `json:"event"`
	Data  string `json:"data"`
}

// MessageFrame encodes a server "message" event carrying data verbatim.
func MessageFrame(data string) []byte {
	payload, _ := json.Marshal(Frame{Event: EventMessage, Data: data})
	return payload
}
