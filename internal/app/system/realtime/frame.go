// internal/app/system/realtime/frame.go
package realtime

import "encoding/json"

// AckEvent is the event name of an acknowledgement frame.
const AckEvent = "ack"

// Frame is a client-to-server message. Ack is set when the client wants a
// reply correlated to this frame.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	Ack   *int64          `json:"ack,omitempty"`
}

// WantsAck reports whether the client supplied an acknowledgement id.
func (f Frame) WantsAck() bool { return f.Ack != nil }

// outFrame is a server-to-client message: a pushed event or an ack reply.
type outFrame struct {
	Event string `json:"event"`
	Ack   *int64 `json:"ack,omitempty"`
	Data  any    `json:"data,omitempty"`
}

func encode(event string, ack *int64, payload any) ([]byte, error) {
	return json.Marshal(outFrame{Event: event, Ack: ack, Data: payload})
}
