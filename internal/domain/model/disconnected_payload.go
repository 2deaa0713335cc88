package model

var _ Payload = (*DisconnectedPayload)(nil)

// DisconnectedPayload represents the notification sent before the server closes the stream.
type DisconnectedPayload struct {
	Reason string `json:"reason"`
	Code   string `json:"code,omitempty"` // Optional: "SHUTDOWN", "EVICTED", "SLOW_CONSUMER"
}

func (p *DisconnectedPayload) Kind() Kind      { return KindDisconnected }
func (p *DisconnectedPayload) Validate() error { return nil }
