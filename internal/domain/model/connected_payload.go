package model

var _ Payload = (*ConnectedPayload)(nil)

// ConnectedPayload completes the transport handshake. ServerTime lets the
// client seed its clock offset before the first current-time round trip.
type ConnectedPayload struct {
	Ok            bool   `json:"ok"`
	ConnectionID  string `json:"connectionId"`
	StreamID      string `json:"streamId"`
	ServerVersion string `json:"serverVersion"`
	ServerTime    int64  `json:"serverTime"`
}

func (p *ConnectedPayload) Kind() Kind      { return KindConnected }
func (p *ConnectedPayload) Validate() error { return nil }
