package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Envelope is the JSON text frame exchanged over the real-time channel:
//
//	{"event":"tip-sent","id":"...","stream":"...","sent_at":1700000000000,"data":{...}}
type Envelope struct {
	Event  Kind            `json:"event"`
	ID     string          `json:"id,omitempty"`
	Stream string          `json:"stream,omitempty"`
	SentAt int64           `json:"sent_at,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// requiredFields lists the keys that must be present in Data for each kind.
// Presence is checked separately from shape so that zero values such as
// isBull=false are still distinguishable from an omitted field.
var requiredFields = map[Kind][]string{
	KindJoinStream:  {"username"},
	KindTipSent:     {"username", "tipAmount"},
	KindTokenTraded: {"username", "tokenIn", "tokenOut"},
	KindVoteCast:    {"username", "voteAmount", "isBull", "promptId"},
	KindCurrentTime: {"requestedAt"},
}

// NewEnvelope wraps a payload for the given stream.
func NewEnvelope(streamID string, p Payload, sentAt time.Time) (*Envelope, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("envelope: marshal %s payload: %w", p.Kind(), err)
	}
	return &Envelope{
		Event:  p.Kind(),
		ID:     uuid.NewString(),
		Stream: streamID,
		SentAt: sentAt.UnixMilli(),
		Data:   data,
	}, nil
}

// DecodeEnvelope parses a raw frame. It does not decode Data.
func DecodeEnvelope(frame []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, malformed("", "invalid envelope", err)
	}
	if env.Event == "" {
		return nil, malformed("", "event name is missing", nil)
	}
	return &env, nil
}

// Marshal encodes the envelope as a text frame.
func (e *Envelope) Marshal() ([]byte, error) { return json.Marshal(e) }

// DecodePayload validates presence and shape of Data and returns the typed payload.
// Every failure is a *MalformedEventError, unknown kinds wrap ErrUnknownKind.
func (e *Envelope) DecodePayload() (Payload, error) {
	kind, ok := ParseKind(string(e.Event))
	if !ok {
		return nil, malformed(e.Event, "unsupported kind", ErrUnknownKind)
	}

	p := newPayload(kind)

	if fields := requiredFields[kind]; len(fields) > 0 {
		var present map[string]json.RawMessage
		if err := json.Unmarshal(e.Data, &present); err != nil {
			return nil, malformed(kind, "data is not an object", err)
		}
		for _, f := range fields {
			v, ok := present[f]
			if !ok || string(v) == "null" {
				return nil, malformed(kind, "missing field "+f, nil)
			}
		}
	}

	if len(e.Data) > 0 {
		if err := json.Unmarshal(e.Data, p); err != nil {
			return nil, malformed(kind, "unexpected field shape", err)
		}
	}

	if err := p.Validate(); err != nil {
		return nil, malformed(kind, "validation failed", err)
	}
	return p, nil
}

// ToEvent decodes the payload and stamps receive-side metadata.
func (e *Envelope) ToEvent(receivedAt time.Time) (Event, error) {
	p, err := e.DecodePayload()
	if err != nil {
		return Event{}, err
	}
	return Event{
		ID:         e.ID,
		StreamID:   e.Stream,
		OccurredAt: e.SentAt,
		ReceivedAt: receivedAt,
		Payload:    p,
	}, nil
}

func newPayload(kind Kind) Payload {
	switch kind {
	case KindJoinStream:
		return &JoinStream{}
	case KindTipSent:
		return &TipSent{}
	case KindTokenTraded:
		return &TokenTraded{}
	case KindVoteCast:
		return &VoteCast{}
	case KindCurrentTime:
		return &TimeSync{}
	case KindConnected:
		return &ConnectedPayload{}
	case KindDisconnected:
		return &DisconnectedPayload{}
	}
	return nil
}
