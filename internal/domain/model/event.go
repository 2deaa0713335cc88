package model

import (
	"time"
)

// Kind is the logical message name used on the wire.
type Kind string

const (
	// [BUSINESS] viewer actions echoed to every overlay of the stream
	KindJoinStream  Kind = "join-stream"
	KindTipSent     Kind = "tip-sent"
	KindTokenTraded Kind = "token-traded"
	KindVoteCast    Kind = "vote-casted"

	// [SYSTEM] transport level signals
	KindCurrentTime  Kind = "current-time"
	KindConnected    Kind = "connected"
	KindDisconnected Kind = "disconnected"
)

// DomainKinds lists the kinds a viewer may emit and an overlay may display.
var DomainKinds = []Kind{KindJoinStream, KindTipSent, KindTokenTraded, KindVoteCast}

func (k Kind) String() string { return string(k) }

// IsDomain reports whether k is a viewer action rather than a system signal.
func (k Kind) IsDomain() bool {
	switch k {
	case KindJoinStream, KindTipSent, KindTokenTraded, KindVoteCast:
		return true
	default:
		return false
	}
}

// ParseKind resolves a wire name into a known Kind.
func ParseKind(s string) (Kind, bool) {
	k := Kind(s)
	switch k {
	case KindJoinStream, KindTipSent, KindTokenTraded, KindVoteCast,
		KindCurrentTime, KindConnected, KindDisconnected:
		return k, true
	default:
		return "", false
	}
}

// Payload is the typed body of a single event kind.
type Payload interface {
	Kind() Kind
	Validate() error
}

// Displayable is a Payload that can be echoed as an overlay notification.
type Displayable interface {
	Payload
	Actor() Viewer
	// Fingerprint identifies the semantic event regardless of delivery attempt.
	Fingerprint() string
	Display() Display
}

// Display is the render-ready form of a notification.
type Display struct {
	Text      string `json:"text"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

// Event is an immutable, decoded viewer event.
//
// Producers attach no sequence number; Seq is the local arrival order
// assigned by the receiving session.
type Event struct {
	ID         string
	StreamID   string
	Seq        uint64
	OccurredAt int64 // unix ms as stamped by the sender, 0 if unknown
	ReceivedAt time.Time
	Payload    Payload
}

func (e Event) Kind() Kind {
	if e.Payload == nil {
		return ""
	}
	return e.Payload.Kind()
}

// Displayable returns the payload as a Displayable when the kind supports it.
func (e Event) Displayable() (Displayable, bool) {
	d, ok := e.Payload.(Displayable)
	return d, ok
}
